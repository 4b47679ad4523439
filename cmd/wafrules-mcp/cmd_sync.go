package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gen0sec/wafrules-mcp/pkg/config"
	"github.com/gen0sec/wafrules-mcp/pkg/corpus"
	"github.com/gen0sec/wafrules-mcp/pkg/engine"
	"github.com/gen0sec/wafrules-mcp/pkg/ui"
	"github.com/gen0sec/wafrules-mcp/pkg/upstream"
)

// runSync performs one sync-and-index cycle and exits. Useful for
// prefetching the corpus in CI or when baking container images, so the
// server starts with a warm mirror.
func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	configPath := fs.String("config", envOrDefault("WAFRULES_CONFIG", ""), "Path to YAML configuration file")
	storage := fs.String("storage", "", "Storage path for the template mirror (overrides config)")
	target := fs.String("target", "", "Corpus version to sync to, e.g. v10.3.5 (overrides config)")
	auto := fs.Bool("latest", false, "Sync to the latest upstream release")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wafrules-mcp sync [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Download the template corpus, build the CVE index once, and exit.\n")
		fmt.Fprintf(os.Stderr, "A mirror already at the target version is left untouched.\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  wafrules-mcp sync --storage /data\n")
		fmt.Fprintf(os.Stderr, "  wafrules-mcp sync --target v10.4.0\n")
		fmt.Fprintf(os.Stderr, "  wafrules-mcp sync --latest\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *storage != "" {
		cfg.StoragePath = *storage
	}
	if *target != "" {
		cfg.TemplateVersion = *target
		cfg.AutoUpdate = false
	}
	if *auto {
		cfg.AutoUpdate = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	configureLogging(cfg)

	ui.PrintBanner()
	ui.PrintConfigLine("storage", cfg.StoragePath)
	ui.PrintConfigLine("corpus", cfg.TemplateRepo)
	ui.PrintConfigLine("target", targetLabel(cfg))
	ui.PrintConfigLine("fetch timeout", cfg.FetchTimeout().String())
	fmt.Fprintln(os.Stderr)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		ui.PrintError(fmt.Sprintf("storage path %q: %v", cfg.StoragePath, err))
		os.Exit(1)
	}

	store := corpus.NewStore(cfg.StoragePath)
	gh := upstream.NewGitHub(cfg.RepoOwner(), cfg.RepoName())
	eng := engine.New(engine.Config{
		Store:         store,
		Fetcher:       corpus.NewFetcher(store, gh, cfg.FetchTimeout()),
		Upstream:      gh,
		TargetVersion: cfg.TemplateVersion,
		AutoUpdate:    cfg.AutoUpdate,
	})

	if removed, err := store.CleanStaging(); err != nil {
		ui.PrintWarning(fmt.Sprintf("staging cleanup: %v", err))
	} else if len(removed) > 0 {
		ui.PrintInfo(fmt.Sprintf("removed %d stale staging artifacts", len(removed)))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	report := eng.RunOnce(ctx)

	switch report.Sync.Outcome {
	case corpus.OutcomeFailed:
		ui.PrintError(fmt.Sprintf("sync failed: %v", report.Sync.Err))
		os.Exit(1)
	case corpus.OutcomeUpdated:
		ui.PrintSuccess(fmt.Sprintf("mirror updated to %s", report.Sync.Version))
	case corpus.OutcomeUnchanged:
		ui.PrintInfo(fmt.Sprintf("mirror already at %s", report.Sync.Version))
	}

	if report.Indexed {
		ui.PrintSuccess(fmt.Sprintf("indexed %d CVEs in %s", report.IndexCVEs, report.Duration.Round(time.Millisecond)))
		if report.Warnings > 0 {
			ui.PrintWarning(fmt.Sprintf("%d templates skipped as unparseable", report.Warnings))
		}
	}
}
