package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gen0sec/wafrules-mcp/pkg/config"
	"github.com/gen0sec/wafrules-mcp/pkg/corpus"
	"github.com/gen0sec/wafrules-mcp/pkg/engine"
	"github.com/gen0sec/wafrules-mcp/pkg/mcpserver"
	"github.com/gen0sec/wafrules-mcp/pkg/metrics"
	"github.com/gen0sec/wafrules-mcp/pkg/prompts"
	"github.com/gen0sec/wafrules-mcp/pkg/ui"
	"github.com/gen0sec/wafrules-mcp/pkg/upstream"
	"github.com/gen0sec/wafrules-mcp/pkg/validation"
	"github.com/gen0sec/wafrules-mcp/pkg/wafcontext"
)

// runServe starts the MCP server.
// Supports two transport modes:
//   - --stdio (default): For IDE integrations (VS Code, Claude Desktop, Cursor)
//   - --http <addr>:     For remote/Docker deployments with session management
func runServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)

	stdio := fs.Bool("stdio", true, "Use stdio transport (default, for IDE integration)")
	httpAddr := fs.String("http", "", "HTTP address to listen on (e.g. :8000). Disables stdio.")
	configPath := fs.String("config", envOrDefault("WAFRULES_CONFIG", ""), "Path to YAML configuration file")
	storage := fs.String("storage", "", "Storage path for the template mirror (overrides config)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	logJSON := fs.Bool("log-json", false, "Log in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: wafrules-mcp serve [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Start the WAF rules MCP server.\n\n")
		fmt.Fprintf(os.Stderr, "Transports:\n")
		fmt.Fprintf(os.Stderr, "  --stdio          Stdio transport for IDE integration (default)\n")
		fmt.Fprintf(os.Stderr, "  --http <addr>    Streamable HTTP transport for remote/Docker\n\n")
		fmt.Fprintf(os.Stderr, "Environment variables:\n")
		fmt.Fprintf(os.Stderr, "  WAFRULES_CONFIG          Configuration file path (same as --config)\n")
		fmt.Fprintf(os.Stderr, "  WAFRULES_STORAGE_PATH    Storage path for the template mirror\n")
		fmt.Fprintf(os.Stderr, "  WAFRULES_HTTP_ADDR       HTTP listen address (same as --http)\n")
		fmt.Fprintf(os.Stderr, "  WAF_VALIDATION_API_URL   Expression validation endpoint\n\n")
		fmt.Fprintf(os.Stderr, "Examples:\n")
		fmt.Fprintf(os.Stderr, "  wafrules-mcp serve --stdio\n")
		fmt.Fprintf(os.Stderr, "  wafrules-mcp serve --http :8000\n")
		fmt.Fprintf(os.Stderr, "  WAFRULES_STORAGE_PATH=/data wafrules-mcp serve --http :8000\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
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
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logJSON {
		cfg.LogJSON = true
	}
	configureLogging(cfg)

	// Allow env var override for HTTP address (useful in Docker/K8s)
	if *httpAddr == "" {
		if envAddr := os.Getenv("WAFRULES_HTTP_ADDR"); envAddr != "" {
			*httpAddr = envAddr
		}
	}

	// --- Startup validation: storage path ---
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error: storage path %q: %v\n", cfg.StoragePath, err)
		fmt.Fprintf(os.Stderr, "hint: set --storage or WAFRULES_STORAGE_PATH to a writable directory\n")
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%s storage: %s\n", ui.UserAgent(), cfg.StoragePath)
	fmt.Fprintf(os.Stderr, "%s corpus: %s (target %s, auto-update %v)\n",
		ui.UserAgent(), cfg.TemplateRepo, targetLabel(cfg), cfg.AutoUpdate)

	m := metrics.New()
	srv, eng := buildServer(cfg, m)
	srv.MarkReady() // Startup validation passed; refresh runs in the background.

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// The refresh loop owns the mirror: startup cycle first, then
	// interval ticks and refresh_templates triggers.
	go func() { _ = eng.Run(ctx) }()

	if *httpAddr != "" {
		*stdio = false
		httpSrv := &http.Server{
			Addr:              *httpAddr,
			Handler:           srv.HTTPHandler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			// WriteTimeout intentionally 0: SSE streams are long-lived and
			// any non-zero value sets an absolute deadline that kills SSE
			// connections. ReadHeaderTimeout + ReadTimeout protect against
			// slowloris.
			IdleTimeout:    30 * time.Second,
			MaxHeaderBytes: 1 << 20, // 1 MB
		}

		go func() {
			<-ctx.Done()
			// Graceful shutdown: drain in-flight requests within 15 seconds
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			fmt.Fprintf(os.Stderr, "%s shutting down gracefully…\n", ui.UserAgent())
			if err := httpSrv.Shutdown(shutdownCtx); err != nil {
				fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
			}
		}()

		fmt.Fprintf(os.Stderr, "%s MCP server listening on %s (HTTP transport)\n",
			ui.UserAgent(), *httpAddr)

		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Stdio transport mode (default)
	if *stdio {
		if err := srv.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "error: no transport selected — use --stdio or --http <addr>\n")
	os.Exit(1)
}

// buildServer wires the engine, validator, and content stores into an
// MCP server from the loaded configuration.
func buildServer(cfg *config.Config, m *metrics.Metrics) (*mcpserver.Server, *engine.Engine) {
	store := corpus.NewStore(cfg.StoragePath)
	gh := upstream.NewGitHub(cfg.RepoOwner(), cfg.RepoName())

	eng := engine.New(engine.Config{
		Store:         store,
		Fetcher:       corpus.NewFetcher(store, gh, cfg.FetchTimeout()),
		Upstream:      gh,
		TargetVersion: cfg.TemplateVersion,
		AutoUpdate:    cfg.AutoUpdate,
		Interval:      cfg.RefreshInterval(),
		Metrics:       m,
	})

	srv := mcpserver.New(&mcpserver.Config{
		Engine:    eng,
		Validator: validation.New(cfg.ValidationAPIURL, validation.WithMetrics(m)),
		Contexts:  wafcontext.NewStore(cfg.ContextDir),
		Prompts:   prompts.NewStore(cfg.PromptsDir),
		Metrics:   m,
	})
	return srv, eng
}

// targetLabel names what the refresh loop converges to.
func targetLabel(cfg *config.Config) string {
	if cfg.AutoUpdate {
		return "latest release"
	}
	return cfg.TemplateVersion
}

// configureLogging applies the configured level and format to the
// process-wide logger. Everything logs to stderr; stdout belongs to the
// stdio MCP transport.
func configureLogging(cfg *config.Config) {
	logrus.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.LogJSON {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
