// Command wafrules-mcp is an MCP server for WAF rule engineering: it
// mirrors and indexes the CVE template corpus, answers CVE lookups, and
// validates rule expressions against the validation service.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/gen0sec/wafrules-mcp/pkg/ui"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "serve":
			// Strip the subcommand so serve parses its own flags.
			os.Args = append(os.Args[:1], os.Args[2:]...)
			runServe()
			return
		case "sync":
			runSync()
			return
		case "version", "-v", "--version":
			runVersion()
			return
		case "help", "-h", "--help":
			printUsage()
			return
		default:
			if !strings.HasPrefix(os.Args[1], "-") {
				fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
				printUsage()
				os.Exit(2)
			}
		}
	}

	// Bare invocation serves, so MCP clients can launch the binary
	// directly as a stdio server.
	runServe()
}

func printUsage() {
	ui.PrintBanner()

	fmt.Fprintln(os.Stderr, "COMMANDS")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "  %s  Run the MCP server (default; stdio unless --http)\n", ui.ConfigValueStyle.Render("serve  "))
	fmt.Fprintf(os.Stderr, "  %s  One-shot corpus sync and index build, then exit\n", ui.ConfigValueStyle.Render("sync   "))
	fmt.Fprintf(os.Stderr, "  %s  Print version information\n", ui.ConfigValueStyle.Render("version"))
	fmt.Fprintln(os.Stderr)

	fmt.Fprintln(os.Stderr, "EXAMPLES")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  wafrules-mcp                          # stdio server for IDE integration")
	fmt.Fprintln(os.Stderr, "  wafrules-mcp serve --http :8000       # HTTP transport for remote clients")
	fmt.Fprintln(os.Stderr, "  wafrules-mcp serve --config waf.yaml  # explicit configuration file")
	fmt.Fprintln(os.Stderr, "  wafrules-mcp sync --storage /data     # prefetch the corpus (CI, Docker builds)")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Run 'wafrules-mcp serve -h' or 'wafrules-mcp sync -h' for command flags.")
}

// envOrDefault returns the environment variable value if set, otherwise the default.
func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
