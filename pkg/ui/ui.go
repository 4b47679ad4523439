// Package ui provides terminal output helpers for the CLI: version info,
// styled status lines, and the startup banner. All output goes to stderr so
// stdout stays clean for the stdio MCP transport.
package ui

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Version information - these can be overridden at build time via ldflags:
// go build -ldflags "-X github.com/gen0sec/wafrules-mcp/pkg/ui.Version=1.0.0"
var (
	Version   = "1.2.0"
	BuildDate = "2026-08-12"
	Commit    = "dev"
)

// UserAgent returns the standard User-Agent string for outbound requests
func UserAgent() string {
	return fmt.Sprintf("wafrules-mcp/%s", Version)
}

// UserAgentWithContext returns a User-Agent with context (e.g., "wafrules-mcp/X.Y.Z (Updater)")
func UserAgentWithContext(context string) string {
	return fmt.Sprintf("wafrules-mcp/%s (%s)", Version, context)
}

// Global UI state
var (
	noColorMode bool
	uiMu        sync.RWMutex
)

// SetNoColor disables colored output
func SetNoColor(noColor bool) {
	uiMu.Lock()
	defer uiMu.Unlock()
	noColorMode = noColor
	if noColor {
		// Use ASCII profile to disable colors
		lipgloss.SetColorProfile(termenv.Ascii)
	}
}

// IsNoColor returns whether color is disabled
func IsNoColor() bool {
	uiMu.RLock()
	defer uiMu.RUnlock()
	return noColorMode
}

// Color palette
var (
	Primary   = lipgloss.Color("#7D56F4") // Purple
	Secondary = lipgloss.Color("#00D4AA") // Cyan/Teal
	Pass      = lipgloss.Color("#00D26A") // Green
	Fail      = lipgloss.Color("#FF3838") // Red
	Warning   = lipgloss.Color("#FFB800") // Amber
	Muted     = lipgloss.Color("#6B7280") // Gray
)

// Pre-configured styles
var (
	BannerStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	VersionStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	PassStyle = lipgloss.NewStyle().
			Foreground(Pass).
			Bold(true)

	FailStyle = lipgloss.NewStyle().
			Foreground(Fail).
			Bold(true)

	WarnStyle = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	ConfigLabelStyle = lipgloss.NewStyle().
				Foreground(Muted).
				Width(18)

	ConfigValueStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA"))
)

const bannerBox = `
________________________________________________

 wafrules-mcp v%s
________________________________________________
`

// PrintBanner prints the startup banner with version info (to stderr).
func PrintBanner() {
	fmt.Fprintf(os.Stderr, "%s\n", BannerStyle.Render(fmt.Sprintf(bannerBox, Version)))
}

// PrintConfigLine prints an aligned "label: value" configuration line.
func PrintConfigLine(key, value string) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", ConfigLabelStyle.Render(key+":"), ConfigValueStyle.Render(value))
}

// PrintSuccess prints a success message (to stderr)
func PrintSuccess(message string) {
	fmt.Fprintln(os.Stderr, PassStyle.Render("  [+] "+message))
}

// PrintError prints an error message (to stderr)
func PrintError(message string) {
	fmt.Fprintln(os.Stderr, FailStyle.Render("  [X] "+message))
}

// PrintWarning prints a warning message (to stderr)
func PrintWarning(message string) {
	fmt.Fprintln(os.Stderr, WarnStyle.Render("  [!] "+message))
}

// PrintInfo prints an info message (to stderr)
func PrintInfo(message string) {
	fmt.Fprintf(os.Stderr, "  [*] %s\n", message)
}
