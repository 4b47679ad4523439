package main

import (
	"fmt"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/ui"
)

// runVersion prints version information to stdout.
func runVersion() {
	fmt.Printf("wafrules-mcp %s\n", ui.Version)
	fmt.Printf("  build date:     %s\n", ui.BuildDate)
	fmt.Printf("  commit:         %s\n", ui.Commit)
	fmt.Printf("  default corpus: %s @ %s\n", defaults.TemplateRepo, defaults.TemplateVersion)
}
