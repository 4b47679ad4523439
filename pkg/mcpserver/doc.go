// Package mcpserver exposes the WAF rules engine as a Model Context Protocol
// (MCP) server, enabling AI assistants (Claude, VS Code Copilot, Cursor, etc.)
// to research CVEs and engineer validated WAF rules through natural
// conversation.
//
// # Architecture
//
// The server is built on the official MCP Go SDK and exposes three categories
// of capabilities:
//
//   - Tools:     Actionable operations (fetch_cve_vulnerability_template,
//     validate_waf_expression, refresh_templates, …)
//   - Resources: Rules-language reference documents under wafcontext://
//     plus server/corpus state under wafrules://version
//   - Prompts:   Guided rule-generation workflows (from a description,
//     from a CVE)
//
// # Tool Design Principles
//
// Every tool follows enterprise MCP best practices:
//
//   - Detailed markdown descriptions with usage guidance and examples
//   - Complete JSON schemas for all arguments
//   - Proper annotations (readOnlyHint, idempotentHint, openWorldHint)
//   - Composable: fetch a template, study context, validate, then test
//   - Actionable errors that suggest the correct next step
//
// # Transports
//
// Two transport modes are supported:
//
//   - stdio:  Communicates over stdin/stdout (default). Used by IDE
//     integrations. All logging goes to stderr.
//   - HTTP:   Streamable HTTP with SSE. Used for remote/Docker deployments.
//
// # Usage
//
//	srv := mcpserver.New(&mcpserver.Config{
//		Engine:    eng,
//		Validator: validation.New(""),
//	})
//	err := srv.RunStdio(ctx)
package mcpserver
