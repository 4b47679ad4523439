package mcpserver

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/engine"
	"github.com/gen0sec/wafrules-mcp/pkg/jsonutil"
	"github.com/gen0sec/wafrules-mcp/pkg/metrics"
	"github.com/gen0sec/wafrules-mcp/pkg/prompts"
	"github.com/gen0sec/wafrules-mcp/pkg/validation"
	"github.com/gen0sec/wafrules-mcp/pkg/wafcontext"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config wires the server's collaborators. Engine and Validator are
// required; nil Contexts and Prompts fall back to embedded-only stores.
type Config struct {
	// Engine resolves CVE identifiers and reports sync state.
	Engine *engine.Engine

	// Validator talks to the expression validation API.
	Validator *validation.Client

	// Contexts serves the rules-language reference documents.
	Contexts *wafcontext.Store

	// Prompts renders the rule-generation prompts.
	Prompts *prompts.Store

	// Metrics records tool call outcomes and backs the /metrics
	// endpoint. Optional.
	Metrics *metrics.Metrics
}

// ---------------------------------------------------------------------------
// Server
// ---------------------------------------------------------------------------

// Server exposes the rule-generation toolkit over MCP.
type Server struct {
	mcp       *mcp.Server
	engine    *engine.Engine
	validator *validation.Client
	contexts  *wafcontext.Store
	prompts   *prompts.Store
	metrics   *metrics.Metrics
	log       *logrus.Entry
	ready     atomic.Bool
}

// MCPServer returns the underlying MCP server for direct access (e.g. testing).
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// MarkReady signals that startup wiring completed. Until MarkReady is
// called, the /health endpoint returns 503 Service Unavailable.
func (s *Server) MarkReady() { s.ready.Store(true) }

// IsReady reports whether MarkReady has been called.
func (s *Server) IsReady() bool { return s.ready.Load() }

// New creates an MCP server with all tools, resources, and prompts
// registered.
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	s := &Server{
		engine:    cfg.Engine,
		validator: cfg.Validator,
		contexts:  cfg.Contexts,
		prompts:   cfg.Prompts,
		metrics:   cfg.Metrics,
		log:       logrus.WithField("component", "mcpserver"),
	}
	if s.contexts == nil {
		s.contexts = wafcontext.NewStore("")
	}
	if s.prompts == nil {
		s.prompts = prompts.NewStore("")
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    defaults.ServerName,
			Title:   defaults.ServerNameDisplay,
			Version: defaults.Version,
		},
		&mcp.ServerOptions{
			Instructions: serverInstructions,
		},
	)

	s.registerTools()
	s.registerResources()
	s.registerPrompts()

	return s
}

// RunStdio runs the MCP server over stdio transport, the primary mode
// for IDE and desktop assistant integrations. All logging goes to
// stderr; stdout belongs to the protocol.
func (s *Server) RunStdio(ctx context.Context) error {
	s.log.Info("serving MCP over stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler returns an http.Handler for remote deployments.
//
// The handler mounts:
//   - /health   → readiness probe (GET only)
//   - /metrics  → Prometheus exposition (when metrics are configured)
//   - /sse      → legacy SSE transport for older MCP clients
//   - /mcp      → streamable HTTP transport
//   - /         → streamable HTTP transport (default mount)
//
// All endpoints carry CORS headers for browser-based MCP clients.
func (s *Server) HTTPHandler() http.Handler {
	streamable := mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		&mcp.StreamableHTTPOptions{Stateless: false},
	)

	sse := mcp.NewSSEHandler(
		func(_ *http.Request) *mcp.Server { return s.mcp },
		nil,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	mux.Handle("/sse", sseKeepAlive(sse))
	mux.Handle("/mcp", streamable)
	mux.Handle("/", streamable)

	return corsMiddleware(s.recoveryMiddleware(securityHeaders(mux)))
}

// sseKeepAliveInterval is how often an idle SSE stream emits a comment
// line. Proxies and load balancers commonly reap connections silent for
// 30-60s; 15s stays under that.
const sseKeepAliveInterval = 15 * time.Second

// handleHealth serves a readiness/liveness probe. Returns 503 before
// MarkReady() is called.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", defaults.ContentTypeJSON)
	if !s.IsReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting","service":"` + defaults.ServerName + `"}`))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok","service":"` + defaults.ServerName + `"}`))
}

// corsMiddleware adds the CORS headers browser-based MCP clients need.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// Vary on Origin so caches keep browser and non-browser
		// responses apart.
		w.Header().Add("Vary", "Origin")

		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			strings.Join([]string{
				"Content-Type",
				"Authorization",
				"Mcp-Session-Id",
				"MCP-Protocol-Version",
				"Last-Event-ID",
				"Accept",
			}, ", "))
		w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, MCP-Protocol-Version")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware turns handler panics into 500 responses instead of
// dropped connections.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.WithFields(logrus.Fields{
					"panic": fmt.Sprint(err),
					"path":  r.URL.Path,
				}).Error(string(debug.Stack()))

				// If headers were already sent, WriteHeader is a no-op.
				w.Header().Set("Content-Type", defaults.ContentTypeJSON)
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"internal server error"}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// securityHeaders adds MIME-sniffing and clickjacking protections.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// sseKeepAlive injects periodic SSE comment lines into event-stream
// responses so intermediaries do not reap idle connections.
func sseKeepAlive(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			next.ServeHTTP(w, r)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		kw := &keepAliveWriter{
			ResponseWriter: w,
			flusher:        flusher,
			done:           make(chan struct{}),
		}
		go kw.keepAliveLoop()
		defer close(kw.done)

		next.ServeHTTP(kw, r)
	})
}

// keepAliveWriter serializes handler writes and ticker-driven keepalive
// comments onto the same ResponseWriter.
type keepAliveWriter struct {
	mu sync.Mutex
	http.ResponseWriter
	flusher http.Flusher
	done    chan struct{}
}

func (kw *keepAliveWriter) Write(p []byte) (int, error) {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	return kw.ResponseWriter.Write(p)
}

// Flush implements http.Flusher. The SDK's SSE handler type-asserts its
// writer to http.Flusher; without this, events buffer and never reach
// the client.
func (kw *keepAliveWriter) Flush() {
	kw.mu.Lock()
	defer kw.mu.Unlock()
	kw.flusher.Flush()
}

// Unwrap lets http.ResponseController reach the underlying writer's
// capabilities through the wrapper.
func (kw *keepAliveWriter) Unwrap() http.ResponseWriter {
	return kw.ResponseWriter
}

func (kw *keepAliveWriter) keepAliveLoop() {
	ticker := time.NewTicker(sseKeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-kw.done:
			return
		case <-ticker.C:
			kw.mu.Lock()
			// Comment lines are ignored by SSE clients.
			if _, err := kw.ResponseWriter.Write([]byte(": keepalive\n\n")); err != nil {
				kw.mu.Unlock()
				return
			}
			kw.flusher.Flush()
			kw.mu.Unlock()
		}
	}
}

// ---------------------------------------------------------------------------
// Helpers — result builders
// ---------------------------------------------------------------------------

// logged wraps a tool handler with structured logging and call metrics.
func (s *Server) logged(name string, h mcp.ToolHandler) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, req)

		status := "ok"
		switch {
		case err != nil:
			status = "error"
		case res != nil && res.IsError:
			status = "tool_error"
		}
		s.metrics.ObserveToolCall(name, status)
		s.log.WithFields(logrus.Fields{
			"tool":     name,
			"status":   status,
			"duration": time.Since(start).Round(time.Millisecond).String(),
		}).Debug("tool call")
		return res, err
	}
}

// textResult creates a CallToolResult with a single text content block.
func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// jsonResult marshals v to indented JSON and wraps it in a CallToolResult.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := jsonutil.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return textResult(string(data)), nil
}

// errorResult creates an IsError CallToolResult so the model can see
// the failure and self-correct instead of hitting a protocol error.
func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

// boolPtr returns a pointer to b. Used for optional bool fields in the SDK.
func boolPtr(b bool) *bool { return &b }

// parseArgs unmarshals the raw JSON arguments from a tool call into dst.
func parseArgs(req *mcp.CallToolRequest, dst any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := jsonutil.Unmarshal(req.Params.Arguments, dst); err != nil {
		return fmt.Errorf("parsing tool arguments: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Server Instructions
// ---------------------------------------------------------------------------

const serverInstructions = `You are operating WAF Rules — a toolkit for writing, validating, and testing WAF rule expressions, backed by a continuously synchronized CVE vulnerability template corpus.

## YOUR IDENTITY

You are a WAF rule engineering expert. You translate natural language requirements and CVE advisories into precise, validated rule expressions. Every expression you present must have passed validation.

## TOOL SELECTION GUIDE

| User Intent | Tool |
|---|---|
| "Write a rule that blocks ..." | get_waf_context, then validate_waf_expression |
| "Protect me against CVE-XXXX-YYYY" | fetch_cve_vulnerability_template |
| "Is this expression valid?" | validate_waf_expression |
| "Would this rule match this request?" | validate_waf_expression_with_tests |
| "What fields/operators can I use?" | get_waf_context |
| "Is the template corpus up to date?" | get_template_sync_status |
| "Refresh the templates" | refresh_templates |

## RECOMMENDED WORKFLOWS

### Workflow A: Rule from natural language
1. get_waf_context → learn the available fields, operators, functions, and values
2. Draft the expression using only documented fields
3. validate_waf_expression → fix any error_message and re-validate
4. validate_waf_expression_with_tests → confirm the rule matches representative traffic

### Workflow B: Rule from a CVE
1. fetch_cve_vulnerability_template → study the exploit's paths, payloads, and matchers
2. get_waf_context → learn the expression language
3. Draft a narrow expression targeting the exploitation pattern
4. validate_waf_expression → fix and re-validate until valid
5. validate_waf_expression_with_tests → test with a request modeled on the exploit

## READING RESOURCES

- wafcontext://fields, wafcontext://operators, wafcontext://functions, wafcontext://values — the expression language reference
- wafcontext://expressions — grammar and worked examples
- wafcontext://actions — choosing block vs challenge vs log
- wafrules://version — server version and corpus sync state

## ERROR RECOVERY

- "invalid CVE identifier" → the id must look like CVE-2021-44228; ask the user for the exact id
- "not found in any source" → the corpus has no template for that CVE; check get_template_sync_status, consider refresh_templates, or fall back to the advisory text
- validation error_message → correct the expression and validate again; consult wafcontext://operators for syntax
- "validation API request failed" → the validation service is unreachable; retry later and do not present unvalidated expressions as final

## RESPONSE FORMAT PREFERENCES

- Present final expressions in code blocks, preceded by a one-line summary of what they match
- State the recommended action (block, challenge, log) and the false positive risk
- When a rule is derived from a CVE template, cite which part of the exploit each clause targets`
