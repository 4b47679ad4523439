package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/jsonutil"
	"github.com/gen0sec/wafrules-mcp/pkg/wafcontext"
)

// registerResources adds the rules-language reference documents and the
// server version resource.
func (s *Server) registerResources() {
	s.addContextResources()
	s.addVersionResource()
}

// ═══════════════════════════════════════════════════════════════════════════
// wafcontext://<name> — Rules-language reference documents
// ═══════════════════════════════════════════════════════════════════════════

// contextResourceInfo supplies the display name and description for each
// reference document served under wafcontext://.
var contextResourceInfo = map[string]struct {
	title       string
	description string
}{
	"actions":     {"Rules Language: Actions", "Actions a rule can take when its expression matches, and how to choose between them."},
	"expressions": {"Rules Language: Expressions", "How rule expressions are structured, grouped, and written."},
	"fields":      {"Rules Language: Fields", "Request, client, and threat intelligence fields usable in expressions."},
	"functions":   {"Rules Language: Functions", "Transformation and aggregation functions usable in expressions."},
	"operators":   {"Rules Language: Operators", "Comparison and logical operators, with precedence rules."},
	"values":      {"Rules Language: Values", "Literal value types and how to write each of them."},
}

func (s *Server) addContextResources() {
	for _, name := range wafcontext.Names() {
		info := contextResourceInfo[name]
		uri := "wafcontext://" + name
		s.mcp.AddResource(
			&mcp.Resource{
				URI:         uri,
				Name:        info.title,
				Description: info.description,
				MIMEType:    "text/markdown",
			},
			func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
				text, err := s.contexts.Read(name)
				if err != nil {
					return nil, fmt.Errorf("reading context %s: %w", name, err)
				}
				return &mcp.ReadResourceResult{
					Contents: []*mcp.ResourceContents{
						{URI: uri, MIMEType: "text/markdown", Text: text},
					},
				}, nil
			},
		)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// wafrules://version — Server capabilities and corpus state
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addVersionResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			URI:         "wafrules://version",
			Name:        "WAF Rules Server Version",
			Description: "Server version, capabilities, tool inventory, and template corpus state.",
			MIMEType:    "application/json",
		},
		func(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
			info := map[string]any{
				"name":    defaults.ServerName,
				"version": defaults.Version,
				"capabilities": map[string]any{
					"tools":     6,
					"resources": 7,
					"prompts":   2,
				},
				"tools": []string{
					"fetch_cve_vulnerability_template", "validate_waf_expression",
					"validate_waf_expression_with_tests", "get_waf_context",
					"get_template_sync_status", "refresh_templates",
				},
				"context_resources": wafcontext.Names(),
			}
			if s.engine != nil {
				st := s.engine.Status()
				info["corpus"] = map[string]any{
					"auto_update":     st.AutoUpdate,
					"target_version":  st.TargetVersion,
					"mirror_version":  st.MirrorVersion,
					"index_version":   st.IndexVersion,
					"index_cves":      st.IndexCVEs,
					"index_templates": st.IndexTemplates,
				}
			}
			data, _ := jsonutil.MarshalIndent(info, "", "  ")
			return &mcp.ReadResourceResult{
				Contents: []*mcp.ResourceContents{
					{URI: "wafrules://version", MIMEType: defaults.ContentTypeJSON, Text: string(data)},
				},
			}, nil
		},
	)
}
