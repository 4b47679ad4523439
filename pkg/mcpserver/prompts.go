package mcpserver

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/gen0sec/wafrules-mcp/pkg/prompts"
)

// registerPrompts adds the guided rule-generation workflows to the MCP
// server. The prompt texts live in pkg/prompts and can be overridden
// from disk without rebuilding.
func (s *Server) registerPrompts() {
	s.addNaturalRulePrompt()
	s.addCVERulePrompt()
}

// ═══════════════════════════════════════════════════════════════════════════
// natural_waf_rule_generation_prompt — Rule from a plain-language ask
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addNaturalRulePrompt() {
	s.mcp.AddPrompt(
		&mcp.Prompt{
			Name:        prompts.NaturalRuleGeneration,
			Description: "Guided workflow for generating a WAF rule from a natural language description: study the rules language, draft, validate, test, and recommend an action.",
		},
		func(_ context.Context, _ *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			text, err := s.prompts.Render(prompts.NaturalRuleGeneration, nil)
			if err != nil {
				return nil, fmt.Errorf("rendering prompt: %w", err)
			}
			return &mcp.GetPromptResult{
				Description: "Generate a WAF rule from a natural language description",
				Messages: []*mcp.PromptMessage{
					{
						Role:    "user",
						Content: &mcp.TextContent{Text: text},
					},
				},
			}, nil
		},
	)
}

// ═══════════════════════════════════════════════════════════════════════════
// cve_waf_rule_generation_prompt — Rule mitigating a specific CVE
// ═══════════════════════════════════════════════════════════════════════════

func (s *Server) addCVERulePrompt() {
	s.mcp.AddPrompt(
		&mcp.Prompt{
			Name:        prompts.CVERuleGeneration,
			Description: "Guided workflow for generating a WAF rule that mitigates a specific CVE: fetch the vulnerability template, derive the attack signal, draft, validate, and test against the exploit shape.",
			Arguments: []*mcp.PromptArgument{
				{Name: "cve_id", Description: "The CVE to mitigate, e.g. CVE-2021-44228. Optional; the workflow asks for one when omitted.", Required: false},
			},
		},
		func(_ context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			cveID := req.Params.Arguments["cve_id"]
			text, err := s.prompts.Render(prompts.CVERuleGeneration, map[string]any{"cve_id": cveID})
			if err != nil {
				return nil, fmt.Errorf("rendering prompt: %w", err)
			}

			description := "Generate a WAF rule mitigating a CVE"
			if cveID != "" {
				description = fmt.Sprintf("Generate a WAF rule mitigating %s", cveID)
			}
			return &mcp.GetPromptResult{
				Description: description,
				Messages: []*mcp.PromptMessage{
					{
						Role:    "user",
						Content: &mcp.TextContent{Text: text},
					},
				},
			}, nil
		},
	)
}
