package main

import (
	"testing"

	"github.com/gen0sec/wafrules-mcp/pkg/config"
	"github.com/gen0sec/wafrules-mcp/pkg/metrics"
)

func TestEnvOrDefault(t *testing.T) {
	t.Run("unset uses default", func(t *testing.T) {
		if got := envOrDefault("WAFRULES_TEST_UNSET_VAR", "fallback"); got != "fallback" {
			t.Errorf("envOrDefault() = %q, want fallback", got)
		}
	})

	t.Run("set wins", func(t *testing.T) {
		t.Setenv("WAFRULES_TEST_SET_VAR", "from-env")
		if got := envOrDefault("WAFRULES_TEST_SET_VAR", "fallback"); got != "from-env" {
			t.Errorf("envOrDefault() = %q, want from-env", got)
		}
	})

	t.Run("empty counts as unset", func(t *testing.T) {
		t.Setenv("WAFRULES_TEST_EMPTY_VAR", "")
		if got := envOrDefault("WAFRULES_TEST_EMPTY_VAR", "fallback"); got != "fallback" {
			t.Errorf("envOrDefault() = %q, want fallback", got)
		}
	})
}

func TestTargetLabel(t *testing.T) {
	cfg := config.Default()
	cfg.TemplateVersion = "v10.0.0"

	if got := targetLabel(cfg); got != "v10.0.0" {
		t.Errorf("targetLabel() = %q, want v10.0.0", got)
	}

	cfg.AutoUpdate = true
	if got := targetLabel(cfg); got != "latest release" {
		t.Errorf("targetLabel() with auto-update = %q, want latest release", got)
	}
}

func TestBuildServerWiring(t *testing.T) {
	cfg := config.Default()
	cfg.StoragePath = t.TempDir()

	srv, eng := buildServer(cfg, metrics.New())
	if srv == nil {
		t.Fatal("buildServer returned nil server")
	}
	if eng == nil {
		t.Fatal("buildServer returned nil engine")
	}
	if srv.MCPServer() == nil {
		t.Error("server missing MCP instance")
	}

	st := eng.Status()
	if st.TargetVersion != cfg.TemplateVersion {
		t.Errorf("engine target = %q, want %q", st.TargetVersion, cfg.TemplateVersion)
	}
	if st.AutoUpdate {
		t.Error("engine auto-update should be off by default")
	}
}
