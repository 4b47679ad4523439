// Package config loads and validates server configuration from a YAML
// file, environment overrides, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
)

// Config holds all server configuration. Zero values are filled with
// production defaults by Validate.
type Config struct {
	// Template corpus settings
	TemplateRepo           string `yaml:"template_repo"`
	TemplateVersion        string `yaml:"template_version"`
	AutoUpdate             bool   `yaml:"auto_update"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	FetchTimeoutSeconds    int    `yaml:"fetch_timeout_seconds"`
	StoragePath            string `yaml:"storage_path"`

	// External validation API
	ValidationAPIURL string `yaml:"validation_api_url"`

	// Reference content overrides (empty = embedded defaults)
	ContextDir string `yaml:"context_dir"`
	PromptsDir string `yaml:"prompts_dir"`

	// HTTP transport
	HTTPAddr string `yaml:"http_addr"`

	// Logging
	LogLevel string `yaml:"log_level"`
	LogJSON  bool   `yaml:"log_json"`
}

// Default returns a Config with production defaults.
func Default() *Config {
	return &Config{
		TemplateRepo:           defaults.TemplateRepo,
		TemplateVersion:        defaults.TemplateVersion,
		RefreshIntervalSeconds: int(defaults.RefreshInterval / time.Second),
		FetchTimeoutSeconds:    int(defaults.FetchTimeout / time.Second),
		StoragePath:            defaultStoragePath(),
		ValidationAPIURL:       defaults.ValidationAPIURL,
		HTTPAddr:               defaults.HTTPAddr,
		LogLevel:               "info",
	}
}

func defaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wafrules"
	}
	return home + string(os.PathSeparator) + ".wafrules"
}

// Load builds a Config from defaults, an optional YAML file, and
// environment overrides, then validates the result. An empty path skips
// the file layer.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto the config. Environment
// values win over file values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("WAF_VALIDATION_API_URL"); v != "" {
		c.ValidationAPIURL = v
	}
	if v := os.Getenv("WAFRULES_HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("WAFRULES_STORAGE_PATH"); v != "" {
		c.StoragePath = v
	}
}

// Validate fills zero-value fields with defaults and rejects values the
// server cannot run with.
func (c *Config) Validate() error {
	if c.TemplateRepo == "" {
		c.TemplateRepo = defaults.TemplateRepo
	}
	if parts := strings.Split(c.TemplateRepo, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: template_repo must be owner/name, got %q", ErrInvalidConfig, c.TemplateRepo)
	}
	if c.TemplateVersion == "" {
		if !c.AutoUpdate {
			c.TemplateVersion = defaults.TemplateVersion
		}
	}
	if c.RefreshIntervalSeconds <= 0 {
		c.RefreshIntervalSeconds = int(defaults.RefreshInterval / time.Second)
	}
	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = int(defaults.FetchTimeout / time.Second)
	}
	if c.StoragePath == "" {
		return fmt.Errorf("%w: storage_path", ErrMissingRequired)
	}
	if c.ValidationAPIURL == "" {
		c.ValidationAPIURL = defaults.ValidationAPIURL
	}
	if !strings.HasPrefix(c.ValidationAPIURL, "http://") && !strings.HasPrefix(c.ValidationAPIURL, "https://") {
		return fmt.Errorf("%w: validation_api_url must be an http(s) URL, got %q", ErrInvalidConfig, c.ValidationAPIURL)
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = defaults.HTTPAddr
	}
	switch strings.ToLower(c.LogLevel) {
	case "":
		c.LogLevel = "info"
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}

// RefreshInterval returns the refresh interval as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshIntervalSeconds) * time.Second
}

// FetchTimeout returns the fetch timeout as a duration.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

// RepoOwner returns the owner half of template_repo.
func (c *Config) RepoOwner() string {
	owner, _, _ := strings.Cut(c.TemplateRepo, "/")
	return owner
}

// RepoName returns the name half of template_repo.
func (c *Config) RepoName() string {
	_, name, _ := strings.Cut(c.TemplateRepo, "/")
	return name
}
