package defaults_test

import (
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/ui"
)

// TestVersionConsistency ensures all version references match defaults.Version
func TestVersionConsistency(t *testing.T) {
	// Verify ui.Version matches defaults.Version
	if ui.Version != defaults.Version {
		t.Errorf("ui.Version (%s) != defaults.Version (%s)", ui.Version, defaults.Version)
	}

	// Verify version format is valid semver
	semverPattern := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9]+)?$`)
	if !semverPattern.MatchString(defaults.Version) {
		t.Errorf("defaults.Version (%s) is not valid semver", defaults.Version)
	}

	// Scan for hardcoded version strings that should use defaults.Version
	root := findProjectRoot(t)
	var violations []string

	versionPattern := regexp.MustCompile(`(?m)Version\s*[:=]\s*"(\d+\.\d+\.\d+)"`)

	for _, dir := range []string{"pkg", "cmd"} {
		dirPath := filepath.Join(root, dir)
		if _, err := os.Stat(dirPath); os.IsNotExist(err) {
			continue
		}

		_ = filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".go") {
				return nil
			}

			// Skip test files and the two definition sites
			if strings.HasSuffix(path, "_test.go") ||
				strings.HasSuffix(path, "defaults.go") ||
				strings.HasSuffix(path, filepath.Join("ui", "ui.go")) {
				return nil
			}

			content, err := os.ReadFile(path)
			if err != nil {
				return nil
			}

			lines := strings.Split(string(content), "\n")
			for i, line := range lines {
				if matches := versionPattern.FindStringSubmatch(line); len(matches) > 1 {
					relPath, _ := filepath.Rel(root, path)
					violations = append(violations,
						relPath+":"+strconv.Itoa(i+1)+": hardcoded Version = \""+matches[1]+"\"")
				}
			}

			return nil
		})
	}

	if len(violations) > 0 {
		t.Errorf("Found %d hardcoded version strings. Use defaults.Version instead:", len(violations))
		for _, v := range violations {
			t.Errorf("  %s", v)
		}
	}
}

// TestTimingDefaults ensures the refresh and fetch timing constants are sane.
func TestTimingDefaults(t *testing.T) {
	if defaults.RefreshInterval <= 0 {
		t.Error("RefreshInterval should be positive")
	}
	if defaults.FetchTimeout <= 0 {
		t.Error("FetchTimeout should be positive")
	}
	if defaults.VersionLookupTimeout <= 0 {
		t.Error("VersionLookupTimeout should be positive")
	}
	if defaults.VersionLookupMaxElapsed < defaults.VersionLookupTimeout {
		t.Error("VersionLookupMaxElapsed should allow at least one full lookup")
	}
	if defaults.FetchTimeout >= defaults.RefreshInterval {
		t.Error("FetchTimeout should be far smaller than RefreshInterval")
	}
}

// TestEndpointDefaults ensures default URLs parse and use HTTPS.
func TestEndpointDefaults(t *testing.T) {
	endpoints := []struct {
		name  string
		value string
	}{
		{"GitHubAPIBase", defaults.GitHubAPIBase},
		{"GitHubArchiveBase", defaults.GitHubArchiveBase},
		{"ValidationAPIURL", defaults.ValidationAPIURL},
	}

	for _, ep := range endpoints {
		u, err := url.Parse(ep.value)
		if err != nil {
			t.Errorf("%s (%s) does not parse: %v", ep.name, ep.value, err)
			continue
		}
		if u.Scheme != "https" {
			t.Errorf("%s (%s) should use https", ep.name, ep.value)
		}
		if u.Host == "" {
			t.Errorf("%s (%s) missing host", ep.name, ep.value)
		}
	}
}

// TestCorpusDefaults ensures corpus identifiers have the expected shape.
func TestCorpusDefaults(t *testing.T) {
	parts := strings.Split(defaults.TemplateRepo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		t.Errorf("TemplateRepo (%s) should be owner/name", defaults.TemplateRepo)
	}

	if !strings.HasPrefix(defaults.TemplateVersion, "v") {
		t.Errorf("TemplateVersion (%s) should carry the upstream v prefix", defaults.TemplateVersion)
	}

	if !strings.HasPrefix(defaults.VersionMarkerName, ".") {
		t.Errorf("VersionMarkerName (%s) should be a dotfile", defaults.VersionMarkerName)
	}

	if defaults.MirrorDirName == "" || strings.ContainsAny(defaults.MirrorDirName, "/\\") {
		t.Errorf("MirrorDirName (%s) should be a bare directory name", defaults.MirrorDirName)
	}
}

// findProjectRoot finds the project root by looking for go.mod
func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}

	// Walk up to find go.mod
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("Could not find project root (go.mod)")
		}
		dir = parent
	}
}
