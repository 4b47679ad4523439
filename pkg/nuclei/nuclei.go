// Package nuclei parses nuclei YAML templates into a metadata model.
// Only the fields needed for CVE classification and rule generation are
// decoded; protocol request blocks are read just far enough to report
// which protocols a template exercises.
package nuclei

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// StringOrSlice decodes a YAML field that the corpus writes either as a
// single scalar or as a sequence. The nuclei schema allows both shapes
// for classification ids.
type StringOrSlice []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var single string
		if err := value.Decode(&single); err != nil {
			return err
		}
		*s = StringOrSlice{single}
	case yaml.SequenceNode:
		var many []string
		if err := value.Decode(&many); err != nil {
			return err
		}
		*s = StringOrSlice(many)
	default:
		return fmt.Errorf("expected scalar or sequence, got yaml kind %d", value.Kind)
	}
	return nil
}

// Classification holds vulnerability taxonomy metadata.
type Classification struct {
	CVE         StringOrSlice `yaml:"cve-id,omitempty"`
	CWE         StringOrSlice `yaml:"cwe-id,omitempty"`
	CVSSMetrics string        `yaml:"cvss-metrics,omitempty"`
	CVSSScore   float64       `yaml:"cvss-score,omitempty"`
	EPSSScore   float64       `yaml:"epss-score,omitempty"`
}

// Info describes a template's metadata block.
type Info struct {
	Name           string                 `yaml:"name"`
	Author         string                 `yaml:"author,omitempty"`
	Severity       string                 `yaml:"severity,omitempty"`
	Description    string                 `yaml:"description,omitempty"`
	Reference      StringOrSlice          `yaml:"reference,omitempty"`
	Remediation    string                 `yaml:"remediation,omitempty"`
	Classification *Classification        `yaml:"classification,omitempty"`
	Tags           string                 `yaml:"tags,omitempty"`
	Metadata       map[string]interface{} `yaml:"metadata,omitempty"`
}

// Template is a parsed nuclei template. Protocol sections are decoded
// as opaque blocks; their presence drives the Protocols report.
type Template struct {
	ID   string `yaml:"id"`
	Info Info   `yaml:"info"`

	HTTP     []map[string]interface{} `yaml:"http,omitempty"`
	Requests []map[string]interface{} `yaml:"requests,omitempty"`
	DNS      []map[string]interface{} `yaml:"dns,omitempty"`
	Network  []map[string]interface{} `yaml:"network,omitempty"`
	TCP      []map[string]interface{} `yaml:"tcp,omitempty"`
	Headless []map[string]interface{} `yaml:"headless,omitempty"`
	SSL      []map[string]interface{} `yaml:"ssl,omitempty"`
	Code     []map[string]interface{} `yaml:"code,omitempty"`
	File     []map[string]interface{} `yaml:"file,omitempty"`
	Flow     string                   `yaml:"flow,omitempty"`
}

// ParseTemplate parses YAML data into a Template.
func ParseTemplate(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	if tmpl.ID == "" {
		return nil, fmt.Errorf("template missing required field: id")
	}
	if tmpl.Info.Name == "" {
		return nil, fmt.Errorf("template missing required field: info.name")
	}

	return &tmpl, nil
}

// LoadTemplate reads and parses a template file.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return ParseTemplate(data)
}

// Protocols reports which protocol sections the template defines, in a
// fixed order. "requests" is the legacy spelling of "http" and is folded
// into it.
func (t *Template) Protocols() []string {
	var out []string
	if len(t.HTTP) > 0 || len(t.Requests) > 0 {
		out = append(out, "http")
	}
	if len(t.DNS) > 0 {
		out = append(out, "dns")
	}
	if len(t.Network) > 0 || len(t.TCP) > 0 {
		out = append(out, "network")
	}
	if len(t.Headless) > 0 {
		out = append(out, "headless")
	}
	if len(t.SSL) > 0 {
		out = append(out, "ssl")
	}
	if len(t.Code) > 0 {
		out = append(out, "code")
	}
	if len(t.File) > 0 {
		out = append(out, "file")
	}
	return out
}

// CVEIDs returns the classification cve-id values with surrounding
// whitespace trimmed and blanks removed. Order is preserved.
func (t *Template) CVEIDs() []string {
	if t.Info.Classification == nil {
		return nil
	}
	var out []string
	for _, id := range t.Info.Classification.CVE {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	return out
}

// Severity returns the normalized (lowercased) severity, or "unknown"
// when the template does not declare one.
func (t *Template) Severity() string {
	s := strings.ToLower(strings.TrimSpace(t.Info.Severity))
	if s == "" {
		return "unknown"
	}
	return s
}
