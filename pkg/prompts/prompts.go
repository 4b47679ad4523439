// Package prompts renders the rule-generation prompt templates.
//
// Prompts are Go text templates with the sprig function set, shipped
// embedded and overridable from a directory on disk. Template data is
// a flat map; optional values use sprig's default filter so a prompt
// renders sensibly with no arguments at all.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/sirupsen/logrus"
)

//go:embed texts/*.tmpl
var textsFS embed.FS

// Prompt names as exposed over MCP.
const (
	NaturalRuleGeneration = "natural_waf_rule_generation_prompt"
	CVERuleGeneration     = "cve_waf_rule_generation_prompt"
)

// files maps prompt names to template file base names.
var files = map[string]string{
	NaturalRuleGeneration: "gen_from_desc",
	CVERuleGeneration:     "gen_from_cve",
}

// Names returns the prompt names in serving order.
func Names() []string {
	return []string{NaturalRuleGeneration, CVERuleGeneration}
}

// Store renders prompts, preferring an override directory over the
// embedded templates.
type Store struct {
	dir string
	log *logrus.Entry
}

// NewStore returns a Store. An empty dir serves embedded templates
// only.
func NewStore(dir string) *Store {
	return &Store{
		dir: dir,
		log: logrus.WithField("component", "prompts"),
	}
}

// Render renders the named prompt with data. A nil data map renders
// the template's defaults.
func (s *Store) Render(name string, data map[string]any) (string, error) {
	base, ok := files[name]
	if !ok {
		return "", fmt.Errorf("prompts: unknown prompt %q", name)
	}
	if data == nil {
		data = map[string]any{}
	}

	content, source, err := s.load(base)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(base).Funcs(sprig.TxtFuncMap()).Parse(content)
	if err != nil {
		return "", fmt.Errorf("prompts: parse %s: %w", source, err)
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("prompts: render %s: %w", source, err)
	}

	s.log.WithFields(logrus.Fields{
		"prompt": name,
		"source": source,
	}).Debug("prompt rendered")
	return out.String(), nil
}

// load returns the template text and a source label for diagnostics.
func (s *Store) load(base string) (string, string, error) {
	if s.dir != "" {
		path := filepath.Join(s.dir, base+".tmpl")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), "disk:" + path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithError(err).WithField("prompt_file", path).Warn("prompt override unreadable, serving embedded copy")
		}
	}

	rel := "texts/" + base + ".tmpl"
	data, err := textsFS.ReadFile(rel)
	if err != nil {
		return "", "", fmt.Errorf("prompts: embedded prompt %q: %w", base, err)
	}
	return string(data), "embedded:" + rel, nil
}
