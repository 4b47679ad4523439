// Package wafcontext serves the rules-language reference documents:
// actions, expressions, fields, functions, operators, and values.
//
// The documents ship embedded so they are available regardless of
// installation method. An optional override directory lets operators
// swap in their own copies; a document missing from the override
// directory falls back to the embedded one.
package wafcontext

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

//go:embed docs/*.md
var docsFS embed.FS

// names lists the context documents in serving order.
var names = []string{"actions", "expressions", "fields", "functions", "operators", "values"}

// Names returns the context document names in serving order.
func Names() []string {
	out := make([]string, len(names))
	copy(out, names)
	return out
}

// Known reports whether name is a context document.
func Known(name string) bool {
	i := sort.SearchStrings(names, name)
	return i < len(names) && names[i] == name
}

// Store reads context documents, preferring an override directory over
// the embedded copies.
type Store struct {
	dir string
	log *logrus.Entry
}

// NewStore returns a Store. An empty dir serves embedded documents
// only.
func NewStore(dir string) *Store {
	return &Store{
		dir: dir,
		log: logrus.WithField("component", "wafcontext"),
	}
}

// Read returns one context document by name.
func (s *Store) Read(name string) (string, error) {
	if !Known(name) {
		return "", fmt.Errorf("wafcontext: unknown context %q", name)
	}

	if s.dir != "" {
		path := filepath.Join(s.dir, name+".md")
		data, err := os.ReadFile(path)
		if err == nil {
			s.log.WithFields(logrus.Fields{
				"context": name,
				"source":  "disk:" + path,
			}).Debug("context read")
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			s.log.WithError(err).WithField("context", name).Warn("context override unreadable, serving embedded copy")
		}
	}

	data, err := docsFS.ReadFile("docs/" + name + ".md")
	if err != nil {
		return "", fmt.Errorf("wafcontext: embedded context %q: %w", name, err)
	}
	s.log.WithFields(logrus.Fields{
		"context": name,
		"source":  "embedded:docs/" + name + ".md",
	}).Debug("context read")
	return string(data), nil
}

// All returns every context document keyed by name. A document that
// cannot be read is present with an empty value so callers always see
// the full set of keys.
func (s *Store) All() map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		doc, err := s.Read(name)
		if err != nil {
			s.log.WithError(err).WithField("context", name).Error("failed to read context")
		}
		out[name] = doc
	}
	return out
}
