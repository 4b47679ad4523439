package cveindex

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/gen0sec/wafrules-mcp/pkg/iohelper"
	"github.com/gen0sec/wafrules-mcp/pkg/nuclei"
)

// Record is one template file that addresses a CVE. It carries the raw
// template content so lookups never touch the filesystem.
type Record struct {
	Path        string   `json:"path"`
	TemplateID  string   `json:"template_id"`
	Name        string   `json:"name"`
	Author      string   `json:"author,omitempty"`
	Severity    string   `json:"severity"`
	Description string   `json:"description,omitempty"`
	Reference   []string `json:"reference,omitempty"`
	Tags        string   `json:"tags,omitempty"`
	CVSSScore   float64  `json:"cvss_score,omitempty"`
	CVSSMetrics string   `json:"cvss_metrics,omitempty"`
	CWE         []string `json:"cwe,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
	Protocols   []string `json:"protocols,omitempty"`
	Content     string   `json:"-"`
}

// Warning records a file the indexer skipped.
type Warning struct {
	Path string
	Err  error
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %v", w.Path, w.Err)
}

// Index is an immutable snapshot mapping canonical CVE ids to records.
// Construct with Build; never mutate after that.
type Index struct {
	version   string
	builtAt   time.Time
	byID      map[string][]Record
	templates int
}

// Build walks mirrorDir and indexes every parseable template that
// declares at least one CVE identifier. Identifiers are collected from
// the classification block, the template id, and the file basename;
// every distinct value that parses as a CVE id counts. Malformed files
// become warnings, templates without CVE ids are skipped silently.
//
// The result is a pure function of the tree content: records for an id
// are ordered by mirror-relative path.
func Build(mirrorDir, version string) (*Index, []Warning, error) {
	ix := &Index{
		version: version,
		builtAt: time.Now().UTC(),
		byID:    make(map[string][]Record),
	}
	var warnings []Warning

	fsys := os.DirFS(mirrorDir)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return fmt.Errorf("failed to read mirror: %w", err)
			}
			warnings = append(warnings, Warning{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ext := path.Ext(p)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		rec, ids, perr := indexFile(fsys, p)
		if perr != nil {
			warnings = append(warnings, Warning{Path: p, Err: perr})
			return nil
		}
		if len(ids) == 0 {
			return nil
		}

		ix.templates++
		for _, id := range ids {
			ix.byID[id] = append(ix.byID[id], rec)
		}
		return nil
	})
	if err != nil {
		return nil, warnings, err
	}

	// fs.WalkDir visits lexically, but keep the ordering contract
	// independent of walk internals.
	for _, recs := range ix.byID {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
	}
	return ix, warnings, nil
}

// indexFile parses one template file and returns its record and the
// canonical CVE ids it is indexed under.
func indexFile(fsys fs.FS, p string) (Record, []string, error) {
	f, err := fsys.Open(p)
	if err != nil {
		return Record{}, nil, fmt.Errorf("failed to read template: %w", err)
	}
	data, err := iohelper.ReadBody(f, iohelper.LargeMaxBodySize)
	f.Close()
	if err != nil {
		return Record{}, nil, fmt.Errorf("failed to read template: %w", err)
	}

	tmpl, err := nuclei.ParseTemplate(data)
	if err != nil {
		return Record{}, nil, err
	}

	ids := extractIDs(tmpl, p)
	if len(ids) == 0 {
		return Record{}, nil, nil
	}

	rec := Record{
		Path:        p,
		TemplateID:  tmpl.ID,
		Name:        tmpl.Info.Name,
		Author:      tmpl.Info.Author,
		Severity:    tmpl.Severity(),
		Description: tmpl.Info.Description,
		Reference:   tmpl.Info.Reference,
		Tags:        tmpl.Info.Tags,
		Remediation: tmpl.Info.Remediation,
		Protocols:   tmpl.Protocols(),
		Content:     string(data),
	}
	if cls := tmpl.Info.Classification; cls != nil {
		rec.CVSSScore = cls.CVSSScore
		rec.CVSSMetrics = cls.CVSSMetrics
		rec.CWE = cls.CWE
	}
	return rec, ids, nil
}

// extractIDs collects the distinct canonical CVE ids a template should
// be indexed under: classification entries first, then the template id,
// then the file basename.
func extractIDs(tmpl *nuclei.Template, p string) []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(raw string) {
		canonical, err := Normalize(raw)
		if err != nil || seen[canonical] {
			return
		}
		seen[canonical] = true
		ids = append(ids, canonical)
	}

	for _, raw := range tmpl.CVEIDs() {
		add(raw)
	}
	add(tmpl.ID)
	add(strings.TrimSuffix(path.Base(p), path.Ext(p)))
	return ids
}

// Version returns the corpus version the index was built from.
func (ix *Index) Version() string {
	return ix.version
}

// BuiltAt returns when the index was built.
func (ix *Index) BuiltAt() time.Time {
	return ix.builtAt
}

// Len returns the number of distinct CVE ids.
func (ix *Index) Len() int {
	return len(ix.byID)
}

// TemplateCount returns the number of template files indexed.
func (ix *Index) TemplateCount() int {
	return ix.templates
}

// Lookup returns the records for a canonical CVE id, ordered by path,
// or nil when the id is unknown. The returned slice is the caller's to
// keep; the index itself is never exposed for mutation.
func (ix *Index) Lookup(canonicalID string) []Record {
	recs, ok := ix.byID[canonicalID]
	if !ok {
		return nil
	}
	out := make([]Record, len(recs))
	copy(out, recs)
	return out
}

// IDs returns every indexed CVE id in lexicographic order.
func (ix *Index) IDs() []string {
	out := make([]string, 0, len(ix.byID))
	for id := range ix.byID {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
