// Package corpus manages the on-disk mirror of the template corpus: a
// version-addressed directory tree that is replaced atomically and a
// marker file that records which version the tree holds.
//
// The marker is written into a staging tree as the final step before
// the swap, so a readable marker inside the mirror witnesses that the
// whole tree for that version was on disk when it became visible.
package corpus

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/jsonutil"
)

// VersionRecord is the content of the version marker file.
type VersionRecord struct {
	Version   string    `json:"version"`
	AppliedAt time.Time `json:"applied_at"`
}

// Store locates the mirror and its transient siblings under a storage
// root and answers which corpus version is currently on disk.
type Store struct {
	root string
	log  *logrus.Entry
}

// NewStore returns a Store rooted at the given storage path.
func NewStore(root string) *Store {
	return &Store{
		root: root,
		log:  logrus.WithField("component", "mirror"),
	}
}

// Root returns the storage root.
func (s *Store) Root() string {
	return s.root
}

// MirrorDir returns the path the mirror is swapped into.
func (s *Store) MirrorDir() string {
	return filepath.Join(s.root, defaults.MirrorDirName)
}

// Current returns the version record of the mirror on disk. ok is false
// when there is no mirror, or when the marker is missing or unreadable,
// in which case the tree must be treated as absent.
func (s *Store) Current() (VersionRecord, bool) {
	rec, err := readMarker(s.MirrorDir())
	if err != nil {
		return VersionRecord{}, false
	}
	return rec, true
}

// CleanStaging removes transient artifacts a previous process may have
// left under the root: staging trees, downloaded archives, and displaced
// old mirrors. The mirror itself is never touched. Returns the names of
// removed entries.
func (s *Store) CleanStaging() ([]string, error) {
	patterns := []string{
		defaults.MirrorDirName + ".stage-*",
		defaults.MirrorDirName + ".zip-*",
		defaults.MirrorDirName + ".old-*",
	}

	var removed []string
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(s.root, pattern))
		if err != nil {
			return removed, fmt.Errorf("failed to scan storage root: %w", err)
		}
		for _, match := range matches {
			if err := os.RemoveAll(match); err != nil {
				return removed, fmt.Errorf("failed to remove stale artifact %s: %w", match, err)
			}
			removed = append(removed, filepath.Base(match))
		}
	}

	if len(removed) > 0 {
		s.log.WithField("removed", removed).Info("cleaned stale staging artifacts")
	}
	return removed, nil
}

// markerPath returns the marker location inside dir.
func markerPath(dir string) string {
	return filepath.Join(dir, defaults.VersionMarkerName)
}

// readMarker reads and parses the version marker inside dir.
func readMarker(dir string) (VersionRecord, error) {
	data, err := os.ReadFile(markerPath(dir))
	if err != nil {
		return VersionRecord{}, fmt.Errorf("failed to read version marker: %w", err)
	}
	var rec VersionRecord
	if err := jsonutil.Unmarshal(data, &rec); err != nil {
		return VersionRecord{}, fmt.Errorf("failed to parse version marker: %w", err)
	}
	if rec.Version == "" {
		return VersionRecord{}, fmt.Errorf("version marker has no version")
	}
	return rec, nil
}

// writeMarker writes the version marker into dir.
func writeMarker(dir string, rec VersionRecord) error {
	data, err := jsonutil.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode version marker: %w", err)
	}
	if err := os.WriteFile(markerPath(dir), data, 0o644); err != nil {
		return fmt.Errorf("failed to write version marker: %w", err)
	}
	return nil
}
