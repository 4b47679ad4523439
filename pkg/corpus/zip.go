package corpus

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractArchive unpacks a ZIP archive into destDir and returns the
// number of regular files written. Tag archives wrap their content in a
// single top-level directory; when every entry lives under one such
// directory it is collapsed so destDir holds the tree directly. Entries
// that would escape destDir fail the extraction. Non-regular entries
// (symlinks and the like) are skipped.
func extractArchive(ctx context.Context, zipPath, destDir string) (int, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open archive: %w", err)
	}
	defer r.Close()

	strip := topLevelDir(r.File)
	root := filepath.Clean(destDir)

	files := 0
	for _, entry := range r.File {
		if err := ctx.Err(); err != nil {
			return files, err
		}

		name := entry.Name
		if strip != "" {
			name = strings.TrimPrefix(name, strip)
			name = strings.TrimPrefix(name, "/")
		}
		if name == "" {
			continue
		}

		target := filepath.Join(root, filepath.FromSlash(name))
		if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return files, fmt.Errorf("archive entry escapes extraction root: %s", entry.Name)
		}

		mode := entry.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("failed to create directory: %w", err)
			}
		case mode.IsRegular():
			if err := extractFile(entry, target); err != nil {
				return files, err
			}
			files++
		default:
			// Symlinks and devices have no place in a template tree.
		}
	}
	return files, nil
}

// extractFile writes a single archive entry to target.
func extractFile(entry *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", entry.Name, err)
	}
	return nil
}

// topLevelDir returns the single directory every archive entry lives
// under, or "" when entries disagree or sit at the root.
func topLevelDir(entries []*zip.File) string {
	top := ""
	for _, entry := range entries {
		name := strings.TrimPrefix(entry.Name, "./")
		if name == "" || name == "/" {
			continue
		}
		first, rest, found := strings.Cut(name, "/")
		if !found || (rest == "" && !entry.Mode().IsDir()) {
			// A file at the archive root rules out collapsing.
			if !entry.Mode().IsDir() {
				return ""
			}
			first = strings.TrimSuffix(name, "/")
		}
		if first == "" {
			return ""
		}
		if top == "" {
			top = first
			continue
		}
		if top != first {
			return ""
		}
	}
	return top
}
