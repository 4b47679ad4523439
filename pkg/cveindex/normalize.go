// Package cveindex builds an immutable in-memory index from a template
// mirror, mapping canonical CVE identifiers to the templates that
// address them.
package cveindex

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidID indicates a string that is not a CVE identifier in any
// accepted spelling.
var ErrInvalidID = errors.New("invalid CVE identifier")

// cveForm accepts any case and requires a four-digit year and a
// sequence of at least four digits, the MITRE format.
var cveForm = regexp.MustCompile(`^(?i)cve-(\d{4})-(\d{4,})$`)

// Normalize canonicalizes a CVE identifier: uppercase prefix, leading
// zeros stripped from the sequence, then left-padded back to the
// four-digit minimum. "cve-2023-01234" and "CVE-2023-1234" both yield
// "CVE-2023-1234". Surrounding whitespace is tolerated.
func Normalize(id string) (string, error) {
	m := cveForm.FindStringSubmatch(strings.TrimSpace(id))
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	year, seq := m[1], m[2]
	seq = strings.TrimLeft(seq, "0")
	if seq == "" {
		seq = "0"
	}
	for len(seq) < 4 {
		seq = "0" + seq
	}
	return "CVE-" + year + "-" + seq, nil
}
