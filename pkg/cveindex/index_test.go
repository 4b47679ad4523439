package cveindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const log4jTemplate = `id: CVE-2021-44228
info:
  name: Apache Log4j2 Remote Code Injection
  author: melbadry9
  severity: critical
  description: JNDI features do not protect against attacker controlled endpoints.
  reference:
    - https://nvd.nist.gov/vuln/detail/CVE-2021-44228
  classification:
    cve-id: CVE-2021-44228
    cwe-id: CWE-917
    cvss-metrics: CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H
    cvss-score: 10.0
  tags: cve,cve2021,rce
http:
  - method: GET
    path:
      - "{{BaseURL}}"
`

const springMultiTemplate = `id: spring-cloud-function-rce
info:
  name: Spring Cloud Function SpEL Injection
  severity: critical
  classification:
    cve-id:
      - CVE-2022-22963
      - CVE-2022-22965
http:
  - method: POST
    path:
      - "{{BaseURL}}/functionRouter"
`

// No classification block; the id and filename carry the CVE.
const bareIDTemplate = `id: CVE-2023-0002
info:
  name: Bare Identifier Template
  severity: high
dns:
  - name: "{{FQDN}}"
`

const noCVETemplate = `id: tech-detect
info:
  name: Technology Detection
  severity: info
http:
  - method: GET
    path:
      - "{{BaseURL}}"
`

// writeMirror materializes a mirror tree under a temp dir.
func writeMirror(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

func standardMirror(t *testing.T) string {
	t.Helper()
	return writeMirror(t, map[string]string{
		"http/cves/2021/CVE-2021-44228.yaml": log4jTemplate,
		"http/cves/2022/spring-cloud.yaml":   springMultiTemplate,
		"dns/CVE-2023-0002.yaml":             bareIDTemplate,
		"http/technologies/tech-detect.yaml": noCVETemplate,
		"http/broken.yaml":                   "id: [unclosed",
		"README.md":                          "# not a template",
		".corpus_version":                    `{"version":"v10.3.5"}`,
	})
}

func TestBuildIndexesByCanonicalID(t *testing.T) {
	ix, warnings, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)

	assert.Equal(t, "v10.3.5", ix.Version())
	assert.False(t, ix.BuiltAt().IsZero())

	// log4j + spring (two ids) + bare id template.
	assert.Equal(t, 3, ix.TemplateCount())
	assert.Equal(t, 4, ix.Len())
	assert.Equal(t, []string{
		"CVE-2021-44228",
		"CVE-2022-22963",
		"CVE-2022-22965",
		"CVE-2023-0002",
	}, ix.IDs())

	// Exactly the malformed file warned about.
	require.Len(t, warnings, 1)
	assert.Equal(t, "http/broken.yaml", warnings[0].Path)
	assert.Error(t, warnings[0].Err)
}

func TestBuildRecordFields(t *testing.T) {
	ix, _, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)

	recs := ix.Lookup("CVE-2021-44228")
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, "http/cves/2021/CVE-2021-44228.yaml", rec.Path)
	assert.Equal(t, "CVE-2021-44228", rec.TemplateID)
	assert.Equal(t, "Apache Log4j2 Remote Code Injection", rec.Name)
	assert.Equal(t, "melbadry9", rec.Author)
	assert.Equal(t, "critical", rec.Severity)
	assert.Equal(t, []string{"https://nvd.nist.gov/vuln/detail/CVE-2021-44228"}, rec.Reference)
	assert.Equal(t, 10.0, rec.CVSSScore)
	assert.Equal(t, []string{"CWE-917"}, rec.CWE)
	assert.Equal(t, []string{"http"}, rec.Protocols)
	assert.Equal(t, log4jTemplate, rec.Content)
}

func TestBuildMultiCVETemplate(t *testing.T) {
	ix, _, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)

	for _, id := range []string{"CVE-2022-22963", "CVE-2022-22965"} {
		recs := ix.Lookup(id)
		require.Len(t, recs, 1, id)
		assert.Equal(t, "spring-cloud-function-rce", recs[0].TemplateID, id)
	}
}

func TestBuildIDAndFilenameFallback(t *testing.T) {
	ix, _, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)

	recs := ix.Lookup("CVE-2023-0002")
	require.Len(t, recs, 1)
	assert.Equal(t, "dns/CVE-2023-0002.yaml", recs[0].Path)
	assert.Equal(t, []string{"dns"}, recs[0].Protocols)
}

// A template whose classification, id, and filename all name the same
// CVE must appear once, not three times.
func TestBuildDeduplicatesSourcesWithinTemplate(t *testing.T) {
	ix, _, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)
	assert.Len(t, ix.Lookup("CVE-2021-44228"), 1)
}

func TestBuildOrdersRecordsByPath(t *testing.T) {
	mirror := writeMirror(t, map[string]string{
		"http/cves/2021/z-variant.yaml": log4jTemplate,
		"http/cves/2021/a-variant.yaml": log4jTemplate,
		"network/m-variant.yaml":        log4jTemplate,
	})
	ix, _, err := Build(mirror, "v10.3.5")
	require.NoError(t, err)

	recs := ix.Lookup("CVE-2021-44228")
	require.Len(t, recs, 3)
	assert.Equal(t, "http/cves/2021/a-variant.yaml", recs[0].Path)
	assert.Equal(t, "http/cves/2021/z-variant.yaml", recs[1].Path)
	assert.Equal(t, "network/m-variant.yaml", recs[2].Path)
}

// Two builds over the same tree produce the same mapping.
func TestBuildDeterministic(t *testing.T) {
	mirror := standardMirror(t)

	first, warn1, err := Build(mirror, "v10.3.5")
	require.NoError(t, err)
	second, warn2, err := Build(mirror, "v10.3.5")
	require.NoError(t, err)

	assert.Equal(t, first.byID, second.byID)
	assert.Equal(t, len(warn1), len(warn2))
}

func TestBuildMissingMirror(t *testing.T) {
	_, _, err := Build(filepath.Join(t.TempDir(), "absent"), "v10.3.5")
	require.Error(t, err)
}

func TestBuildEmptyMirror(t *testing.T) {
	ix, warnings, err := Build(t.TempDir(), "v10.3.5")
	require.NoError(t, err)
	assert.Zero(t, ix.Len())
	assert.Zero(t, ix.TemplateCount())
	assert.Empty(t, warnings)
}

func TestLookupUnknownID(t *testing.T) {
	ix, _, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)
	assert.Nil(t, ix.Lookup("CVE-1999-0001"))
}

// Lookup hands out copies; callers cannot corrupt the snapshot.
func TestLookupReturnsCopy(t *testing.T) {
	ix, _, err := Build(standardMirror(t), "v10.3.5")
	require.NoError(t, err)

	recs := ix.Lookup("CVE-2021-44228")
	require.NotEmpty(t, recs)
	recs[0].Name = "mutated"

	again := ix.Lookup("CVE-2021-44228")
	assert.Equal(t, "Apache Log4j2 Remote Code Injection", again[0].Name)
}

func TestYmlExtensionIndexed(t *testing.T) {
	mirror := writeMirror(t, map[string]string{
		"http/cves/CVE-2021-44228.yml": log4jTemplate,
	})
	ix, _, err := Build(mirror, "v10.3.5")
	require.NoError(t, err)
	assert.Len(t, ix.Lookup("CVE-2021-44228"), 1)
}
