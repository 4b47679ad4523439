package nuclei

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const basicTemplate = `
id: CVE-2021-44228
info:
  name: Apache Log4j2 Remote Code Injection
  author: melbadry9
  severity: critical
  description: Apache Log4j2 JNDI features do not protect against attacker controlled LDAP endpoints.
  reference:
    - https://nvd.nist.gov/vuln/detail/CVE-2021-44228
  classification:
    cve-id: CVE-2021-44228
    cwe-id: CWE-917
    cvss-metrics: CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H
    cvss-score: 10.0
  tags: cve,cve2021,rce,log4j
http:
  - method: GET
    path:
      - "{{BaseURL}}"
`

func TestParseTemplateBasic(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(basicTemplate))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if tmpl.ID != "CVE-2021-44228" {
		t.Errorf("expected id CVE-2021-44228, got %q", tmpl.ID)
	}
	if tmpl.Info.Name != "Apache Log4j2 Remote Code Injection" {
		t.Errorf("unexpected name: %q", tmpl.Info.Name)
	}
	if tmpl.Severity() != "critical" {
		t.Errorf("expected severity critical, got %q", tmpl.Severity())
	}
	if tmpl.Info.Classification == nil {
		t.Fatal("expected classification block")
	}
	if tmpl.Info.Classification.CVSSScore != 10.0 {
		t.Errorf("expected cvss-score 10.0, got %v", tmpl.Info.Classification.CVSSScore)
	}
}

func TestParseTemplateMissingID(t *testing.T) {
	_, err := ParseTemplate([]byte("info:\n  name: test\n"))
	if err == nil {
		t.Fatal("expected error for missing id")
	}
	if !strings.Contains(err.Error(), "id") {
		t.Errorf("error should mention id: %v", err)
	}
}

func TestParseTemplateMissingName(t *testing.T) {
	_, err := ParseTemplate([]byte("id: test-template\ninfo:\n  severity: low\n"))
	if err == nil {
		t.Fatal("expected error for missing info.name")
	}
	if !strings.Contains(err.Error(), "info.name") {
		t.Errorf("error should mention info.name: %v", err)
	}
}

func TestParseTemplateInvalidYAML(t *testing.T) {
	_, err := ParseTemplate([]byte("id: [unclosed"))
	if err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestCVEIDsScalar(t *testing.T) {
	tmpl, err := ParseTemplate([]byte(basicTemplate))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	ids := tmpl.CVEIDs()
	if len(ids) != 1 || ids[0] != "CVE-2021-44228" {
		t.Errorf("expected [CVE-2021-44228], got %v", ids)
	}
}

func TestCVEIDsList(t *testing.T) {
	data := `
id: spring-multi
info:
  name: Spring Framework RCE
  severity: critical
  classification:
    cve-id:
      - CVE-2022-22963
      - CVE-2022-22965
`
	tmpl, err := ParseTemplate([]byte(data))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	ids := tmpl.CVEIDs()
	if len(ids) != 2 {
		t.Fatalf("expected 2 cve ids, got %v", ids)
	}
	if ids[0] != "CVE-2022-22963" || ids[1] != "CVE-2022-22965" {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestCVEIDsTrimsBlanks(t *testing.T) {
	data := `
id: blanky
info:
  name: Blank Entries
  classification:
    cve-id:
      - " CVE-2020-1234 "
      - ""
`
	tmpl, err := ParseTemplate([]byte(data))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	ids := tmpl.CVEIDs()
	if len(ids) != 1 || ids[0] != "CVE-2020-1234" {
		t.Errorf("expected trimmed single id, got %v", ids)
	}
}

func TestCVEIDsNoClassification(t *testing.T) {
	tmpl, err := ParseTemplate([]byte("id: plain\ninfo:\n  name: Plain\n"))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if ids := tmpl.CVEIDs(); ids != nil {
		t.Errorf("expected nil ids, got %v", ids)
	}
}

func TestCWEAcceptsScalar(t *testing.T) {
	data := `
id: cwe-scalar
info:
  name: CWE As Scalar
  classification:
    cwe-id: CWE-89
`
	tmpl, err := ParseTemplate([]byte(data))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	cwe := tmpl.Info.Classification.CWE
	if len(cwe) != 1 || cwe[0] != "CWE-89" {
		t.Errorf("expected [CWE-89], got %v", cwe)
	}
}

func TestStringOrSliceRejectsMapping(t *testing.T) {
	data := `
id: bad-shape
info:
  name: Bad Shape
  classification:
    cve-id:
      nested: true
`
	if _, err := ParseTemplate([]byte(data)); err == nil {
		t.Fatal("expected error for mapping-valued cve-id")
	}
}

func TestProtocols(t *testing.T) {
	data := `
id: multi-proto
info:
  name: Multi Protocol
dns:
  - name: "{{FQDN}}"
network:
  - host:
      - "{{Hostname}}"
`
	tmpl, err := ParseTemplate([]byte(data))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	got := tmpl.Protocols()
	want := []string{"dns", "network"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("protocol %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestProtocolsLegacyRequests(t *testing.T) {
	data := `
id: legacy
info:
  name: Legacy Requests Key
requests:
  - method: GET
    path:
      - "{{BaseURL}}"
`
	tmpl, err := ParseTemplate([]byte(data))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	got := tmpl.Protocols()
	if len(got) != 1 || got[0] != "http" {
		t.Errorf("expected [http], got %v", got)
	}
}

func TestSeverityDefaultsToUnknown(t *testing.T) {
	tmpl, err := ParseTemplate([]byte("id: nosev\ninfo:\n  name: No Severity\n"))
	if err != nil {
		t.Fatalf("ParseTemplate failed: %v", err)
	}
	if tmpl.Severity() != "unknown" {
		t.Errorf("expected unknown, got %q", tmpl.Severity())
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(basicTemplate), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tmpl, err := LoadTemplate(path)
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	if tmpl.ID != "CVE-2021-44228" {
		t.Errorf("unexpected id: %q", tmpl.ID)
	}
}

func TestLoadTemplateMissingFile(t *testing.T) {
	_, err := LoadTemplate(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read template") {
		t.Errorf("unexpected error: %v", err)
	}
}
