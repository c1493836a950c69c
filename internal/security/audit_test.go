package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calebmh/termdock/internal/model"
)

func TestAuditFlagsPlaintextPassword(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	conns := []model.Connection{
		{ID: model.LocalConnectionID, Name: "Local", Password: "ignored"},
		{ID: "c1", Name: "api", Host: "api.internal", AuthMethod: model.AuthPassword, Password: "hunter2"},
		{ID: "c2", Name: "db", Host: "10.0.0.5", AuthMethod: model.AuthKey},
	}

	report, err := RunLocalAudit(conns)
	if err != nil {
		t.Fatal(err)
	}
	if !report.HasHigh() {
		t.Fatal("plaintext password should be a high finding")
	}
	var found bool
	for _, f := range report.Findings {
		if f.Target == "api" && strings.Contains(f.Message, "plaintext password") {
			found = true
		}
		if f.Target == "Local" {
			t.Fatal("local pseudo-connection must be skipped")
		}
	}
	if !found {
		t.Fatalf("findings = %+v", report.Findings)
	}
}

func TestAuditFlagsBroadKeyPermissions(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	key := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(key, []byte("key"), 0o644); err != nil {
		t.Fatal(err)
	}

	conns := []model.Connection{
		{ID: "c1", Host: "a", AuthMethod: model.AuthKey, KeyPath: key},
		{ID: "c2", Host: "b", AuthMethod: model.AuthKey, KeyPath: key},
	}
	report, err := RunLocalAudit(conns)
	if err != nil {
		t.Fatal(err)
	}

	var hits int
	for _, f := range report.Findings {
		if f.Target == key {
			hits++
			if f.Severity != SeverityMedium {
				t.Fatalf("severity = %s", f.Severity)
			}
		}
	}
	// The shared key file is checked once even though two connections use it.
	if hits != 1 {
		t.Fatalf("key flagged %d times: %+v", hits, report.Findings)
	}
}

func TestAuditTightKeyIsClean(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	key := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(key, []byte("key"), 0o600); err != nil {
		t.Fatal(err)
	}

	report, err := RunLocalAudit([]model.Connection{
		{ID: "c1", Host: "a", AuthMethod: model.AuthKey, KeyPath: key},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range report.Findings {
		if f.Target == key {
			t.Fatalf("tight key flagged: %+v", f)
		}
	}
}

func TestAuditFlagsBroadConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfgDir := filepath.Join(dir, "termdock")
	if err := os.MkdirAll(cfgDir, 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("backend: {}\n"), 0o664); err != nil {
		t.Fatal(err)
	}

	report, err := RunLocalAudit(nil)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, f := range report.Findings {
		if strings.HasSuffix(f.Target, "config.yaml") && strings.Contains(f.Message, "too broad") {
			found = true
		}
	}
	if !found {
		t.Fatalf("findings = %+v", report.Findings)
	}
}

func TestAuditOrdersBySeverity(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	key := filepath.Join(t.TempDir(), "loose")
	if err := os.WriteFile(key, []byte("key"), 0o644); err != nil {
		t.Fatal(err)
	}
	conns := []model.Connection{
		{ID: "c1", Name: "api", Host: "a", AuthMethod: model.AuthPassword, Password: "x", KeyPath: key},
	}

	report, err := RunLocalAudit(conns)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Findings) < 2 {
		t.Fatalf("findings = %+v", report.Findings)
	}
	if report.Findings[0].Severity != SeverityHigh {
		t.Fatalf("first finding = %+v", report.Findings[0])
	}
}
