// Package security inspects local file posture and stored credentials.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calebmh/termdock/internal/appconfig"
	"github.com/calebmh/termdock/internal/model"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Finding struct {
	Severity       Severity `json:"severity"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type AuditReport struct {
	Findings []Finding `json:"findings"`
}

func (r AuditReport) HasHigh() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityHigh {
			return true
		}
	}
	return false
}

// RunLocalAudit inspects the config directory, the key files referenced by
// the given connections, and how their credentials are stored.
func RunLocalAudit(conns []model.Connection) (AuditReport, error) {
	var findings []Finding

	cfgDir, err := appconfig.ConfigDir()
	if err == nil {
		checkPathPerm(&findings, cfgDir, 0o700, false)
		checkPathPerm(&findings, filepath.Join(cfgDir, "config.yaml"), 0o600, true)
		checkPathPerm(&findings, filepath.Join(cfgDir, "connections.json"), 0o600, true)
	}

	home, _ := os.UserHomeDir()
	seen := map[string]struct{}{}
	for _, c := range conns {
		if c.IsLocal() {
			continue
		}
		if c.AuthMethod == model.AuthPassword && c.Password != "" {
			findings = append(findings, Finding{
				Severity:       SeverityHigh,
				Target:         c.DisplayName(),
				Message:        "connection stores a plaintext password",
				Recommendation: "switch to key authentication or let the backend prompt",
			})
		}
		key := strings.TrimSpace(c.KeyPath)
		if key == "" {
			continue
		}
		if strings.HasPrefix(key, "~/") && home != "" {
			key = filepath.Join(home, key[2:])
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		checkPathPerm(&findings, key, 0o600, true)
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Severity != findings[j].Severity {
			return severityRank(findings[i].Severity) > severityRank(findings[j].Severity)
		}
		if findings[i].Target != findings[j].Target {
			return findings[i].Target < findings[j].Target
		}
		return findings[i].Message < findings[j].Message
	})
	return AuditReport{Findings: findings}, nil
}

func severityRank(s Severity) int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	default:
		return 1
	}
}

func checkPathPerm(findings *[]Finding, path string, max os.FileMode, isFile bool) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityLow,
			Target:         path,
			Message:        fmt.Sprintf("unable to inspect permissions: %v", err),
			Recommendation: "verify path and permissions manually",
		})
		return
	}
	mode := st.Mode().Perm()
	if mode > max {
		kind := "directory"
		if isFile {
			kind = "file"
		}
		*findings = append(*findings, Finding{
			Severity:       SeverityMedium,
			Target:         path,
			Message:        fmt.Sprintf("%s permissions are too broad (%#o)", kind, mode),
			Recommendation: fmt.Sprintf("restrict permissions to %#o or tighter", max),
		})
	}
}
