// Package doctor runs local diagnostics: backend reachability, connection
// graph sanity, and the security audit, collected into one report.
package doctor

import (
	"fmt"
	"net"
	"net/url"
	"sort"

	"github.com/calebmh/termdock/internal/appconfig"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/security"
	"github.com/calebmh/termdock/internal/util"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type Issue struct {
	Severity       Severity `json:"severity"`
	Check          string   `json:"check"`
	Target         string   `json:"target"`
	Message        string   `json:"message"`
	Recommendation string   `json:"recommendation"`
}

type Report struct {
	Issues []Issue `json:"issues"`
}

// Resolver is the registry surface the doctor needs: the connection list and
// the jump-chain resolution that surfaces cycles and over-deep chains.
type Resolver interface {
	List() []model.Connection
	ResolveConfig(id string) (gateway.ConnectConfig, error)
}

// Run executes all diagnostics.
func Run(cfg appconfig.Config, reg Resolver) (Report, error) {
	var issues []Issue

	issues = append(issues, backendIssues(cfg)...)

	conns := reg.List()
	issues = append(issues, chainIssues(reg, conns)...)
	issues = append(issues, duplicateNameIssues(conns)...)
	issues = append(issues, duplicateBindIssues(conns)...)

	if audit, err := security.RunLocalAudit(conns); err == nil {
		for _, f := range audit.Findings {
			issues = append(issues, Issue{
				Severity:       Severity(f.Severity),
				Check:          "security-audit",
				Target:         f.Target,
				Message:        f.Message,
				Recommendation: f.Recommendation,
			})
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		ri := severityRank(issues[i].Severity)
		rj := severityRank(issues[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if issues[i].Check != issues[j].Check {
			return issues[i].Check < issues[j].Check
		}
		if issues[i].Target != issues[j].Target {
			return issues[i].Target < issues[j].Target
		}
		return issues[i].Message < issues[j].Message
	})
	return Report{Issues: issues}, nil
}

func backendIssues(cfg appconfig.Config) []Issue {
	if cfg.Backend.Addr == "" {
		return []Issue{{
			Severity:       SeverityLow,
			Check:          "backend-config",
			Target:         "config.yaml",
			Message:        "no backend address configured, remote connections are unavailable",
			Recommendation: "set backend.addr to the gateway's websocket URL",
		}}
	}
	u, err := url.Parse(cfg.Backend.Addr)
	if err != nil || u.Host == "" {
		return []Issue{{
			Severity:       SeverityHigh,
			Check:          "backend-config",
			Target:         cfg.Backend.Addr,
			Message:        "backend address is not a valid URL",
			Recommendation: "use a ws:// or wss:// URL with a host and port",
		}}
	}
	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "wss":
			host = net.JoinHostPort(u.Hostname(), "443")
		default:
			host = net.JoinHostPort(u.Hostname(), "80")
		}
	}
	conn, err := net.DialTimeout("tcp", host, util.BackendDialTimeout)
	if err != nil {
		return []Issue{{
			Severity:       SeverityHigh,
			Check:          "backend-reachability",
			Target:         host,
			Message:        fmt.Sprintf("cannot reach backend: %v", err),
			Recommendation: "check that the gateway is running and the address is correct",
		}}
	}
	conn.Close()
	return nil
}

func chainIssues(reg Resolver, conns []model.Connection) []Issue {
	var issues []Issue
	for _, c := range conns {
		if c.IsLocal() {
			continue
		}
		if _, err := reg.ResolveConfig(c.ID); err != nil {
			issues = append(issues, Issue{
				Severity:       SeverityHigh,
				Check:          "jump-chain",
				Target:         c.DisplayName(),
				Message:        err.Error(),
				Recommendation: "fix the jump server reference so the chain resolves",
			})
		}
	}
	return issues
}

func duplicateNameIssues(conns []model.Connection) []Issue {
	seen := map[string][]string{}
	for _, c := range conns {
		if c.IsLocal() {
			continue
		}
		seen[c.DisplayName()] = append(seen[c.DisplayName()], c.ID)
	}
	var issues []Issue
	for name, ids := range seen {
		if len(ids) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityMedium,
			Check:          "duplicate-name",
			Target:         name,
			Message:        fmt.Sprintf("%d connections share this name", len(ids)),
			Recommendation: "rename connections so tabs and logs are unambiguous",
		})
	}
	return issues
}

func duplicateBindIssues(conns []model.Connection) []Issue {
	seen := map[string][]string{}
	for _, c := range conns {
		for _, fwd := range c.Forwards {
			key := util.HostPort(util.NormalizeAddr(fwd.LocalAddr, "127.0.0.1"), fwd.LocalPort)
			seen[key] = append(seen[key], c.DisplayName())
		}
	}
	var issues []Issue
	for bind, refs := range seen {
		if len(refs) < 2 {
			continue
		}
		issues = append(issues, Issue{
			Severity:       SeverityHigh,
			Check:          "duplicate-local-bind",
			Target:         bind,
			Message:        fmt.Sprintf("local bind is configured by %d connections", len(refs)),
			Recommendation: "use unique local ports per forward to avoid startup conflicts",
		})
	}
	return issues
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
