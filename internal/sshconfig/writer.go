package sshconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/util"
)

// Export renders connections as an OpenSSH config document. The local
// pseudo-connection is skipped; jump references that point at a connection
// outside the exported set are dropped with a warning since the alias would
// dangle.
func Export(conns []model.Connection) (string, []string) {
	aliasByID := map[string]string{}
	for _, c := range conns {
		if !c.IsLocal() {
			aliasByID[c.ID] = exportAlias(c)
		}
	}

	sorted := append([]model.Connection(nil), conns...)
	sort.Slice(sorted, func(i, j int) bool { return exportAlias(sorted[i]) < exportAlias(sorted[j]) })

	var b strings.Builder
	var warnings []string
	for _, c := range sorted {
		if c.IsLocal() {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		block, w := formatHostBlock(c, aliasByID)
		warnings = append(warnings, w...)
		b.WriteString(block)
	}
	return b.String(), warnings
}

// WriteFile writes the exported document to path, creating parent
// directories. The file is user-readable only, matching ssh's expectations.
func WriteFile(path string, conns []model.Connection) ([]string, error) {
	doc, warnings := Export(conns)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return warnings, fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		return warnings, fmt.Errorf("write %s: %w", path, err)
	}
	return warnings, nil
}

func formatHostBlock(c model.Connection, aliasByID map[string]string) (string, []string) {
	var b strings.Builder
	var warnings []string
	alias := exportAlias(c)
	b.WriteString(fmt.Sprintf("Host %s\n", alias))
	if c.Host != "" && c.Host != alias {
		b.WriteString(fmt.Sprintf("  HostName %s\n", c.Host))
	}
	if c.Username != "" {
		b.WriteString(fmt.Sprintf("  User %s\n", c.Username))
	}
	if c.Port != 0 && c.Port != 22 {
		b.WriteString(fmt.Sprintf("  Port %d\n", c.Port))
	}
	if c.AuthMethod == model.AuthKey && c.KeyPath != "" {
		b.WriteString(fmt.Sprintf("  IdentityFile %s\n", c.KeyPath))
	}
	if c.JumpServerID != "" {
		if jumpAlias, ok := aliasByID[c.JumpServerID]; ok {
			b.WriteString(fmt.Sprintf("  ProxyJump %s\n", jumpAlias))
		} else {
			warnings = append(warnings, fmt.Sprintf("host %s: jump server %s not in export set", alias, c.JumpServerID))
		}
	}
	for _, fwd := range c.Forwards {
		local := util.HostPort(util.NormalizeAddr(fwd.LocalAddr, "127.0.0.1"), fwd.LocalPort)
		remote := util.HostPort(util.NormalizeAddr(fwd.RemoteAddr, "localhost"), fwd.RemotePort)
		b.WriteString(fmt.Sprintf("  LocalForward %s %s\n", local, remote))
	}
	return b.String(), warnings
}

// exportAlias picks the Host alias for a connection: the display name with
// whitespace collapsed, falling back to the host.
func exportAlias(c model.Connection) string {
	name := strings.Join(strings.Fields(c.DisplayName()), "-")
	if name == "" {
		name = c.Host
	}
	return name
}
