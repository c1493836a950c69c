// Package sshconfig imports OpenSSH client config files into the connection
// model and exports connections back out. Jump hosts declared with ProxyJump
// are linked to the imported connection that declares the referenced alias.
package sshconfig

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/calebmh/termdock/internal/model"
)

// maxIncludeDepth bounds Include recursion so a config that includes itself
// through a glob cannot loop forever.
const maxIncludeDepth = 16

// ImportResult holds the connections compiled from a config tree plus
// warnings for anything that was skipped or could not be linked.
type ImportResult struct {
	Connections []model.Connection
	Warnings    []string
}

type hostBlock struct {
	patterns []string
	values   map[string][]string
}

// ImportDefault imports ~/.ssh/config.
func ImportDefault() (ImportResult, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return ImportResult{}, fmt.Errorf("resolve home dir: %w", err)
	}
	return ImportFile(filepath.Join(home, ".ssh", "config"))
}

// ImportFile imports a root config file, following Include directives.
func ImportFile(path string) (ImportResult, error) {
	seen := map[string]bool{}
	blocks, warnings, err := readBlocks(path, seen, 0)
	if err != nil {
		return ImportResult{}, err
	}
	conns, linkWarnings := compile(blocks)
	return ImportResult{Connections: conns, Warnings: append(warnings, linkWarnings...)}, nil
}

func readBlocks(path string, seen map[string]bool, depth int) ([]hostBlock, []string, error) {
	if depth > maxIncludeDepth {
		return nil, nil, fmt.Errorf("include depth exceeded at %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, nil, err
	}
	if seen[abs] {
		return nil, []string{fmt.Sprintf("include cycle skipped: %s", abs)}, nil
	}
	seen[abs] = true

	f, err := os.Open(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, []string{fmt.Sprintf("config file not found: %s", abs)}, nil
		}
		return nil, nil, fmt.Errorf("open %s: %w", abs, err)
	}
	defer f.Close()

	var (
		blocks   []hostBlock
		warnings []string
		current  hostBlock
		open     bool
	)
	flush := func() {
		if open {
			blocks = append(blocks, current)
			open = false
		}
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := stripComment(strings.TrimSpace(scanner.Text()))
		if line == "" {
			continue
		}
		key, value, ok := splitDirective(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d invalid directive", abs, lineNo))
			continue
		}

		switch strings.ToLower(key) {
		case "include":
			for _, pattern := range strings.Fields(value) {
				inc := expandHome(pattern)
				if !filepath.IsAbs(inc) {
					inc = filepath.Join(filepath.Dir(abs), inc)
				}
				matches, globErr := filepath.Glob(inc)
				if globErr != nil {
					warnings = append(warnings, fmt.Sprintf("%s:%d bad include pattern %q", abs, lineNo, pattern))
					continue
				}
				sort.Strings(matches)
				for _, m := range matches {
					child, childWarnings, childErr := readBlocks(m, seen, depth+1)
					warnings = append(warnings, childWarnings...)
					if childErr != nil {
						warnings = append(warnings, fmt.Sprintf("include %s failed: %v", m, childErr))
						continue
					}
					blocks = append(blocks, child...)
				}
			}
		case "host":
			flush()
			patterns := strings.Fields(value)
			if len(patterns) == 0 {
				warnings = append(warnings, fmt.Sprintf("%s:%d Host missing patterns", abs, lineNo))
				continue
			}
			current = hostBlock{patterns: patterns, values: map[string][]string{}}
			open = true
		default:
			if open {
				current.values[strings.ToLower(key)] = append(current.values[strings.ToLower(key)], value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("scan %s: %w", abs, err)
	}
	flush()
	return blocks, warnings, nil
}

// compile turns host blocks into connections. Only concrete aliases become
// connections; wildcard blocks contribute settings to the aliases they match.
// ProxyJump directives are resolved to connection ids in a second pass so
// forward references between blocks work.
func compile(blocks []hostBlock) ([]model.Connection, []string) {
	var warnings []string

	aliasSet := map[string]struct{}{}
	for _, b := range blocks {
		for _, p := range b.patterns {
			if isConcreteAlias(p) {
				aliasSet[p] = struct{}{}
			}
		}
	}
	aliases := make([]string, 0, len(aliasSet))
	for a := range aliasSet {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)

	idByAlias := map[string]string{}
	jumpByAlias := map[string]string{}
	conns := make([]model.Connection, 0, len(aliases))
	for _, alias := range aliases {
		c := model.Connection{
			ID:         uuid.NewString(),
			Name:       alias,
			Host:       alias,
			Port:       22,
			AuthMethod: model.AuthPassword,
		}
		for _, b := range blocks {
			if !matchesAny(alias, b.patterns) {
				continue
			}
			if vals := b.values["hostname"]; len(vals) > 0 {
				c.Host = vals[len(vals)-1]
			}
			if vals := b.values["user"]; len(vals) > 0 {
				c.Username = vals[len(vals)-1]
			}
			if vals := b.values["port"]; len(vals) > 0 {
				if p, err := strconv.Atoi(vals[len(vals)-1]); err == nil {
					c.Port = p
				}
			}
			if vals := b.values["identityfile"]; len(vals) > 0 {
				c.KeyPath = expandHome(vals[len(vals)-1])
				c.AuthMethod = model.AuthKey
			}
			if vals := b.values["proxyjump"]; len(vals) > 0 {
				jumpByAlias[alias] = vals[len(vals)-1]
			}
			if vals := b.values["localforward"]; len(vals) > 0 {
				for _, lf := range vals {
					if fwd, ok := parseLocalForward(lf); ok {
						c.Forwards = append(c.Forwards, fwd)
					} else {
						warnings = append(warnings, fmt.Sprintf("host %s: unparsable LocalForward %q", alias, lf))
					}
				}
			}
		}
		idByAlias[alias] = c.ID
		conns = append(conns, c)
	}

	for i := range conns {
		jump, ok := jumpByAlias[conns[i].Name]
		if !ok || strings.EqualFold(jump, "none") {
			continue
		}
		hops := strings.Split(jump, ",")
		first := strings.TrimSpace(hops[0])
		if len(hops) > 1 {
			warnings = append(warnings, fmt.Sprintf("host %s: only first ProxyJump hop imported, dropping %d more", conns[i].Name, len(hops)-1))
		}
		id, ok := idByAlias[first]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("host %s: ProxyJump %q does not name an imported host", conns[i].Name, first))
			continue
		}
		conns[i].JumpServerID = id
	}
	return conns, warnings
}

func parseLocalForward(v string) (model.ForwardSpec, bool) {
	parts := strings.Fields(v)
	if len(parts) != 2 {
		return model.ForwardSpec{}, false
	}
	localAddr, localPort, ok := parseEndpoint(parts[0], "127.0.0.1")
	if !ok {
		return model.ForwardSpec{}, false
	}
	remoteAddr, remotePort, ok := parseEndpoint(parts[1], "localhost")
	if !ok {
		return model.ForwardSpec{}, false
	}
	return model.ForwardSpec{LocalAddr: localAddr, LocalPort: localPort, RemoteAddr: remoteAddr, RemotePort: remotePort}, true
}

func parseEndpoint(s, defaultAddr string) (string, int, bool) {
	addr := defaultAddr
	portStr := s
	if i := strings.LastIndex(s, ":"); i >= 0 {
		if s[:i] != "" {
			addr = s[:i]
		}
		portStr = s[i+1:]
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, false
	}
	return addr, p, true
}

func matchesAny(alias string, patterns []string) bool {
	matched := false
	for _, p := range patterns {
		negated := strings.HasPrefix(p, "!")
		ok, err := filepath.Match(strings.TrimPrefix(p, "!"), alias)
		if err != nil || !ok {
			continue
		}
		if negated {
			return false
		}
		matched = true
	}
	return matched
}

func isConcreteAlias(pattern string) bool {
	return pattern != "" && !strings.HasPrefix(pattern, "!") && !strings.ContainsAny(pattern, "*?")
}

func splitDirective(line string) (key, value string, ok bool) {
	if i := strings.IndexAny(line, " \t"); i > 0 {
		key, value = strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	if i := strings.Index(line, "="); i > 0 {
		key, value = strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
		return key, value, key != "" && value != ""
	}
	return "", "", false
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return strings.TrimSpace(line[:i])
			}
		}
	}
	return line
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
