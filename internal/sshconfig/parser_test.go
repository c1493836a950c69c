package sshconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/calebmh/termdock/internal/model"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func byName(t *testing.T, conns []model.Connection, name string) model.Connection {
	t.Helper()
	for _, c := range conns {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("connection %q not imported (have %d)", name, len(conns))
	return model.Connection{}
}

func TestImportBasicHosts(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config", `
# work hosts
Host api
  HostName api.internal
  User deploy
  Port 2200
  IdentityFile /keys/api_ed25519

Host db
  HostName 10.0.0.5
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Connections) != 2 {
		t.Fatalf("imported %d connections", len(res.Connections))
	}

	api := byName(t, res.Connections, "api")
	if api.Host != "api.internal" || api.Username != "deploy" || api.Port != 2200 {
		t.Fatalf("api = %+v", api)
	}
	if api.AuthMethod != model.AuthKey || api.KeyPath != "/keys/api_ed25519" {
		t.Fatalf("api auth = %s %q", api.AuthMethod, api.KeyPath)
	}

	db := byName(t, res.Connections, "db")
	if db.Host != "10.0.0.5" || db.Port != 22 || db.AuthMethod != model.AuthPassword {
		t.Fatalf("db = %+v", db)
	}
}

func TestImportWildcardContributesSettings(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config", `
Host *.internal
  User ops

Host web.internal
  HostName 10.0.0.9

Host other
  HostName other.example.com
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// The wildcard block itself must not become a connection.
	if len(res.Connections) != 2 {
		t.Fatalf("imported %d connections", len(res.Connections))
	}
	web := byName(t, res.Connections, "web.internal")
	if web.Username != "ops" || web.Host != "10.0.0.9" {
		t.Fatalf("web = %+v", web)
	}
	if byName(t, res.Connections, "other").Username != "" {
		t.Fatal("wildcard leaked onto a non-matching host")
	}
}

func TestImportProxyJumpLinking(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config", `
Host db
  HostName 10.0.0.5
  ProxyJump bastion

Host bastion
  HostName bastion.example.com

Host ghost
  HostName 10.0.0.6
  ProxyJump nowhere

Host multi
  HostName 10.0.0.7
  ProxyJump bastion,db
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}

	bastion := byName(t, res.Connections, "bastion")
	db := byName(t, res.Connections, "db")
	if db.JumpServerID != bastion.ID {
		t.Fatalf("db jump = %q, want %q", db.JumpServerID, bastion.ID)
	}

	if byName(t, res.Connections, "ghost").JumpServerID != "" {
		t.Fatal("unknown ProxyJump alias must not link")
	}
	if byName(t, res.Connections, "multi").JumpServerID != bastion.ID {
		t.Fatal("multi-hop ProxyJump must keep the first hop")
	}

	var sawGhost, sawMulti bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "nowhere") {
			sawGhost = true
		}
		if strings.Contains(w, "first ProxyJump hop") {
			sawMulti = true
		}
	}
	if !sawGhost || !sawMulti {
		t.Fatalf("missing link warnings: %v", res.Warnings)
	}
}

func TestImportProxyJumpNone(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config", `
Host direct
  HostName 10.0.0.8
  ProxyJump none
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if byName(t, res.Connections, "direct").JumpServerID != "" {
		t.Fatal("ProxyJump none must not link")
	}
}

func TestImportInclude(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "extra.conf", `
Host included
  HostName included.example.com
`)
	path := writeConfig(t, dir, "config", `
Include extra.conf

Host main
  HostName main.example.com
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	byName(t, res.Connections, "included")
	byName(t, res.Connections, "main")
}

func TestImportIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config", `
Include config

Host solo
  HostName solo.example.com
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Connections) != 1 {
		t.Fatalf("imported %d connections", len(res.Connections))
	}
	var sawCycle bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "cycle") {
			sawCycle = true
		}
	}
	if !sawCycle {
		t.Fatalf("expected cycle warning, got %v", res.Warnings)
	}
}

func TestImportLocalForward(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config", `
Host db
  HostName 10.0.0.5
  LocalForward 5432 localhost:5432
  LocalForward 127.0.0.1:8080 web:80
  LocalForward broken
`)

	res, err := ImportFile(path)
	if err != nil {
		t.Fatal(err)
	}
	db := byName(t, res.Connections, "db")
	if len(db.Forwards) != 2 {
		t.Fatalf("forwards = %+v", db.Forwards)
	}
	if db.Forwards[0].LocalPort != 5432 || db.Forwards[0].RemoteAddr != "localhost" {
		t.Fatalf("forward 0 = %+v", db.Forwards[0])
	}
	if db.Forwards[1].LocalAddr != "127.0.0.1" || db.Forwards[1].RemoteAddr != "web" || db.Forwards[1].RemotePort != 80 {
		t.Fatalf("forward 1 = %+v", db.Forwards[1])
	}

	var sawBroken bool
	for _, w := range res.Warnings {
		if strings.Contains(w, "broken") {
			sawBroken = true
		}
	}
	if !sawBroken {
		t.Fatalf("expected LocalForward warning, got %v", res.Warnings)
	}
}

func TestImportMissingFileWarnsOnly(t *testing.T) {
	res, err := ImportFile(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Connections) != 0 || len(res.Warnings) != 1 {
		t.Fatalf("result = %+v", res)
	}
}
