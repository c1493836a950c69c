package cli

import (
	"testing"

	"github.com/calebmh/termdock/internal/app"
	"github.com/calebmh/termdock/internal/events"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
)

func TestNewRootCommandSubcommands(t *testing.T) {
	root := NewRootCommand()
	if root.Use != "termdock" {
		t.Fatalf("use = %q", root.Use)
	}
	want := map[string]bool{
		"list": false, "connect": false, "cp": false, "import": false,
		"export": false, "snippet": false, "events": false, "doctor": false,
	}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestParseEndpointArg(t *testing.T) {
	tests := []struct {
		arg      string
		wantConn string
		wantPath string
	}{
		{"c1:/var/log/syslog", "c1", "/var/log/syslog"},
		{"/tmp/file", model.LocalConnectionID, "/tmp/file"},
		{"./relative", model.LocalConnectionID, "./relative"},
		{"plain.txt", model.LocalConnectionID, "plain.txt"},
		{":leading", model.LocalConnectionID, ":leading"},
	}
	for _, tt := range tests {
		ep := parseEndpointArg(tt.arg)
		if ep.ConnectionID != tt.wantConn || ep.Path != tt.wantPath {
			t.Errorf("parseEndpointArg(%q) = %+v", tt.arg, ep)
		}
	}
}

func TestFindConnection(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	a := app.New(gateway.NewLoopback("/bin/sh", t.TempDir()), events.NewStore())
	defer a.Close()

	added, err := a.Registry.Add(model.Connection{Name: "Prod API", Host: "api.internal"})
	if err != nil {
		t.Fatal(err)
	}

	byID, err := findConnection(a, added.ID)
	if err != nil || byID.ID != added.ID {
		t.Fatalf("by id: %+v / %v", byID, err)
	}
	byName, err := findConnection(a, "prod api")
	if err != nil || byName.ID != added.ID {
		t.Fatalf("by name: %+v / %v", byName, err)
	}
	if _, err := findConnection(a, "nope"); err == nil {
		t.Fatal("expected lookup failure")
	}
}
