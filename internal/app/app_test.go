package app

import (
	"context"
	"sync"
	"testing"

	"github.com/calebmh/termdock/internal/events"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
)

// fakeGateway records calls so the tests can assert on what crossed the
// gateway boundary.
type fakeGateway struct {
	mu         sync.Mutex
	connectErr error
	spawns     []string
	closes     []string
	connects   []string
	subs       int
	unsubs     int
	closed     bool
}

func (g *fakeGateway) Connect(ctx context.Context, cfg gateway.ConnectConfig) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connects = append(g.connects, cfg.ConnectionID)
	return g.connectErr
}

func (g *fakeGateway) Disconnect(ctx context.Context, connectionID string) error { return nil }

func (g *fakeGateway) SpawnSession(ctx context.Context, connectionID, sessionID string, rows, cols int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.spawns = append(g.spawns, sessionID)
	return nil
}

func (g *fakeGateway) Write(sessionID string, data []byte) error     { return nil }
func (g *fakeGateway) Resize(sessionID string, rows, cols int) error { return nil }

func (g *fakeGateway) CloseSession(sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closes = append(g.closes, sessionID)
	return nil
}

func (g *fakeGateway) StartTransfer(ctx context.Context, req gateway.TransferRequest) error { return nil }
func (g *fakeGateway) CancelTransfer(ctx context.Context, transferID string) error          { return nil }

func (g *fakeGateway) ListDirectory(ctx context.Context, connectionID, path string) ([]gateway.DirEntry, error) {
	return nil, nil
}

func (g *fakeGateway) Rename(ctx context.Context, connectionID, oldPath, newPath string) error {
	return nil
}

func (g *fakeGateway) HomeDir(ctx context.Context, connectionID string) (string, error) {
	return "/home/test", nil
}

func (g *fakeGateway) StartForward(ctx context.Context, connectionID string, fwd model.ForwardSpec) error {
	return nil
}

func (g *fakeGateway) SaveConnections(ctx context.Context, conns []model.Connection) error {
	return nil
}

func (g *fakeGateway) LoadConnections(ctx context.Context) ([]model.Connection, error) {
	return nil, nil
}

func (g *fakeGateway) OnSessionData(sessionID string, fn func([]byte)) func() {
	return func() {}
}

func (g *fakeGateway) OnTransferEvent(fn func(gateway.TransferEvent)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs++
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.unsubs++
	}
}

func (g *fakeGateway) OnConnectionStatus(fn func(gateway.StatusEvent)) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs++
	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.unsubs++
	}
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func newTestApp(t *testing.T) (*App, *fakeGateway) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	gw := &fakeGateway{}
	a := New(gw, events.NewStore())
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return a, gw
}

func addConnected(t *testing.T, a *App, name string) model.Connection {
	t.Helper()
	c, err := a.Registry.Add(model.Connection{Name: name, Host: name + ".internal"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Registry.Connect(context.Background(), c.ID); err != nil {
		t.Fatal(err)
	}
	return c
}

func TestOpenTerminalSpawnsOncePerTab(t *testing.T) {
	a, gw := newTestApp(t)
	ctx := context.Background()
	c := addConnected(t, a, "api")

	tab1, sess, err := a.OpenTerminal(ctx, c.ID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if sess == nil || sess.ID != tab1.ID {
		t.Fatalf("session = %+v for tab %q", sess, tab1.ID)
	}

	// Reopening the same connection reuses the tab and must not respawn.
	tab2, _, err := a.OpenTerminal(ctx, c.ID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if tab2.ID != tab1.ID {
		t.Fatalf("tab ids %q vs %q", tab1.ID, tab2.ID)
	}
	if len(gw.spawns) != 1 {
		t.Fatalf("spawns = %v", gw.spawns)
	}
}

func TestOpenTerminalDisconnectedDoesNotSpawn(t *testing.T) {
	a, gw := newTestApp(t)
	ctx := context.Background()

	c, err := a.Registry.Add(model.Connection{Name: "api", Host: "api.internal"})
	if err != nil {
		t.Fatal(err)
	}
	gw.connectErr = context.DeadlineExceeded

	// The tab opens even though the connect attempt fails, and no session is
	// spawned on a connection that never came up.
	tab, sess, err := a.OpenTerminal(ctx, c.ID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if tab.ConnectionID != c.ID || sess == nil {
		t.Fatalf("tab = %+v sess = %v", tab, sess)
	}
	if len(gw.spawns) != 0 {
		t.Fatalf("spawns = %v", gw.spawns)
	}
}

func TestOpenTerminalLocalAlwaysSpawns(t *testing.T) {
	a, gw := newTestApp(t)
	ctx := context.Background()

	tab1, _, err := a.OpenTerminal(ctx, model.LocalConnectionID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	tab2, _, err := a.OpenTerminal(ctx, model.LocalConnectionID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if tab1.ID == tab2.ID {
		t.Fatal("local tabs must be distinct")
	}
	if len(gw.spawns) != 2 {
		t.Fatalf("spawns = %v", gw.spawns)
	}
	if len(gw.connects) != 0 {
		t.Fatalf("local must not connect, got %v", gw.connects)
	}
}

func TestCloseTabReleasesSession(t *testing.T) {
	a, gw := newTestApp(t)
	ctx := context.Background()
	c := addConnected(t, a, "api")

	tab, _, err := a.OpenTerminal(ctx, c.ID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.CloseTab(ctx, tab.ID); err != nil {
		t.Fatal(err)
	}
	if len(gw.closes) != 1 || gw.closes[0] != tab.ID {
		t.Fatalf("closes = %v", gw.closes)
	}
	if len(a.Tabs.Tabs()) != 0 {
		t.Fatalf("tabs = %+v", a.Tabs.Tabs())
	}
}

func TestDeleteConnectionCleansUp(t *testing.T) {
	a, gw := newTestApp(t)
	ctx := context.Background()
	c := addConnected(t, a, "api")

	tab, _, err := a.OpenTerminal(ctx, c.ID, 24, 80)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.DeleteConnection(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Registry.Get(c.ID); ok {
		t.Fatal("connection survived delete")
	}
	if len(a.Tabs.Tabs()) != 0 {
		t.Fatalf("tabs = %+v", a.Tabs.Tabs())
	}
	if len(gw.closes) != 1 || gw.closes[0] != tab.ID {
		t.Fatalf("closes = %v", gw.closes)
	}
}

func TestCloseUnsubscribesAndClosesGateway(t *testing.T) {
	a, gw := newTestApp(t)

	if gw.subs != 2 {
		t.Fatalf("subs = %d", gw.subs)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}
	if gw.unsubs != 2 || !gw.closed {
		t.Fatalf("unsubs = %d closed = %v", gw.unsubs, gw.closed)
	}
}
