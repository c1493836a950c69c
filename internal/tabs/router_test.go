package tabs

import (
	"context"
	"errors"
	"testing"

	"github.com/calebmh/termdock/internal/model"
)

// fakeControl is a minimal ConnectionControl: a fixed connection set with
// recorded connect/disconnect calls.
type fakeControl struct {
	conns       map[string]model.Connection
	status      map[string]model.ConnectionStatus
	connects    []string
	disconnects []string
	connectErr  error
}

func newFakeControl() *fakeControl {
	return &fakeControl{
		conns: map[string]model.Connection{
			model.LocalConnectionID: {ID: model.LocalConnectionID, Name: "Local"},
			"api":                   {ID: "api", Name: "api", Host: "api.internal"},
			"db":                    {ID: "db", Name: "db", Host: "10.0.0.5"},
		},
		status: map[string]model.ConnectionStatus{
			model.LocalConnectionID: model.StatusConnected,
		},
	}
}

func (f *fakeControl) Connect(ctx context.Context, id string) error {
	f.connects = append(f.connects, id)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.status[id] = model.StatusConnected
	return nil
}

func (f *fakeControl) Disconnect(ctx context.Context, id string) error {
	f.disconnects = append(f.disconnects, id)
	f.status[id] = model.StatusDisconnected
	return nil
}

func (f *fakeControl) Status(id string) model.ConnectionStatus {
	if s, ok := f.status[id]; ok {
		return s
	}
	return model.StatusDisconnected
}

func (f *fakeControl) Get(id string) (model.Connection, bool) {
	c, ok := f.conns[id]
	return c, ok
}

func TestOpenTabReusesExisting(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	first, err := r.OpenTab(context.Background(), "api", model.ViewTerminal)
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.OpenTab(context.Background(), "api", model.ViewFiles)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatal("expected the existing tab to be reused")
	}
	if len(r.Tabs()) != 1 {
		t.Fatalf("expected 1 tab, got %d", len(r.Tabs()))
	}
	// The reopen switched the view.
	if got, _ := r.ActiveTab(); got.View != model.ViewFiles {
		t.Fatalf("expected files view, got %s", got.View)
	}
	// Only the first open triggered a connect; the connection was up after.
	if len(fc.connects) != 1 {
		t.Fatalf("expected one connect, got %v", fc.connects)
	}
}

func TestOpenTabLocalAlwaysNew(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	a, _ := r.OpenTab(context.Background(), model.LocalConnectionID, "")
	b, _ := r.OpenTab(context.Background(), model.LocalConnectionID, "")
	if a.ID == b.ID {
		t.Fatal("expected distinct local tabs")
	}
	if len(r.Tabs()) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(r.Tabs()))
	}
	// Local never connects.
	if len(fc.connects) != 0 {
		t.Fatalf("expected no connects for local, got %v", fc.connects)
	}
}

func TestOpenTabConnectFailureStillCreatesTab(t *testing.T) {
	fc := newFakeControl()
	fc.connectErr = errors.New("auth failed")
	r := NewRouter(fc)

	tab, err := r.OpenTab(context.Background(), "api", "")
	if err != nil {
		t.Fatal(err)
	}
	if tab.ID == "" || len(r.Tabs()) != 1 {
		t.Fatal("expected the tab to exist despite the connect failure")
	}
}

func TestOpenTabUnknownConnection(t *testing.T) {
	r := NewRouter(newFakeControl())
	if _, err := r.OpenTab(context.Background(), "nope", ""); err == nil {
		t.Fatal("expected error for unknown connection")
	}
}

func TestPortForwardingTabIsSingleton(t *testing.T) {
	r := NewRouter(newFakeControl())

	a := r.OpenPortForwardingTab()
	r.OpenTab(context.Background(), "api", "")
	b := r.OpenPortForwardingTab()
	if a.ID != b.ID {
		t.Fatal("expected a single port-forwarding tab")
	}
	if got, _ := r.ActiveTab(); got.ID != a.ID {
		t.Fatal("reopening must activate the singleton")
	}
	if len(r.Tabs()) != 2 {
		t.Fatalf("expected 2 tabs, got %d", len(r.Tabs()))
	}
}

func TestSnippetsAndSettingsAreDistinctSingletons(t *testing.T) {
	r := NewRouter(newFakeControl())
	s := r.OpenSettingsTab()
	sn := r.OpenSnippetsTab()
	if s.ID == sn.ID {
		t.Fatal("settings and snippets must be distinct tabs")
	}
	if r.OpenSnippetsTab().ID != sn.ID {
		t.Fatal("expected snippets singleton reuse")
	}
}

func TestCloseLastTabDisconnects(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	tab, _ := r.OpenTab(context.Background(), "api", "")
	if err := r.CloseTab(context.Background(), tab.ID); err != nil {
		t.Fatal(err)
	}
	if len(fc.disconnects) != 1 || fc.disconnects[0] != "api" {
		t.Fatalf("expected disconnect of api, got %v", fc.disconnects)
	}
}

func TestCloseLocalTabNeverDisconnects(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	tab, _ := r.OpenTab(context.Background(), model.LocalConnectionID, "")
	if err := r.CloseTab(context.Background(), tab.ID); err != nil {
		t.Fatal(err)
	}
	if len(fc.disconnects) != 0 {
		t.Fatalf("expected no disconnects, got %v", fc.disconnects)
	}
}

func TestCloseTabActiveFallsBack(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	a, _ := r.OpenTab(context.Background(), "api", "")
	b, _ := r.OpenTab(context.Background(), "db", "")

	if err := r.CloseTab(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}
	if got, ok := r.ActiveTab(); !ok || got.ID != a.ID {
		t.Fatalf("expected remaining tab active, got %+v", got)
	}

	if err := r.CloseTab(context.Background(), a.ID); err != nil {
		t.Fatal(err)
	}
	if _, ok := r.ActiveTab(); ok {
		t.Fatal("expected no active tab")
	}
}

func TestCloseTabsForConnectionSkipsDisconnect(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	r.OpenTab(context.Background(), "api", "")
	r.OpenTab(context.Background(), "db", "")

	removed := r.CloseTabsForConnection("api")
	if len(removed) != 1 {
		t.Fatalf("expected 1 removed tab, got %d", len(removed))
	}
	// Teardown belongs to the caller during a delete, not the router.
	if len(fc.disconnects) != 0 {
		t.Fatalf("expected no disconnects, got %v", fc.disconnects)
	}
	if len(r.Tabs()) != 1 {
		t.Fatalf("expected 1 tab left, got %d", len(r.Tabs()))
	}
}

func TestReorderTabs(t *testing.T) {
	fc := newFakeControl()
	r := NewRouter(fc)

	a, _ := r.OpenTab(context.Background(), "api", "")
	b, _ := r.OpenTab(context.Background(), "db", "")
	c, _ := r.OpenTab(context.Background(), model.LocalConnectionID, "")

	r.ReorderTabs(2, 0)
	got := r.Tabs()
	if got[0].ID != c.ID || got[1].ID != a.ID || got[2].ID != b.ID {
		t.Fatalf("unexpected order: %v %v %v", got[0].Title, got[1].Title, got[2].Title)
	}

	// Out-of-range moves are ignored.
	r.ReorderTabs(5, 0)
	r.ReorderTabs(0, -1)
	if len(r.Tabs()) != 3 {
		t.Fatal("reorder must never drop tabs")
	}
}

func TestSetTabView(t *testing.T) {
	r := NewRouter(newFakeControl())
	tab, _ := r.OpenTab(context.Background(), "api", "")
	if err := r.SetTabView(tab.ID, model.ViewFiles); err != nil {
		t.Fatal(err)
	}
	if got, _ := r.ActiveTab(); got.View != model.ViewFiles {
		t.Fatalf("expected files view, got %s", got.View)
	}
	if err := r.SetTabView("nope", model.ViewFiles); err == nil {
		t.Fatal("expected error for unknown tab")
	}
}
