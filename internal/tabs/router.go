// Package tabs maps UI-visible tabs to connections and views, and owns tab
// ordering and the active-tab pointer.
package tabs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/calebmh/termdock/internal/model"
)

// ConnectionControl is the slice of the registry the router needs: opening a
// tab may trigger a connect, closing the last tab for a connection triggers a
// disconnect.
type ConnectionControl interface {
	Connect(ctx context.Context, id string) error
	Disconnect(ctx context.Context, id string) error
	Status(id string) model.ConnectionStatus
	Get(id string) (model.Connection, bool)
}

// Router owns the tab list. All operations are run-to-completion transitions
// under one lock; registry calls happen outside it.
type Router struct {
	conns ConnectionControl

	mu       sync.Mutex
	tabs     []model.Tab
	activeID string
}

// NewRouter creates an empty router.
func NewRouter(conns ConnectionControl) *Router {
	return &Router{conns: conns}
}

// OpenTab opens (or re-activates) a tab for the given connection. The local
// pseudo-connection always gets a fresh tab so multiple local terminals can
// coexist; for a real connection an existing tab is reused, optionally
// switching its view. Opening a tab for a connection that is neither
// connected nor connecting triggers a connect; a connect failure is reported
// on the connection's status, not by the tab.
func (r *Router) OpenTab(ctx context.Context, connectionID string, view model.View) (model.Tab, error) {
	conn, ok := r.conns.Get(connectionID)
	if !ok {
		return model.Tab{}, fmt.Errorf("connection not found: %s", connectionID)
	}
	if view == "" {
		view = model.ViewTerminal
	}

	if connectionID != model.LocalConnectionID {
		r.mu.Lock()
		for i := range r.tabs {
			if r.tabs[i].Type == model.TabConnection && r.tabs[i].ConnectionID == connectionID {
				r.tabs[i].View = view
				r.activeID = r.tabs[i].ID
				t := r.tabs[i]
				r.mu.Unlock()
				return t, nil
			}
		}
		r.mu.Unlock()
	}

	t := model.Tab{
		ID:           uuid.NewString(),
		Type:         model.TabConnection,
		Title:        conn.DisplayName(),
		ConnectionID: connectionID,
		View:         view,
	}
	r.mu.Lock()
	r.tabs = append(r.tabs, t)
	r.activeID = t.ID
	r.mu.Unlock()

	switch r.conns.Status(connectionID) {
	case model.StatusConnected, model.StatusConnecting:
	default:
		if err := r.conns.Connect(ctx, connectionID); err != nil {
			slog.Warn("connect on tab open failed", "connection", connectionID, "error", err)
		}
	}
	return t, nil
}

// OpenPortForwardingTab activates the single port-forwarding tab, creating it
// on first use. At most one such tab exists globally.
func (r *Router) OpenPortForwardingTab() model.Tab {
	return r.openSingleton(model.TabPortForwarding, model.ViewForwards, "Port Forwarding")
}

// OpenSettingsTab activates the single settings tab, creating it on first use.
func (r *Router) OpenSettingsTab() model.Tab {
	return r.openSingleton(model.TabSettings, "", "Settings")
}

// OpenSnippetsTab activates the single snippets tab, creating it on first use.
func (r *Router) OpenSnippetsTab() model.Tab {
	return r.openSingleton(model.TabSettings, model.ViewSnippets, "Snippets")
}

func (r *Router) openSingleton(tabType model.TabType, view model.View, title string) model.Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tabs {
		if t.Type == tabType && t.View == view {
			r.activeID = t.ID
			return t
		}
	}
	t := model.Tab{ID: uuid.NewString(), Type: tabType, Title: title, View: view}
	r.tabs = append(r.tabs, t)
	r.activeID = t.ID
	return t
}

// CloseTab removes a tab. Closing the last tab referencing a connected
// non-local connection disconnects it; the confirmation prompt, if any, is
// the UI layer's concern. The active tab becomes the last remaining tab.
func (r *Router) CloseTab(ctx context.Context, tabID string) error {
	r.mu.Lock()
	idx := -1
	for i, t := range r.tabs {
		if t.ID == tabID {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return fmt.Errorf("tab not found: %s", tabID)
	}
	closed := r.tabs[idx]
	r.tabs = append(r.tabs[:idx], r.tabs[idx+1:]...)
	r.recomputeActiveLocked()
	stillReferenced := false
	for _, t := range r.tabs {
		if t.ConnectionID == closed.ConnectionID {
			stillReferenced = true
			break
		}
	}
	r.mu.Unlock()

	if closed.Type == model.TabConnection &&
		closed.ConnectionID != "" &&
		closed.ConnectionID != model.LocalConnectionID &&
		!stillReferenced &&
		r.conns.Status(closed.ConnectionID) == model.StatusConnected {
		if err := r.conns.Disconnect(ctx, closed.ConnectionID); err != nil {
			slog.Warn("disconnect on tab close failed", "connection", closed.ConnectionID, "error", err)
		}
	}
	return nil
}

// CloseTabsForConnection drops every tab referencing the connection without
// triggering a disconnect; used when the connection itself is being deleted
// and the registry handles teardown.
func (r *Router) CloseTabsForConnection(connectionID string) []model.Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []model.Tab
	var removed []model.Tab
	for _, t := range r.tabs {
		if t.Type == model.TabConnection && t.ConnectionID == connectionID {
			removed = append(removed, t)
			continue
		}
		kept = append(kept, t)
	}
	r.tabs = kept
	r.recomputeActiveLocked()
	return removed
}

// ReorderTabs moves the tab at oldIndex to newIndex. A pure array move with
// no side effects on session state.
func (r *Router) ReorderTabs(oldIndex, newIndex int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.tabs)
	if oldIndex < 0 || oldIndex >= n || newIndex < 0 || newIndex >= n || oldIndex == newIndex {
		return
	}
	t := r.tabs[oldIndex]
	r.tabs = append(r.tabs[:oldIndex], r.tabs[oldIndex+1:]...)
	r.tabs = append(r.tabs[:newIndex], append([]model.Tab{t}, r.tabs[newIndex:]...)...)
}

// SetTabView updates a tab's current view. A pure attribute update.
func (r *Router) SetTabView(tabID string, view model.View) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tabs {
		if r.tabs[i].ID == tabID {
			r.tabs[i].View = view
			return nil
		}
	}
	return fmt.Errorf("tab not found: %s", tabID)
}

// SetActive makes the given tab active.
func (r *Router) SetActive(tabID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tabs {
		if t.ID == tabID {
			r.activeID = tabID
			return nil
		}
	}
	return fmt.Errorf("tab not found: %s", tabID)
}

// Tabs returns the tab list in order.
func (r *Router) Tabs() []model.Tab {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Tab(nil), r.tabs...)
}

// ActiveTab returns the active tab, if any.
func (r *Router) ActiveTab() (model.Tab, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tabs {
		if t.ID == r.activeID {
			return t, true
		}
	}
	return model.Tab{}, false
}

// ActiveConnectionID returns the connection of the active tab, or "".
func (r *Router) ActiveConnectionID() string {
	t, ok := r.ActiveTab()
	if !ok {
		return ""
	}
	return t.ConnectionID
}

func (r *Router) recomputeActiveLocked() {
	for _, t := range r.tabs {
		if t.ID == r.activeID {
			return
		}
	}
	if len(r.tabs) == 0 {
		r.activeID = ""
		return
	}
	r.activeID = r.tabs[len(r.tabs)-1].ID
}
