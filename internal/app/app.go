// Package app wires the registry, tab router, session cache and transfer
// coordinator together and subscribes them to the backend gateway's pushes.
// Operations that span more than one of those components live here.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/calebmh/termdock/internal/events"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/registry"
	"github.com/calebmh/termdock/internal/sessions"
	"github.com/calebmh/termdock/internal/tabs"
	"github.com/calebmh/termdock/internal/transfers"
)

// App is the composition root of the client core.
type App struct {
	Gateway   gateway.Gateway
	Registry  *registry.Registry
	Tabs      *tabs.Router
	Sessions  *sessions.Cache
	Transfers *transfers.Coordinator
	Journal   *events.Store

	unsubTransfers func()
	unsubStatus    func()
}

// New assembles the core around a gateway. The registry learns how to tear
// down cached sessions on disconnect, and the coordinator learns how to
// bring connections up before a transfer.
func New(gw gateway.Gateway, journal *events.Store) *App {
	reg := registry.New(gw, journal)
	cache := sessions.NewCache(gw)
	reg.SetSessionReleaser(cache)

	a := &App{
		Gateway:   gw,
		Registry:  reg,
		Tabs:      tabs.NewRouter(reg),
		Sessions:  cache,
		Transfers: transfers.NewCoordinator(gw, reg, journal),
		Journal:   journal,
	}
	a.unsubTransfers = gw.OnTransferEvent(a.Transfers.HandleEvent)
	a.unsubStatus = gw.OnConnectionStatus(reg.HandleStatusEvent)
	return a
}

// Start loads the saved connection list. A backend without stored state is
// not an error; the app starts with just the local pseudo-connection.
func (a *App) Start(ctx context.Context) error {
	if err := a.Registry.Load(ctx); err != nil {
		slog.Warn("loading connections failed, starting empty", "error", err)
	}
	return nil
}

// OpenTerminal opens (or re-activates) a tab for the connection and returns
// the cached session to attach the terminal to. The session is spawned on
// first use only; a remount reattaches to the same shell.
func (a *App) OpenTerminal(ctx context.Context, connectionID string, rows, cols int) (model.Tab, *sessions.Session, error) {
	tab, err := a.Tabs.OpenTab(ctx, connectionID, model.ViewTerminal)
	if err != nil {
		return model.Tab{}, nil, err
	}
	sess := a.Sessions.Acquire(connectionID, tab.ID)
	if connectionID == model.LocalConnectionID || a.Registry.Status(connectionID) == model.StatusConnected {
		if err := a.Sessions.EnsureSpawned(ctx, tab.ID, rows, cols); err != nil {
			return tab, sess, fmt.Errorf("spawn session: %w", err)
		}
	}
	return tab, sess, nil
}

// CloseTab closes the tab and releases its cached session.
func (a *App) CloseTab(ctx context.Context, tabID string) error {
	a.Sessions.Release(tabID)
	return a.Tabs.CloseTab(ctx, tabID)
}

// DeleteConnection removes a connection entirely: its tabs close first so
// no view is left pointing at a dead id, then the registry disconnects and
// drops it.
func (a *App) DeleteConnection(ctx context.Context, id string) error {
	for _, t := range a.Tabs.CloseTabsForConnection(id) {
		a.Sessions.Release(t.ID)
	}
	return a.Registry.Delete(ctx, id)
}

// Close detaches the event subscriptions and closes the gateway.
func (a *App) Close() error {
	if a.unsubTransfers != nil {
		a.unsubTransfers()
	}
	if a.unsubStatus != nil {
		a.unsubStatus()
	}
	return a.Gateway.Close()
}
