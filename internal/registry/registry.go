// Package registry holds the set of known remote endpoints, their runtime
// status, and the connect/disconnect lifecycle, including recursive jump-host
// resolution.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/calebmh/termdock/internal/events"
	"github.com/calebmh/termdock/internal/gateway"
	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/util"
)

// SessionReleaser disposes the cached terminal sessions owned by a
// connection. Implemented by the session cache; wired at startup.
type SessionReleaser interface {
	ReleaseByConnection(connectionID string)
}

// Registry coordinates connection state. All mutations run to completion
// under one lock; backend calls happen outside it.
type Registry struct {
	gw      gateway.Gateway
	journal *events.Store

	mu       sync.Mutex
	conns    map[string]*model.Connection
	releaser SessionReleaser
}

// New creates a registry backed by the given gateway. journal may be nil.
func New(gw gateway.Gateway, journal *events.Store) *Registry {
	r := &Registry{
		gw:      gw,
		journal: journal,
		conns:   map[string]*model.Connection{},
	}
	r.seedLocal()
	return r
}

// seedLocal installs the local pseudo-connection, which always exists and is
// always connected.
func (r *Registry) seedLocal() {
	r.conns[model.LocalConnectionID] = &model.Connection{
		ID:     model.LocalConnectionID,
		Name:   "Local",
		Status: model.StatusConnected,
	}
}

// SetSessionReleaser wires the session cache so disconnect can dispose the
// connection's cached terminals.
func (r *Registry) SetSessionReleaser(sr SessionReleaser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaser = sr
}

// Load replaces the connection set with the backend's persisted list. Runtime
// fields reset to disconnected.
func (r *Registry) Load(ctx context.Context) error {
	conns, err := r.gw.LoadConnections(ctx)
	if err != nil {
		return fmt.Errorf("load connections: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = map[string]*model.Connection{}
	r.seedLocal()
	for _, c := range conns {
		if c.ID == "" || c.ID == model.LocalConnectionID {
			continue
		}
		c.Status = model.StatusDisconnected
		cc := c
		r.conns[c.ID] = &cc
	}
	return nil
}

// Save persists the current connection set through the backend. The local
// pseudo-connection and all runtime fields are excluded.
func (r *Registry) Save(ctx context.Context) error {
	r.mu.Lock()
	out := make([]model.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.IsLocal() {
			continue
		}
		out = append(out, *c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if err := r.gw.SaveConnections(ctx, out); err != nil {
		return fmt.Errorf("save connections: %w", err)
	}
	return nil
}

// Add registers a new connection. A blank id gets a generated one.
func (r *Registry) Add(c model.Connection) (model.Connection, error) {
	if strings.TrimSpace(c.Host) == "" {
		return model.Connection{}, fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if err := util.ValidatePort(c.Port); err != nil {
		return model.Connection{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Status = model.StatusDisconnected

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[c.ID]; exists {
		return model.Connection{}, fmt.Errorf("connection id already exists: %s", c.ID)
	}
	cc := c
	r.conns[c.ID] = &cc
	return c, nil
}

// Update edits a connection in place. Open tabs are unaffected: they hold the
// id, not a snapshot. Runtime fields are preserved.
func (r *Registry) Update(c model.Connection) error {
	if c.IsLocal() {
		return fmt.Errorf("the local connection cannot be edited")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.conns[c.ID]
	if !ok {
		return fmt.Errorf("connection not found: %s", c.ID)
	}
	c.Status = cur.Status
	c.StatusMessage = cur.StatusMessage
	c.HomePath = cur.HomePath
	if c.LastConnected.IsZero() {
		c.LastConnected = cur.LastConnected
	}
	*cur = c
	return nil
}

// Delete removes a connection, disconnecting it first when connected. The
// app coordinator closes tabs referencing the id before calling this.
func (r *Registry) Delete(ctx context.Context, id string) error {
	if id == model.LocalConnectionID {
		return fmt.Errorf("the local connection cannot be deleted")
	}
	r.mu.Lock()
	c, ok := r.conns[id]
	connected := ok && c.Status == model.StatusConnected
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("connection not found: %s", id)
	}
	if connected {
		_ = r.Disconnect(ctx, id)
	}
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
	return nil
}

// Get returns a copy of one connection.
func (r *Registry) Get(id string) (model.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok {
		return model.Connection{}, false
	}
	return *c, true
}

// List returns all connections, local first, then most recently connected,
// then by display name.
func (r *Registry) List() []model.Connection {
	r.mu.Lock()
	out := make([]model.Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, *c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsLocal() != out[j].IsLocal() {
			return out[i].IsLocal()
		}
		if !out[i].LastConnected.Equal(out[j].LastConnected) {
			return out[i].LastConnected.After(out[j].LastConnected)
		}
		return out[i].DisplayName() < out[j].DisplayName()
	})
	return out
}

// Status returns the runtime status for id, or disconnected when unknown.
func (r *Registry) Status(id string) model.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		return c.Status
	}
	return model.StatusDisconnected
}

// ResolveConfig walks the jump chain for id into a nested ConnectConfig. It
// fails fast on a missing reference, a revisited id, or a chain deeper than
// MaxJumpDepth; no backend call is ever made for an unresolvable chain.
func (r *Registry) ResolveConfig(id string) (gateway.ConnectConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveLocked(id, map[string]bool{}, 0)
}

func (r *Registry) resolveLocked(id string, visited map[string]bool, depth int) (gateway.ConnectConfig, error) {
	if depth >= util.MaxJumpDepth {
		return gateway.ConnectConfig{}, fmt.Errorf("jump chain deeper than %d hops at %q", util.MaxJumpDepth, id)
	}
	if visited[id] {
		return gateway.ConnectConfig{}, fmt.Errorf("jump chain cycle at %q", id)
	}
	visited[id] = true
	c, ok := r.conns[id]
	if !ok {
		return gateway.ConnectConfig{}, fmt.Errorf("connection not found: %s", id)
	}
	cfg := gateway.ConnectConfig{
		ConnectionID: c.ID,
		Host:         c.Host,
		Port:         c.Port,
		Username:     c.Username,
		AuthMethod:   c.AuthMethod,
		Password:     c.Password,
		KeyPath:      c.KeyPath,
	}
	if c.JumpServerID != "" {
		jump, err := r.resolveLocked(c.JumpServerID, visited, depth+1)
		if err != nil {
			return gateway.ConnectConfig{}, err
		}
		cfg.JumpHost = &jump
	}
	return cfg, nil
}

// Connect establishes the connection, first resolving and (if needed)
// connecting its jump-host chain. A no-op for the local pseudo-connection and
// for connections already connected or connecting. Retry from the error
// status is allowed.
func (r *Registry) Connect(ctx context.Context, id string) error {
	if id == model.LocalConnectionID {
		return nil
	}
	r.mu.Lock()
	c, ok := r.conns[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("connection not found: %s", id)
	}
	if c.Status == model.StatusConnected || c.Status == model.StatusConnecting {
		r.mu.Unlock()
		return nil
	}
	jumpID := c.JumpServerID
	r.mu.Unlock()

	cfg, err := r.ResolveConfig(id)
	if err != nil {
		r.markError(id, err.Error())
		return err
	}

	// The immediate jump host must be up before the target connect is
	// issued. The recursion bottoms out because ResolveConfig already proved
	// the chain finite and acyclic.
	if jumpID != "" && r.Status(jumpID) != model.StatusConnected {
		if err := r.Connect(ctx, jumpID); err != nil {
			err = fmt.Errorf("jump host %s: %w", jumpID, err)
			r.markError(id, err.Error())
			return err
		}
	}

	r.setStatus(id, model.StatusConnecting, "")
	if err := r.gw.Connect(ctx, cfg); err != nil {
		r.markError(id, err.Error())
		r.appendEvent(events.Event{ConnectionID: id, EventType: events.TypeConnectFailed, Status: model.StatusError, Message: err.Error()})
		return err
	}

	home, homeErr := r.gw.HomeDir(ctx, id)
	if homeErr != nil {
		slog.Warn("resolve home path", "connection", id, "error", homeErr)
	}

	r.mu.Lock()
	var autos []model.ForwardSpec
	if c, ok := r.conns[id]; ok {
		c.Status = model.StatusConnected
		c.StatusMessage = ""
		c.LastConnected = time.Now()
		if homeErr == nil {
			c.HomePath = home
		}
		for _, fwd := range c.Forwards {
			if fwd.AutoStart {
				autos = append(autos, fwd)
			}
		}
	}
	r.mu.Unlock()

	// Auto-start resources are opportunistic: individual failures are logged
	// and never fail the connect.
	for _, fwd := range autos {
		if err := r.gw.StartForward(ctx, id, fwd); err != nil {
			slog.Warn("auto-start forward failed", "connection", id,
				"local", util.HostPort(fwd.LocalString(), fwd.LocalPort),
				"remote", util.HostPort(fwd.RemoteString(), fwd.RemotePort),
				"error", err)
		}
	}

	r.appendEvent(events.Event{ConnectionID: id, EventType: events.TypeConnected, Status: model.StatusConnected})
	if err := r.Save(ctx); err != nil {
		slog.Warn("persist connections after connect", "error", err)
	}
	return nil
}

// Disconnect tears the connection down. The local status always reaches
// disconnected, even when the backend call fails; the UI must never keep
// showing connected for a dead session. Cached terminal sessions owned by the
// id are released.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	if id != model.LocalConnectionID {
		if err := r.gw.Disconnect(ctx, id); err != nil {
			slog.Warn("backend disconnect failed", "connection", id, "error", err)
		}
		r.setStatus(id, model.StatusDisconnected, "")
	}

	r.mu.Lock()
	rel := r.releaser
	r.mu.Unlock()
	if rel != nil {
		rel.ReleaseByConnection(id)
	}

	r.appendEvent(events.Event{ConnectionID: id, EventType: events.TypeDisconnected, Status: model.StatusDisconnected})
	return nil
}

// HandleStatusEvent applies a backend-observed status change, e.g. a dropped
// link noticed server-side.
func (r *Registry) HandleStatusEvent(ev gateway.StatusEvent) {
	r.mu.Lock()
	c, ok := r.conns[ev.ConnectionID]
	if ok && !c.IsLocal() {
		c.Status = ev.Status
		c.StatusMessage = ev.Error
	}
	r.mu.Unlock()
}

// markError moves id to the error status unless it is already there, which
// keeps a failing jump chain from flapping through repeated error updates.
func (r *Registry) markError(id, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || c.Status == model.StatusError {
		return
	}
	c.Status = model.StatusError
	c.StatusMessage = msg
}

func (r *Registry) setStatus(id string, st model.ConnectionStatus, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Status = st
		c.StatusMessage = msg
	}
}

func (r *Registry) appendEvent(evt events.Event) {
	if r.journal == nil {
		return
	}
	if err := r.journal.Append(evt); err != nil {
		slog.Debug("append event", "type", evt.EventType, "error", err)
	}
}
