package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/calebmh/termdock/internal/model"
)

// Mux composes the loopback gateway and a remote backend into one Gateway:
// the local pseudo-connection is served in-process, everything else goes to
// the backend. Session routing is recorded at spawn time so write/resize
// follow the same path as the spawn.
type Mux struct {
	local  Gateway
	remote Gateway

	mu     sync.Mutex
	routes map[string]Gateway // session id -> owning gateway
}

// NewMux builds a Mux. Both gateways must be non-nil.
func NewMux(local, remote Gateway) *Mux {
	return &Mux{local: local, remote: remote, routes: map[string]Gateway{}}
}

func (m *Mux) byConnection(connectionID string) Gateway {
	if connectionID == model.LocalConnectionID {
		return m.local
	}
	return m.remote
}

func (m *Mux) bySession(sessionID string) Gateway {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gw, ok := m.routes[sessionID]; ok {
		return gw
	}
	return m.remote
}

func (m *Mux) Connect(ctx context.Context, cfg ConnectConfig) error {
	return m.byConnection(cfg.ConnectionID).Connect(ctx, cfg)
}

func (m *Mux) Disconnect(ctx context.Context, connectionID string) error {
	return m.byConnection(connectionID).Disconnect(ctx, connectionID)
}

func (m *Mux) SpawnSession(ctx context.Context, connectionID, sessionID string, rows, cols int) error {
	gw := m.byConnection(connectionID)
	m.mu.Lock()
	m.routes[sessionID] = gw
	m.mu.Unlock()
	return gw.SpawnSession(ctx, connectionID, sessionID, rows, cols)
}

func (m *Mux) Write(sessionID string, data []byte) error {
	return m.bySession(sessionID).Write(sessionID, data)
}

func (m *Mux) Resize(sessionID string, rows, cols int) error {
	return m.bySession(sessionID).Resize(sessionID, rows, cols)
}

func (m *Mux) CloseSession(sessionID string) error {
	gw := m.bySession(sessionID)
	m.mu.Lock()
	delete(m.routes, sessionID)
	m.mu.Unlock()
	return gw.CloseSession(sessionID)
}

// Transfers always traverse the backend: a copy that never leaves the local
// machine is a rename, not a transfer.
func (m *Mux) StartTransfer(ctx context.Context, req TransferRequest) error {
	return m.remote.StartTransfer(ctx, req)
}

func (m *Mux) CancelTransfer(ctx context.Context, transferID string) error {
	return m.remote.CancelTransfer(ctx, transferID)
}

func (m *Mux) ListDirectory(ctx context.Context, connectionID, path string) ([]DirEntry, error) {
	return m.byConnection(connectionID).ListDirectory(ctx, connectionID, path)
}

func (m *Mux) Rename(ctx context.Context, connectionID, oldPath, newPath string) error {
	return m.byConnection(connectionID).Rename(ctx, connectionID, oldPath, newPath)
}

func (m *Mux) HomeDir(ctx context.Context, connectionID string) (string, error) {
	return m.byConnection(connectionID).HomeDir(ctx, connectionID)
}

func (m *Mux) StartForward(ctx context.Context, connectionID string, fwd model.ForwardSpec) error {
	return m.byConnection(connectionID).StartForward(ctx, connectionID, fwd)
}

// Persistence is delegated to the backend when one is attached.
func (m *Mux) SaveConnections(ctx context.Context, conns []model.Connection) error {
	return m.remote.SaveConnections(ctx, conns)
}

func (m *Mux) LoadConnections(ctx context.Context) ([]model.Connection, error) {
	return m.remote.LoadConnections(ctx)
}

// OnSessionData registers on both gateways; whichever ends up owning the
// session is the only one that will emit for this id.
func (m *Mux) OnSessionData(sessionID string, fn func([]byte)) (cancel func()) {
	c1 := m.local.OnSessionData(sessionID, fn)
	c2 := m.remote.OnSessionData(sessionID, fn)
	return func() {
		c1()
		c2()
	}
}

func (m *Mux) OnTransferEvent(fn func(TransferEvent)) (cancel func()) {
	return m.remote.OnTransferEvent(fn)
}

func (m *Mux) OnConnectionStatus(fn func(StatusEvent)) (cancel func()) {
	return m.remote.OnConnectionStatus(fn)
}

func (m *Mux) Close() error {
	return errors.Join(m.local.Close(), m.remote.Close())
}
