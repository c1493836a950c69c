// Package sessions caches live terminal sessions across tab remounts. A
// session is spawned at most once for its lifetime; reopening the tab
// reattaches to the cached session and replays buffered output instead of
// spawning a second shell.
package sessions

import (
	"context"
	"io"
	"sync"
)

// scrollbackLimit bounds the replay buffer kept per session, in bytes. Old
// output is dropped from the front once the limit is reached.
const scrollbackLimit = 256 * 1024

// Gateway is the subset of the backend gateway the cache drives.
type Gateway interface {
	SpawnSession(ctx context.Context, connectionID, sessionID string, rows, cols int) error
	Write(sessionID string, data []byte) error
	Resize(sessionID string, rows, cols int) error
	CloseSession(sessionID string) error
	OnSessionData(sessionID string, fn func(data []byte)) (cancel func())
}

// Session is one cached terminal. Output arrives on the gateway's event
// goroutine; the sink, when attached, receives it live while the scrollback
// keeps a bounded copy for replay.
type Session struct {
	ID           string
	ConnectionID string

	mu         sync.Mutex
	spawned    bool
	scrollback []byte
	sink       io.Writer
	unsub      func()
}

// Cache holds sessions keyed by session id. Entries persist across tab
// remounts and are removed only by Release or ReleaseByConnection.
type Cache struct {
	gw Gateway

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewCache creates an empty cache.
func NewCache(gw Gateway) *Cache {
	return &Cache{gw: gw, sessions: make(map[string]*Session)}
}

// Acquire returns the session for the given id, creating it on first use.
// The output subscription is registered exactly once, when the entry is
// created; a remount gets the same entry back.
func (c *Cache) Acquire(connectionID, sessionID string) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[sessionID]; ok {
		return s
	}
	s := &Session{ID: sessionID, ConnectionID: connectionID}
	s.unsub = c.gw.OnSessionData(sessionID, s.receive)
	c.sessions[sessionID] = s
	return s
}

// Get returns the cached session, if present.
func (c *Cache) Get(sessionID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// EnsureSpawned spawns the backing shell unless a spawn has already been
// requested. The guard is set before the gateway call so that a remount
// arriving while the spawn is still in flight does not spawn a second shell;
// it is cleared again only if the request itself fails.
func (c *Cache) EnsureSpawned(ctx context.Context, sessionID string, rows, cols int) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if !ok {
		return errNotAcquired(sessionID)
	}

	s.mu.Lock()
	if s.spawned {
		s.mu.Unlock()
		return nil
	}
	s.spawned = true
	s.mu.Unlock()

	if err := c.gw.SpawnSession(ctx, s.ConnectionID, sessionID, rows, cols); err != nil {
		s.mu.Lock()
		s.spawned = false
		s.mu.Unlock()
		return err
	}
	return nil
}

// Attach replays the scrollback into w and then routes live output to it,
// replacing any previous sink.
func (c *Cache) Attach(sessionID string, w io.Writer) error {
	s, ok := c.Get(sessionID)
	if !ok {
		return errNotAcquired(sessionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.scrollback) > 0 && w != nil {
		w.Write(s.scrollback)
	}
	s.sink = w
	return nil
}

// Detach stops routing live output without releasing the session; the
// scrollback keeps accumulating for the next attach.
func (c *Cache) Detach(sessionID string) {
	if s, ok := c.Get(sessionID); ok {
		s.mu.Lock()
		s.sink = nil
		s.mu.Unlock()
	}
}

// Write forwards terminal input to the session's shell.
func (c *Cache) Write(sessionID string, data []byte) error {
	if _, ok := c.Get(sessionID); !ok {
		return errNotAcquired(sessionID)
	}
	return c.gw.Write(sessionID, data)
}

// Resize forwards a terminal resize to the session's shell.
func (c *Cache) Resize(sessionID string, rows, cols int) error {
	if _, ok := c.Get(sessionID); !ok {
		return errNotAcquired(sessionID)
	}
	return c.gw.Resize(sessionID, rows, cols)
}

// Release closes the session's shell and drops the cache entry. This is the
// only path that removes an entry for a live connection.
func (c *Cache) Release(sessionID string) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if ok {
		delete(c.sessions, sessionID)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	s.release(c.gw)
}

// ReleaseByConnection drops every session belonging to the connection. The
// registry calls this on disconnect so stale shells do not linger.
func (c *Cache) ReleaseByConnection(connectionID string) {
	c.mu.Lock()
	var doomed []*Session
	for id, s := range c.sessions {
		if s.ConnectionID == connectionID {
			doomed = append(doomed, s)
			delete(c.sessions, id)
		}
	}
	c.mu.Unlock()
	for _, s := range doomed {
		s.release(c.gw)
	}
}

// Sessions returns a snapshot of cached session ids per connection.
func (c *Cache) Sessions(connectionID string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, s := range c.sessions {
		if s.ConnectionID == connectionID {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Session) receive(data []byte) {
	s.mu.Lock()
	s.scrollback = append(s.scrollback, data...)
	if over := len(s.scrollback) - scrollbackLimit; over > 0 {
		s.scrollback = append(s.scrollback[:0], s.scrollback[over:]...)
	}
	sink := s.sink
	s.mu.Unlock()
	if sink != nil {
		sink.Write(data)
	}
}

func (s *Session) release(gw Gateway) {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	spawned := s.spawned
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	if spawned {
		gw.CloseSession(s.ID)
	}
}

type errNotAcquired string

func (e errNotAcquired) Error() string { return "session not acquired: " + string(e) }
