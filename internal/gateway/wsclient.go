package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/calebmh/termdock/internal/model"
	"github.com/calebmh/termdock/internal/util"
)

// frame is the single wire shape for requests, responses and push events.
// Requests carry ID+Cmd, responses echo the ID, pushes carry Event. Payloads
// are command-specific JSON objects.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Cmd     Command         `json:"cmd,omitempty"`
	OK      bool            `json:"ok,omitempty"`
	Error   string          `json:"error,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`

	Event                   EventName `json:"event,omitempty"`
	SessionID               string    `json:"session_id,omitempty"`
	Data                    string    `json:"data,omitempty"` // base64 session bytes
	TransferID              string    `json:"transfer_id,omitempty"`
	Transferred             int64     `json:"transferred,omitempty"`
	Total                   int64     `json:"total,omitempty"`
	DestinationConnectionID string    `json:"destination_connection_id,omitempty"`
	ConnectionID            string    `json:"connection_id,omitempty"`
	Status                  string    `json:"status,omitempty"`
	Message                 string    `json:"message,omitempty"`
}

// WSClient is the production Gateway: a JSON-over-WebSocket client for the
// backend process. One read pump resolves responses by correlation id and
// dispatches push events synchronously, which preserves the backend's per-id
// emission order.
type WSClient struct {
	conn *websocket.Conn

	writeMu sync.Mutex // serializes writes to the socket

	mu               sync.Mutex
	pending          map[string]chan frame
	sessionHandlers  map[string]func([]byte)
	transferHandlers map[int]func(TransferEvent)
	statusHandlers   map[int]func(StatusEvent)
	nextHandler      int

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the backend at addr (a ws:// or wss:// URL). The token, if
// non-empty, is sent as a bearer Authorization header.
func Dial(ctx context.Context, addr, token string) (*WSClient, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, util.BackendDialTimeout)
		defer cancel()
	}
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, addr, hdr)
	if err != nil {
		return nil, fmt.Errorf("dial backend %s: %w", addr, err)
	}
	c := &WSClient{
		conn:             conn,
		pending:          map[string]chan frame{},
		sessionHandlers:  map[string]func([]byte){},
		transferHandlers: map[int]func(TransferEvent){},
		statusHandlers:   map[int]func(StatusEvent){},
		closed:           make(chan struct{}),
	}
	go c.readPump()
	return c, nil
}

func (c *WSClient) readPump() {
	defer c.Close()
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.closed:
			default:
				slog.Debug("backend read closed", "error", err)
			}
			return
		}
		if f.Event != "" {
			c.dispatchEvent(f)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.ID]
		if ok {
			delete(c.pending, f.ID)
		}
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

func (c *WSClient) dispatchEvent(f frame) {
	switch f.Event {
	case EvSessionData:
		c.mu.Lock()
		fn := c.sessionHandlers[f.SessionID]
		c.mu.Unlock()
		if fn == nil {
			return
		}
		data, err := base64.StdEncoding.DecodeString(f.Data)
		if err != nil {
			slog.Warn("undecodable session data", "session", f.SessionID, "error", err)
			return
		}
		fn(data)
	case EvTransferProgress, EvTransferSuccess, EvTransferError:
		ev := TransferEvent{
			Name:                    f.Event,
			TransferID:              f.TransferID,
			Transferred:             f.Transferred,
			Total:                   f.Total,
			DestinationConnectionID: f.DestinationConnectionID,
			Message:                 f.Message,
		}
		for _, fn := range c.snapshotTransferHandlers() {
			fn(ev)
		}
	case EvConnectionStatus:
		ev := StatusEvent{
			ConnectionID: f.ConnectionID,
			Status:       model.ConnectionStatus(f.Status),
			Error:        f.Error,
		}
		for _, fn := range c.snapshotStatusHandlers() {
			fn(ev)
		}
	default:
		slog.Debug("ignoring unknown push event", "event", f.Event)
	}
}

func (c *WSClient) snapshotTransferHandlers() []func(TransferEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(TransferEvent), 0, len(c.transferHandlers))
	for _, fn := range c.transferHandlers {
		out = append(out, fn)
	}
	return out
}

func (c *WSClient) snapshotStatusHandlers() []func(StatusEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]func(StatusEvent), 0, len(c.statusHandlers))
	for _, fn := range c.statusHandlers {
		out = append(out, fn)
	}
	return out
}

// call issues one request and waits for its response or context cancellation.
func (c *WSClient) call(ctx context.Context, cmd Command, payload any) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	ch := make(chan frame, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.send(frame{ID: id, Cmd: cmd, Payload: raw}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if !resp.OK {
			return nil, fmt.Errorf("%s: %s", cmd, util.DefaultString(resp.Error, "backend error"))
		}
		return resp.Payload, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, fmt.Errorf("%s: backend connection closed", cmd)
	}
}

// post issues one request without waiting for a response. Used for the
// high-rate session pass-throughs (write/resize) where acknowledgement adds
// nothing.
func (c *WSClient) post(cmd Command, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.send(frame{Cmd: cmd, Payload: raw})
}

func (c *WSClient) send(f frame) error {
	select {
	case <-c.closed:
		return fmt.Errorf("backend connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

func (c *WSClient) Connect(ctx context.Context, cfg ConnectConfig) error {
	_, err := c.call(ctx, CmdConnect, cfg)
	return err
}

func (c *WSClient) Disconnect(ctx context.Context, connectionID string) error {
	_, err := c.call(ctx, CmdDisconnect, map[string]string{"connection_id": connectionID})
	return err
}

func (c *WSClient) SpawnSession(ctx context.Context, connectionID, sessionID string, rows, cols int) error {
	_, err := c.call(ctx, CmdSpawnSession, map[string]any{
		"connection_id": connectionID,
		"session_id":    sessionID,
		"rows":          rows,
		"cols":          cols,
	})
	return err
}

func (c *WSClient) Write(sessionID string, data []byte) error {
	return c.post(CmdWrite, map[string]string{
		"session_id": sessionID,
		"data":       base64.StdEncoding.EncodeToString(data),
	})
}

func (c *WSClient) Resize(sessionID string, rows, cols int) error {
	return c.post(CmdResize, map[string]any{
		"session_id": sessionID,
		"rows":       rows,
		"cols":       cols,
	})
}

func (c *WSClient) CloseSession(sessionID string) error {
	return c.post(CmdCloseSession, map[string]string{"session_id": sessionID})
}

func (c *WSClient) StartTransfer(ctx context.Context, req TransferRequest) error {
	_, err := c.call(ctx, CmdStartTransfer, req)
	return err
}

func (c *WSClient) CancelTransfer(ctx context.Context, transferID string) error {
	_, err := c.call(ctx, CmdCancelTransfer, map[string]string{"transfer_id": transferID})
	return err
}

func (c *WSClient) ListDirectory(ctx context.Context, connectionID, path string) ([]DirEntry, error) {
	raw, err := c.call(ctx, CmdListDirectory, map[string]string{
		"connection_id": connectionID,
		"path":          path,
	})
	if err != nil {
		return nil, err
	}
	var out []DirEntry
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode directory listing: %w", err)
	}
	return out, nil
}

func (c *WSClient) Rename(ctx context.Context, connectionID, oldPath, newPath string) error {
	_, err := c.call(ctx, CmdRename, map[string]string{
		"connection_id": connectionID,
		"old_path":      oldPath,
		"new_path":      newPath,
	})
	return err
}

func (c *WSClient) HomeDir(ctx context.Context, connectionID string) (string, error) {
	raw, err := c.call(ctx, CmdHomeDir, map[string]string{"connection_id": connectionID})
	if err != nil {
		return "", err
	}
	var out struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode home dir: %w", err)
	}
	return out.Path, nil
}

func (c *WSClient) StartForward(ctx context.Context, connectionID string, fwd model.ForwardSpec) error {
	_, err := c.call(ctx, CmdStartForward, map[string]any{
		"connection_id": connectionID,
		"forward":       fwd,
	})
	return err
}

func (c *WSClient) SaveConnections(ctx context.Context, conns []model.Connection) error {
	_, err := c.call(ctx, CmdSaveConnections, conns)
	return err
}

func (c *WSClient) LoadConnections(ctx context.Context) ([]model.Connection, error) {
	raw, err := c.call(ctx, CmdLoadConnections, struct{}{})
	if err != nil {
		return nil, err
	}
	var out []model.Connection
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}
	return out, nil
}

func (c *WSClient) OnSessionData(sessionID string, fn func([]byte)) (cancel func()) {
	c.mu.Lock()
	c.sessionHandlers[sessionID] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.sessionHandlers, sessionID)
		c.mu.Unlock()
	}
}

func (c *WSClient) OnTransferEvent(fn func(TransferEvent)) (cancel func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.transferHandlers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.transferHandlers, id)
		c.mu.Unlock()
	}
}

func (c *WSClient) OnConnectionStatus(fn func(StatusEvent)) (cancel func()) {
	c.mu.Lock()
	id := c.nextHandler
	c.nextHandler++
	c.statusHandlers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.statusHandlers, id)
		c.mu.Unlock()
	}
}

// Close tears down the socket. Pending calls fail, push handlers stop firing.
func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
