// Package gateway defines the asynchronous backend interface that performs all
// actual transport work (SSH, SFTP, PTY allocation) on behalf of the
// orchestration core, plus the concrete implementations: a WebSocket client
// for a remote backend process and an in-process loopback gateway for the
// local pseudo-connection.
//
// The core only ever sees this package's Gateway interface. Requests are
// plain calls that may suspend on the backend; push notifications (terminal
// output, transfer progress, status changes) arrive through handlers
// registered up front. Delivery is ordered per session id and per transfer
// id, with no ordering guarantee across different ids.
package gateway

import (
	"context"

	"github.com/calebmh/termdock/internal/model"
)

// Command is the wire name of one backend operation. Every supported
// operation appears here exactly once so the full request surface is
// statically enumerable.
type Command string

const (
	CmdConnect         Command = "connect"
	CmdDisconnect      Command = "disconnect"
	CmdSpawnSession    Command = "spawn-session"
	CmdWrite           Command = "write"
	CmdResize          Command = "resize"
	CmdCloseSession    Command = "close-session"
	CmdStartTransfer   Command = "start-transfer"
	CmdCancelTransfer  Command = "cancel-transfer"
	CmdListDirectory   Command = "list-directory"
	CmdRename          Command = "rename"
	CmdHomeDir         Command = "home-dir"
	CmdStartForward    Command = "start-forward"
	CmdSaveConnections Command = "save-connections"
	CmdLoadConnections Command = "load-connections"
)

// Commands returns every supported command, in a fixed order.
func Commands() []Command {
	return []Command{
		CmdConnect,
		CmdDisconnect,
		CmdSpawnSession,
		CmdWrite,
		CmdResize,
		CmdCloseSession,
		CmdStartTransfer,
		CmdCancelTransfer,
		CmdListDirectory,
		CmdRename,
		CmdHomeDir,
		CmdStartForward,
		CmdSaveConnections,
		CmdLoadConnections,
	}
}

// EventName is the wire name of one push notification stream.
type EventName string

const (
	EvSessionData      EventName = "session-data"
	EvTransferProgress EventName = "transfer-progress"
	EvTransferSuccess  EventName = "transfer-success"
	EvTransferError    EventName = "transfer-error"
	EvConnectionStatus EventName = "connection-status-change"
)

// ConnectConfig is a fully resolved connection request. JumpHost, when set,
// nests the configuration of the hop that must be traversed first; chains
// nest recursively, innermost hop deepest.
type ConnectConfig struct {
	ConnectionID string           `json:"connection_id"`
	Host         string           `json:"host"`
	Port         int              `json:"port"`
	Username     string           `json:"username,omitempty"`
	AuthMethod   model.AuthMethod `json:"auth_method,omitempty"`
	Password     string           `json:"password,omitempty"`
	KeyPath      string           `json:"key_path,omitempty"`
	JumpHost     *ConnectConfig   `json:"jump_host,omitempty"`
}

// Depth returns the nesting depth of the jump chain, 1 for a direct config.
func (c ConnectConfig) Depth() int {
	d := 1
	for j := c.JumpHost; j != nil; j = j.JumpHost {
		d++
	}
	return d
}

// TransferKind selects the backend copy path.
type TransferKind string

const (
	// KindPut uploads from the local machine to a remote connection.
	KindPut TransferKind = "put"
	// KindGet downloads from a remote connection to the local machine.
	KindGet TransferKind = "get"
	// KindCrossCopy copies between two different remote connections, routed
	// through the backend.
	KindCrossCopy TransferKind = "cross-copy"
)

// TransferRequest describes one start-transfer call. TransferID is allocated
// by the caller so progress events can be correlated before the call returns.
type TransferRequest struct {
	TransferID  string         `json:"transfer_id"`
	Kind        TransferKind   `json:"kind"`
	Source      model.Endpoint `json:"source"`
	Destination model.Endpoint `json:"destination"`
}

// DirEntry is one row of a list-directory response.
type DirEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
	Mode  string `json:"mode,omitempty"`
}

// TransferEvent is one push notification on a transfer's event stream.
type TransferEvent struct {
	Name        EventName `json:"event"`
	TransferID  string    `json:"transfer_id"`
	Transferred int64     `json:"transferred,omitempty"`
	Total       int64     `json:"total,omitempty"`
	// DestinationConnectionID accompanies transfer-success so the files view
	// of the receiving connection can refresh.
	DestinationConnectionID string `json:"destination_connection_id,omitempty"`
	Message                 string `json:"message,omitempty"`
}

// StatusEvent reports a backend-observed connection status change.
type StatusEvent struct {
	ConnectionID string                 `json:"connection_id"`
	Status       model.ConnectionStatus `json:"status"`
	Error        string                 `json:"error,omitempty"`
}

// Gateway is the request surface of the backend process. All methods are safe
// for concurrent use. Blocking methods take a context; the backend enforces
// its own timeouts, the core never does (a stuck connect resolves by backend
// error or explicit user disconnect).
type Gateway interface {
	Connect(ctx context.Context, cfg ConnectConfig) error
	Disconnect(ctx context.Context, connectionID string) error

	SpawnSession(ctx context.Context, connectionID, sessionID string, rows, cols int) error
	Write(sessionID string, data []byte) error
	Resize(sessionID string, rows, cols int) error
	CloseSession(sessionID string) error

	StartTransfer(ctx context.Context, req TransferRequest) error
	CancelTransfer(ctx context.Context, transferID string) error

	ListDirectory(ctx context.Context, connectionID, path string) ([]DirEntry, error)
	Rename(ctx context.Context, connectionID, oldPath, newPath string) error
	HomeDir(ctx context.Context, connectionID string) (string, error)
	StartForward(ctx context.Context, connectionID string, fwd model.ForwardSpec) error

	SaveConnections(ctx context.Context, conns []model.Connection) error
	LoadConnections(ctx context.Context) ([]model.Connection, error)

	// OnSessionData registers the single data handler for one session id and
	// returns a func that unregisters it. Registering twice for the same id
	// replaces the previous handler; the session cache guarantees it never
	// does so.
	OnSessionData(sessionID string, fn func(data []byte)) (cancel func())
	// OnTransferEvent registers a handler for all transfer event streams.
	OnTransferEvent(fn func(TransferEvent)) (cancel func())
	// OnConnectionStatus registers a handler for status-change pushes.
	OnConnectionStatus(fn func(StatusEvent)) (cancel func())

	// Close releases the gateway's resources. Push handlers stop firing after
	// Close returns.
	Close() error
}
