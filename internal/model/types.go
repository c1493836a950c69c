package model

import "time"

// LocalConnectionID is the reserved id of the local pseudo-connection. It is
// never persisted to the backend and connecting to it always succeeds.
const LocalConnectionID = "local"

// ConnectionStatus is the runtime state of a connection. It is never persisted.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// AuthMethod selects how a connection authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
)

// ForwardSpec defines one local->remote port forward owned by a connection.
type ForwardSpec struct {
	LocalAddr  string `json:"local_addr,omitempty"`
	LocalPort  int    `json:"local_port"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	RemotePort int    `json:"remote_port"`
	AutoStart  bool   `json:"auto_start,omitempty"`
}

func (f ForwardSpec) LocalString() string {
	if f.LocalAddr == "" {
		return "127.0.0.1"
	}
	return f.LocalAddr
}

func (f ForwardSpec) RemoteString() string {
	if f.RemoteAddr == "" {
		return "localhost"
	}
	return f.RemoteAddr
}

// Connection describes one remote endpoint. Status, StatusMessage and HomePath
// are runtime-only; everything else round-trips through the backend's
// save-connections/load-connections calls.
type Connection struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Host          string        `json:"host"`
	Port          int           `json:"port"`
	Username      string        `json:"username,omitempty"`
	AuthMethod    AuthMethod    `json:"auth_method,omitempty"`
	Password      string        `json:"password,omitempty"`
	KeyPath       string        `json:"key_path,omitempty"`
	JumpServerID  string        `json:"jump_server_id,omitempty"`
	Pinned        []string      `json:"pinned,omitempty"`
	Forwards      []ForwardSpec `json:"forwards,omitempty"`
	LastConnected time.Time     `json:"last_connected,omitempty"`

	Status        ConnectionStatus `json:"-"`
	StatusMessage string           `json:"-"`
	HomePath      string           `json:"-"`
}

// DisplayName returns the name, or the host when no name was given.
func (c Connection) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Host
}

// IsLocal reports whether this is the local pseudo-connection.
func (c Connection) IsLocal() bool { return c.ID == LocalConnectionID }

// View identifies what a connection tab is currently showing.
type View string

const (
	ViewTerminal  View = "terminal"
	ViewFiles     View = "files"
	ViewForwards  View = "port-forwarding"
	ViewSnippets  View = "snippets"
	ViewDashboard View = "dashboard"
)

// TabType distinguishes connection tabs from the special singleton tabs.
type TabType string

const (
	TabConnection     TabType = "connection"
	TabSettings       TabType = "settings"
	TabPortForwarding TabType = "port-forwarding"
)

// Tab is one UI-visible session context. ConnectionID is a lookup key, not a
// snapshot: editing the connection does not invalidate the tab.
type Tab struct {
	ID           string  `json:"id"`
	Type         TabType `json:"type"`
	Title        string  `json:"title"`
	ConnectionID string  `json:"connection_id,omitempty"`
	View         View    `json:"view,omitempty"`
}

// TransferStatus is the lifecycle state of one tracked file copy.
type TransferStatus string

const (
	TransferPending      TransferStatus = "pending"
	TransferTransferring TransferStatus = "transferring"
	TransferCompleted    TransferStatus = "completed"
	TransferFailed       TransferStatus = "failed"
	TransferCancelled    TransferStatus = "cancelled"
)

// Terminal reports whether the status is final. A terminal transfer never
// re-enters a non-terminal state.
func (s TransferStatus) Terminal() bool {
	switch s {
	case TransferCompleted, TransferFailed, TransferCancelled:
		return true
	}
	return false
}

// Endpoint names one side of a transfer: a connection id plus a path on that
// connection's filesystem. The local machine uses LocalConnectionID.
type Endpoint struct {
	ConnectionID string `json:"connection_id"`
	Path         string `json:"path"`
}

// IsLocal reports whether the endpoint is on the local machine.
func (e Endpoint) IsLocal() bool { return e.ConnectionID == LocalConnectionID }

// Transfer tracks one in-flight or recently finished file copy.
type Transfer struct {
	ID          string         `json:"id"`
	Source      Endpoint       `json:"source"`
	Destination Endpoint       `json:"destination"`
	Status      TransferStatus `json:"status"`
	Transferred int64          `json:"transferred"`
	Total       int64          `json:"total"`
	Percent     float64        `json:"percent"`
	SpeedBps    float64        `json:"speed_bps"`
	Error       string         `json:"error,omitempty"`
	Label       string         `json:"label,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at,omitempty"`
}
