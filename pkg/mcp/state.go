package mcp

// ConnectionState is the lifecycle state of one server connection. Only the
// owning Connection transitions it.
//
// disconnected --connect--> connecting --ok--> handshaking --ok--> connected
// connecting|handshaking --fail--> reconnecting|error
// connected --transport failure--> reconnecting|error
// reconnecting --attempt ok--> connected
// reconnecting --attempts exhausted--> error
// any --disconnect--> disconnected
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateHandshaking  ConnectionState = "handshaking"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// ServerStatus is an external view of one connection's state.
type ServerStatus struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	State      ConnectionState  `json:"state"`
	ServerInfo *ServerInfo      `json:"serverInfo,omitempty"`
	Attempt    int              `json:"attempt,omitempty"` // reconnect attempts used
	Error      string           `json:"error,omitempty"`
	Tools      []ToolDescriptor `json:"tools,omitempty"`
}
