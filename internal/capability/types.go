// Package capability maintains connections to external capability servers
// speaking the MCP protocol over stdio, SSE, or streamable HTTP. Each
// configured server owns a small state machine; the manager coalesces
// connection attempts, caches the server's tool/prompt/resource surface,
// and reconciles the live set against configuration updates.
package capability

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Transport selects how a server is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportSSE            Transport = "sse"
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig is one entry in the capability configuration document.
type ServerConfig struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Transport Transport `json:"transport"`

	// stdio
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// sse, streamable-http
	URL string `json:"url,omitempty"`

	Enabled     bool `json:"enabled"`
	AutoConnect bool `json:"autoConnect"`
}

// Status is a server's position in the connection state machine.
//
//	disconnected --connect--> connecting --success--> connected
//	connecting --failure--> error
//	connected --unexpected failure--> error
//	connected --disconnect--> disconnected
//	error --reconnect--> connecting
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ServerInfo identifies the remote implementation, cached on connect.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerState is a point-in-time snapshot of one server. Lists are only
// populated while the server is connected.
type ServerState struct {
	Config        ServerConfig
	Status        Status
	Info          ServerInfo
	Tools         []mcp.Tool
	Prompts       []mcp.Prompt
	Resources     []mcp.Resource
	LastConnected time.Time
	Err           string
}
