package mcp

// Connection states reported in ServerStatus.
const (
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusRemote   = "remote"
	StatusDisabled = "disabled"
)

// ServerStatus represents the connection status of a single MCP server.
type ServerStatus struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Status    string `json:"status"`
	Pid       int    `json:"pid,omitempty"`
}

// Status represents the connection status of all configured MCP servers.
type Status struct {
	Scope      string         `json:"scope"`
	MCPServers []ServerStatus `json:"mcpServers"`
}
