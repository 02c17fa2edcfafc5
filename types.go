package mcphub

import (
	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/localtools"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/mcp"
	"github.com/wagiedev/mcphub/internal/registry"
	"github.com/wagiedev/mcphub/internal/secrets"
	"github.com/wagiedev/mcphub/internal/subprocess"
)

// Version is the hub version reported in initialize exchanges by default.
// Release builds override it with -ldflags.
var Version = "dev"

// DefaultShutdownGrace is how long a stdio server gets to exit after its
// stdin is closed.
const DefaultShutdownGrace = subprocess.DefaultShutdownGrace

// ===== Configuration =====

// ServerConfig describes one external MCP server.
type ServerConfig = config.ServerConfig

// Transport is the kind of connection to a server.
type Transport = config.Transport

// Transport kinds.
const (
	TransportStdio = config.TransportStdio
	TransportHTTP  = config.TransportHTTP
)

// ConfigStore supplies server configuration.
type ConfigStore = config.Store

// MemoryStore is an in-memory ConfigStore.
type MemoryStore = config.MemoryStore

// FileStore is a ConfigStore backed by a YAML file.
type FileStore = config.FileStore

// NewMemoryStore creates a store holding servers.
var NewMemoryStore = config.NewMemoryStore

// SecretResolver turns a secret reference into its value.
type SecretResolver = secrets.Resolver

// ===== Tools =====

// ToolDescriptor describes one tool: its name, description and opaque
// JSON input schema.
type ToolDescriptor = mcp.ToolDescriptor

// ToolResult is the outcome of a tool call. Failures are carried as text
// with IsError set.
type ToolResult = mcp.ToolResult

// Tool is a namespaced registry tool together with its owning server.
type Tool = registry.Tool

// Implementation names a client or server in the initialize exchange.
type Implementation = mcp.Implementation

// LocalExecutor runs tools in process.
type LocalExecutor = localtools.Executor

// ===== Logs =====

// LogEntry is one entry of a server's log ring.
type LogEntry = logbuf.Entry

// LogLevel is the level of a LogEntry.
type LogLevel = logbuf.Level

// Log levels.
const (
	LogLevelInfo   = logbuf.LevelInfo
	LogLevelWarn   = logbuf.LevelWarn
	LogLevelError  = logbuf.LevelError
	LogLevelStderr = logbuf.LevelStderr
)

// ===== Namespacing =====

// IsMcpTool reports whether name is a namespaced registry tool. Names for
// which it returns false belong to the local executor.
func IsMcpTool(name string) bool {
	return registry.IsMcpTool(name)
}

// ToolName builds the namespaced name of tool on server.
func ToolName(server, tool string) string {
	return registry.Build(server, tool)
}

// SplitToolName recovers the normalized server name and the tool name from
// a namespaced name.
func SplitToolName(name string) (server, tool string, ok bool) {
	return registry.Split(name)
}
