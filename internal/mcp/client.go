package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/wagiedev/mcphub/internal/logbuf"
)

// Default timeouts.
const (
	// DefaultCallTimeout bounds ordinary requests such as tools/list and
	// tools/call.
	DefaultCallTimeout = 60 * time.Second

	// DefaultInitTimeout bounds the initialize handshake. Servers fetched on
	// first run (npx, uvx) may take minutes before they answer.
	DefaultInitTimeout = 5 * time.Minute

	// maxListPages stops a server that keeps returning cursors.
	maxListPages = 100
)

// Client is a borrowed handle on a server connection. It offers no way to
// dispose of the connection.
type Client interface {
	// ServerID returns the id of the configured server.
	ServerID() string

	// EnsureInitialized performs the initialize handshake once. Later calls
	// return immediately.
	EnsureInitialized(ctx context.Context) error

	// ListTools returns every tool the server offers.
	ListTools(ctx context.Context) ([]ToolDescriptor, error)

	// CallTool invokes a tool. Every failure, including transport failure,
	// is returned as an error ToolResult naming the tool.
	CallTool(ctx context.Context, name string, args json.RawMessage) ToolResult
}

// OwnedClient is a client whose lifetime belongs to the holder.
type OwnedClient interface {
	Client

	// Close releases the connection. It is safe to call more than once.
	Close() error
}

// Compile-time verification that both transports implement OwnedClient.
var (
	_ OwnedClient = (*StdioClient)(nil)
	_ OwnedClient = (*HTTPClient)(nil)
)

// Options configures a client.
type Options struct {
	// Logger receives diagnostics. If nil, logging is disabled.
	Logger *slog.Logger

	// ClientInfo identifies this client in the initialize request.
	ClientInfo Implementation

	// CallTimeout bounds ordinary requests. Defaults to DefaultCallTimeout.
	CallTimeout time.Duration

	// InitTimeout bounds the initialize handshake. Defaults to
	// DefaultInitTimeout.
	InitTimeout time.Duration

	// ShutdownGrace is how long a stdio server gets to exit after stdin is
	// closed before it is killed.
	ShutdownGrace time.Duration

	// Logs receives stderr lines from a stdio server. Optional.
	Logs *logbuf.Ring

	// BearerToken is sent as an Authorization header by the HTTP client.
	BearerToken string

	// HTTPClient is the client used by the HTTP transport. Defaults to a
	// client with no overall timeout; per-request timeouts apply instead.
	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if o.ClientInfo.Name == "" {
		o.ClientInfo = Implementation{Name: "mcphub", Version: "dev"}
	}

	if o.CallTimeout <= 0 {
		o.CallTimeout = DefaultCallTimeout
	}

	if o.InitTimeout <= 0 {
		o.InitTimeout = DefaultInitTimeout
	}

	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{}
	}

	return o
}

// callFunc sends one request and returns its raw result.
type callFunc func(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)

// listAllTools follows nextCursor until the server stops returning one.
func listAllTools(ctx context.Context, call callFunc, timeout time.Duration) ([]ToolDescriptor, error) {
	var (
		tools  []ToolDescriptor
		cursor string
		seen   = make(map[string]bool)
	)

	for range maxListPages {
		var params any
		if cursor != "" {
			params = ListToolsParams{Cursor: cursor}
		}

		raw, err := call(ctx, MethodToolsList, params, timeout)
		if err != nil {
			return nil, err
		}

		var page ListToolsResult
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}

		tools = append(tools, page.Tools...)

		if page.NextCursor == "" || seen[page.NextCursor] {
			return tools, nil
		}

		seen[page.NextCursor] = true
		cursor = page.NextCursor
	}

	return tools, nil
}

// callTool sends tools/call and converts every outcome to a ToolResult.
func callTool(ctx context.Context, call callFunc, timeout time.Duration, name string, args json.RawMessage) ToolResult {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	raw, err := call(ctx, MethodToolsCall, CallToolParams{Name: name, Arguments: args}, timeout)
	if err != nil {
		return Failure("Tool %s failed: %v", name, err)
	}

	result, err := DecodeCallToolResult(raw)
	if err != nil {
		return Failure("Tool %s returned an unreadable result: %v", name, err)
	}

	return result
}
