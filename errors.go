package mcphub

import (
	stderrors "errors"

	"github.com/wagiedev/mcphub/internal/errors"
)

// ErrNoConfigStore is returned by New when no configuration store is set.
var ErrNoConfigStore = stderrors.New("config store is required")

// Re-export error types from internal package

// ConfigurationError indicates a server configuration that cannot be used.
type ConfigurationError = errors.ConfigurationError

// TransportError indicates failure to reach a server.
type TransportError = errors.TransportError

// ProcessError indicates a server process that failed.
type ProcessError = errors.ProcessError

// ProtocolError indicates a message that is not valid JSON-RPC.
type ProtocolError = errors.ProtocolError

// RPCError is a well-formed error response from a server.
type RPCError = errors.RPCError

// HTTPStatusError indicates a non-2xx response from an HTTP server.
type HTTPStatusError = errors.HTTPStatusError

// HubError is the base interface for all hub errors.
type HubError = errors.HubError

// Re-export sentinel errors from internal package.
var (
	// ErrTransportDisconnected indicates the pipe, process or connection
	// behind a client is gone.
	ErrTransportDisconnected = errors.ErrTransportDisconnected

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrClientClosed indicates the hub or client has been closed.
	ErrClientClosed = errors.ErrClientClosed

	// ErrUnknownTarget indicates a tool whose server is not enabled.
	ErrUnknownTarget = errors.ErrUnknownTarget

	// ErrNotNamespaced indicates a tool name without the registry prefix.
	ErrNotNamespaced = errors.ErrNotNamespaced
)
