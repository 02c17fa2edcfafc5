package errors

import (
	"errors"
	"fmt"
)

// HubError is the base interface for all hub errors.
type HubError interface {
	error
	IsHubError() bool
}

// Compile-time verification that all error types implement HubError.
var (
	_ HubError = (*ConfigurationError)(nil)
	_ HubError = (*TransportError)(nil)
	_ HubError = (*ProcessError)(nil)
	_ HubError = (*ProtocolError)(nil)
	_ HubError = (*RPCError)(nil)
	_ HubError = (*HTTPStatusError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrTransportDisconnected indicates the pipe, process or connection behind
	// a client is gone. Every pending request on that transport fails with it.
	ErrTransportDisconnected = errors.New("transport disconnected")

	// ErrRequestTimeout indicates a request timed out waiting for its response.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.New("client closed")

	// ErrNotInitialized indicates an MCP call was made before the handshake.
	ErrNotInitialized = errors.New("client not initialized")

	// ErrUnknownTarget indicates dispatch to a tool whose server is not
	// configured or no longer enabled.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrNotNamespaced indicates a tool name without the registry prefix.
	ErrNotNamespaced = errors.New("tool name is not namespaced")

	// ErrDuplicateResolution indicates a second resolution for an id that was
	// already resolved, cancelled or failed.
	ErrDuplicateResolution = errors.New("request already resolved")
)

// ConfigurationError indicates a server configuration that cannot be used.
// It is raised at construction, before any process is spawned.
type ConfigurationError struct {
	ServerID string
	Field    string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration for server %q: %s", e.ServerID, e.Reason)
	}

	return fmt.Sprintf("invalid configuration for server %q: %s %s", e.ServerID, e.Field, e.Reason)
}

// IsHubError implements HubError.
func (e *ConfigurationError) IsHubError() bool { return true }

// TransportError indicates failure to reach a server.
type TransportError struct {
	ServerID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for server %q: %v", e.ServerID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsHubError implements HubError.
func (e *TransportError) IsHubError() bool { return true }

// ProcessError indicates a server subprocess failed.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("server process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsHubError implements HubError.
func (e *ProcessError) IsHubError() bool { return true }

// ProtocolError indicates a malformed JSON-RPC envelope.
// This error preserves the original raw data that failed to parse.
type ProtocolError struct {
	RawData string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed JSON-RPC message: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsHubError implements HubError.
func (e *ProtocolError) IsHubError() bool { return true }

// RPCError is a well-formed JSON-RPC error returned by a remote server.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// IsHubError implements HubError.
func (e *RPCError) IsHubError() bool { return true }

// HTTPStatusError indicates a non-2xx HTTP response from a remote server.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP status %d", e.StatusCode)
	}

	return fmt.Sprintf("HTTP status %d: %s", e.StatusCode, e.Body)
}

// IsHubError implements HubError.
func (e *HTTPStatusError) IsHubError() bool { return true }
