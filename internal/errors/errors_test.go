package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigurationError(t *testing.T) {
	t.Run("with field", func(t *testing.T) {
		err := &ConfigurationError{ServerID: "echo", Field: "command", Reason: "is required"}

		require.Equal(t, `invalid configuration for server "echo": command is required`, err.Error())
		require.True(t, err.IsHubError())
	})

	t.Run("without field", func(t *testing.T) {
		err := &ConfigurationError{ServerID: "echo", Reason: "unknown transport"}

		require.Equal(t, `invalid configuration for server "echo": unknown transport`, err.Error())
	})
}

func TestTransportError(t *testing.T) {
	root := errors.New("broken pipe")
	err := &TransportError{ServerID: "echo", Err: root}

	require.Equal(t, `transport failure for server "echo": broken pipe`, err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsHubError())
}

func TestProcessError_WithUnderlyingError(t *testing.T) {
	root := errors.New("signal: killed")
	err := &ProcessError{
		ExitCode: 9,
		Stderr:   "ignored when Err is set",
		Err:      root,
	}

	require.Equal(t, "server process failed (exit 9): signal: killed", err.Error())
	require.ErrorIs(t, err, root)
	require.True(t, err.IsHubError())
}

func TestProcessError_WithStderrOnly(t *testing.T) {
	err := &ProcessError{
		ExitCode: 2,
		Stderr:   "module not found",
	}

	require.Equal(t, "server process failed (exit 2): module not found", err.Error())
	require.NoError(t, err.Unwrap())
}

func TestProtocolError(t *testing.T) {
	root := errors.New("unexpected end of JSON input")
	err := &ProtocolError{RawData: `{"jsonrpc":`, Err: root}

	require.Equal(t, "malformed JSON-RPC message: unexpected end of JSON input", err.Error())
	require.ErrorIs(t, err, root)
}

func TestRPCError(t *testing.T) {
	err := &RPCError{Code: -32601, Message: "method not found"}

	require.Equal(t, "jsonrpc error -32601: method not found", err.Error())
	require.True(t, err.IsHubError())
}

func TestHTTPStatusError(t *testing.T) {
	require.Equal(t, "HTTP status 500", (&HTTPStatusError{StatusCode: 500}).Error())
	require.Equal(t, "HTTP status 502: bad gateway", (&HTTPStatusError{StatusCode: 502, Body: "bad gateway"}).Error())
}

func TestErrorsAsType(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &RPCError{Code: -1, Message: "x"})

	rpcErr, ok := errors.AsType[*RPCError](wrapped)
	require.True(t, ok)
	require.Equal(t, int64(-1), rpcErr.Code)

	_, ok = errors.AsType[HubError](wrapped)
	require.True(t, ok)
}
