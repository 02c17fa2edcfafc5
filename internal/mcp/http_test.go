package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/mcptest"
)

func httpConfig(url string) config.ServerConfig {
	return config.ServerConfig{
		ID:        "remote",
		Name:      "Remote Tools",
		Transport: config.TransportHTTP,
		URL:       url,
		Enabled:   true,
	}
}

func TestHTTPClient_ListAndCall(t *testing.T) {
	stub := mcptest.NewServer(mcptest.Options{Tools: []string{"ping", "echo"}})
	srv := httptest.NewServer(mcptest.HTTPHandler(stub, mcptest.HTTPOptions{BearerToken: "s3cret"}))
	defer srv.Close()

	client, err := NewHTTPClient(httpConfig(srv.URL+"/"), Options{BearerToken: "s3cret"})
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	require.Equal(t, srv.URL+"/messages", client.Endpoint())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := client.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	require.True(t, client.Initialized())
	require.True(t, stub.Notified())

	result := client.CallTool(ctx, "echo", json.RawMessage(`{"x":1}`))
	require.False(t, result.IsError, result.Text)
	require.JSONEq(t, `{"x":1}`, result.Text)
}

func TestHTTPClient_StatusErrorNamesTool(t *testing.T) {
	stub := mcptest.NewServer(mcptest.Options{})
	srv := httptest.NewServer(mcptest.HTTPHandler(stub, mcptest.HTTPOptions{FailCalls: http.StatusInternalServerError}))
	defer srv.Close()

	client, err := NewHTTPClient(httpConfig(srv.URL), Options{})
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	result := client.CallTool(context.Background(), "ping", nil)
	require.True(t, result.IsError)
	require.Contains(t, result.Text, "ping")
	require.Contains(t, result.Text, "500")
}

func TestHTTPClient_RPCErrorIsText(t *testing.T) {
	stub := mcptest.NewServer(mcptest.Options{})
	srv := httptest.NewServer(mcptest.HTTPHandler(stub, mcptest.HTTPOptions{}))
	defer srv.Close()

	client, err := NewHTTPClient(httpConfig(srv.URL), Options{})
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	result := client.CallTool(context.Background(), "missing", nil)
	require.True(t, result.IsError)
	require.Contains(t, result.Text, "missing")
	require.Contains(t, result.Text, "unknown tool")

	_, err = client.SendRequest(context.Background(), "resources/list", nil, time.Second)

	rpcErr, ok := stderrors.AsType[*errors.RPCError](err)
	require.True(t, ok)
	require.Equal(t, int64(-32601), rpcErr.Code)
}

func TestHTTPClient_MissingBearerIsStatusError(t *testing.T) {
	stub := mcptest.NewServer(mcptest.Options{})
	srv := httptest.NewServer(mcptest.HTTPHandler(stub, mcptest.HTTPOptions{BearerToken: "s3cret"}))
	defer srv.Close()

	client, err := NewHTTPClient(httpConfig(srv.URL), Options{})
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	err = client.EnsureInitialized(context.Background())

	statusErr, ok := stderrors.AsType[*errors.HTTPStatusError](err)
	require.True(t, ok)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.False(t, client.Initialized())
}

func TestHTTPClient_MismatchedIDIsProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":"someone-else","result":{}}`))
	}))
	defer srv.Close()

	client, err := NewHTTPClient(httpConfig(srv.URL), Options{})
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	_, err = client.SendRequest(context.Background(), MethodPing, nil, time.Second)

	_, ok := stderrors.AsType[*errors.ProtocolError](err)
	require.True(t, ok)
}

func TestHTTPClient_Timeout(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewHTTPClient(httpConfig(srv.URL), Options{})
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	_, err = client.SendRequest(context.Background(), MethodPing, nil, 50*time.Millisecond)
	require.ErrorIs(t, err, errors.ErrRequestTimeout)
}

func TestHTTPClient_CloseCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		// Draining the body lets the server notice the client going away.
		_, _ = io.Copy(io.Discard, r.Body)

		close(started)

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client, err := NewHTTPClient(httpConfig(srv.URL), Options{})
	require.NoError(t, err)

	errCh := make(chan error, 1)

	go func() {
		_, err := client.SendRequest(context.Background(), MethodPing, nil, 0)
		errCh <- err
	}()

	<-started
	require.NoError(t, client.Close())

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight request was not cancelled by Close")
	}

	require.ErrorIs(t, client.EnsureInitialized(context.Background()), errors.ErrClientClosed)
}

func TestNewHTTPClient_InvalidURL(t *testing.T) {
	_, err := NewHTTPClient(httpConfig("ftp://example.com"), Options{})

	cfgErr, ok := stderrors.AsType[*errors.ConfigurationError](err)
	require.True(t, ok)
	require.Equal(t, "url", cfgErr.Field)
}
