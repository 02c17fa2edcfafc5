package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/jsonrpc"
)

const (
	// MessagesPath is appended to the configured base URL.
	MessagesPath = "/messages"

	maxResponseSize  = 10 << 20
	maxErrorBodySize = 512
)

// HTTPClient is an MCP client for a remote server. Every envelope is one
// POST to {base}/messages; the only state kept between requests is whether
// the handshake has completed.
type HTTPClient struct {
	cfg      config.ServerConfig
	opts     Options
	log      *slog.Logger
	endpoint string

	init initializer

	life   context.Context
	stop   context.CancelFunc
	closed atomic.Bool
}

// NewHTTPClient validates cfg and builds a client. No request is sent.
func NewHTTPClient(cfg config.ServerConfig, opts Options) (*HTTPClient, error) {
	if cfg.Transport != config.TransportHTTP {
		return nil, &errors.ConfigurationError{ServerID: cfg.ID, Field: "transport", Reason: "is not http"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	life, stop := context.WithCancel(context.Background())

	return &HTTPClient{
		cfg:      cfg,
		opts:     opts,
		log:      opts.Logger.With("component", "http_client", "server_id", cfg.ID, "server", cfg.Name),
		endpoint: strings.TrimRight(cfg.URL, "/") + MessagesPath,
		life:     life,
		stop:     stop,
	}, nil
}

// ServerID implements Client.
func (c *HTTPClient) ServerID() string {
	return c.cfg.ID
}

// Endpoint returns the URL requests are posted to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Initialized reports whether the handshake has completed.
func (c *HTTPClient) Initialized() bool {
	return c.init.initialized()
}

// EnsureInitialized implements Client.
func (c *HTTPClient) EnsureInitialized(ctx context.Context) error {
	if c.closed.Load() {
		return errors.ErrClientClosed
	}

	return c.init.ensure(ctx, c.life, func(ctx context.Context) error {
		return handshake(ctx, c.log, c.SendRequest, c.notify, c.opts.ClientInfo, c.opts.InitTimeout)
	})
}

// ListTools implements Client.
func (c *HTTPClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := c.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	return listAllTools(ctx, c.SendRequest, c.opts.CallTimeout)
}

// CallTool implements Client. A non-2xx status and a JSON-RPC error both
// come back as an error result naming the tool.
func (c *HTTPClient) CallTool(ctx context.Context, name string, args json.RawMessage) ToolResult {
	if err := c.EnsureInitialized(ctx); err != nil {
		return Failure("Tool %s failed: %v", name, err)
	}

	return callTool(ctx, c.SendRequest, c.opts.CallTimeout, name, args)
}

// Close implements OwnedClient. Requests in flight are cancelled.
func (c *HTTPClient) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.stop()
	}

	return nil
}

// SendRequest posts one request and decodes the matching response.
func (c *HTTPClient) SendRequest(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errors.ErrClientClosed
	}

	req, err := jsonrpc.BuildRequest(method, params)
	if err != nil {
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, status, err := c.post(ctx, req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%s: %w after %s", method, errors.ErrRequestTimeout, timeout)
		}

		return nil, err
	}

	if status < 200 || status > 299 {
		return nil, &errors.HTTPStatusError{StatusCode: status, Body: truncate(strings.TrimSpace(string(body)), maxErrorBodySize)}
	}

	env := jsonrpc.ParseEnvelope(body)

	switch env.Kind {
	case jsonrpc.KindResponse:
	case jsonrpc.KindErrorResponse:
		return nil, &errors.RPCError{Code: env.Error.Code, Message: env.Error.Message}
	case jsonrpc.KindMalformed:
		return nil, &errors.ProtocolError{RawData: truncate(string(body), 200), Err: env.Err}
	default:
		return nil, &errors.ProtocolError{
			RawData: truncate(string(body), 200),
			Err:     fmt.Errorf("expected a response, got %s", env.Kind),
		}
	}

	if jsonrpc.Key(env.ID) != jsonrpc.Key(req.ID) {
		return nil, &errors.ProtocolError{
			RawData: truncate(string(body), 200),
			Err:     fmt.Errorf("response id %s does not match request id %s", jsonrpc.Key(env.ID), jsonrpc.Key(req.ID)),
		}
	}

	return env.Result, nil
}

func (c *HTTPClient) notify(ctx context.Context, method string) error {
	note, err := jsonrpc.BuildNotification(method, nil)
	if err != nil {
		return err
	}

	body, status, err := c.post(ctx, note)
	if err != nil {
		return err
	}

	if status < 200 || status > 299 {
		return &errors.HTTPStatusError{StatusCode: status, Body: truncate(strings.TrimSpace(string(body)), maxErrorBodySize)}
	}

	return nil
}

// post sends one envelope and returns the response body and status.
func (c *HTTPClient) post(ctx context.Context, msg jsonrpc.Message) ([]byte, int, error) {
	payload, err := jsonrpc.Encode(msg)
	if err != nil {
		return nil, 0, fmt.Errorf("encode message: %w", err)
	}

	// Cancel with the client as well as the caller.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(c.life, cancel)
	defer stop()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if c.opts.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.opts.BearerToken)
	}

	httpResp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, 0, &errors.TransportError{ServerID: c.cfg.ID, Err: fmt.Errorf("POST %s: %w", c.endpoint, err)}
	}

	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(httpResp.Body, 1<<20))
		_ = httpResp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, 0, &errors.TransportError{ServerID: c.cfg.ID, Err: fmt.Errorf("read response body: %w", err)}
	}

	c.log.Debug("HTTP exchange", "status", httpResp.StatusCode, "bytes", len(body))

	return body, httpResp.StatusCode, nil
}
