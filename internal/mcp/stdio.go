package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/jsonrpc"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/protocol"
	"github.com/wagiedev/mcphub/internal/subprocess"
)

const (
	// maxLineSize is the largest stdout line accepted from a server. Longer
	// lines are discarded whole.
	maxLineSize = 16 * 1024 * 1024

	// replyTimeout bounds answers to server-initiated requests.
	replyTimeout = 10 * time.Second
)

// StdioClient is an MCP client for a server running as a local subprocess.
//
// The client owns exactly two long-running goroutines, the stdout pump and
// the stderr pump; nothing else reads those streams. Close shuts the process
// down and joins both.
type StdioClient struct {
	cfg  config.ServerConfig
	opts Options
	log  *slog.Logger

	proc    *subprocess.Process
	pending *protocol.Pending
	pumps   errgroup.Group

	init initializer

	life context.Context
	stop context.CancelFunc

	stdoutClosed atomic.Bool
	closed       atomic.Bool
	closeOnce    sync.Once
	closeErr     error
}

// NewStdioClient validates cfg, spawns the server process and starts both
// pumps. It returns without waiting for the initialize handshake.
func NewStdioClient(ctx context.Context, cfg config.ServerConfig, opts Options) (*StdioClient, error) {
	if cfg.Transport != config.TransportStdio {
		return nil, &errors.ConfigurationError{ServerID: cfg.ID, Field: "transport", Reason: "is not stdio"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts = opts.withDefaults()
	log := opts.Logger.With("component", "stdio_client", "server_id", cfg.ID, "server", cfg.Name)

	proc, err := subprocess.Start(ctx, log, subprocess.Config{
		Command: cfg.Command,
		Args:    cfg.Args,
		Dir:     cfg.Cwd,
		Env:     cfg.Env,
	})
	if err != nil {
		if transportErr, ok := stderrors.AsType[*errors.TransportError](err); ok {
			transportErr.ServerID = cfg.ID
		}

		return nil, err
	}

	life, stop := context.WithCancel(context.Background())

	c := &StdioClient{
		cfg:     cfg,
		opts:    opts,
		log:     log,
		proc:    proc,
		pending: protocol.NewPending(),
		life:    life,
		stop:    stop,
	}

	c.pumps.Go(c.pumpStdout)
	c.pumps.Go(c.pumpStderr)

	return c, nil
}

// ServerID implements Client.
func (c *StdioClient) ServerID() string {
	return c.cfg.ID
}

// Config returns the configuration snapshot the client was built from.
func (c *StdioClient) Config() config.ServerConfig {
	return c.cfg
}

// Pid returns the server process id.
func (c *StdioClient) Pid() int {
	return c.proc.Pid()
}

// HasExited reports whether the server process has terminated or its stdout
// has closed. It never blocks.
func (c *StdioClient) HasExited() bool {
	return c.closed.Load() || c.stdoutClosed.Load() || c.proc.HasExited()
}

// Initialized reports whether the handshake has completed.
func (c *StdioClient) Initialized() bool {
	return c.init.initialized()
}

// PendingRequests returns the number of calls awaiting a response.
func (c *StdioClient) PendingRequests() int {
	return c.pending.Len()
}

// EnsureInitialized implements Client. The handshake is bounded by the
// initialize timeout rather than the ordinary call timeout.
func (c *StdioClient) EnsureInitialized(ctx context.Context) error {
	if c.closed.Load() {
		return errors.ErrClientClosed
	}

	return c.init.ensure(ctx, c.life, func(ctx context.Context) error {
		return handshake(ctx, c.log, c.SendRequest, c.notify, c.opts.ClientInfo, c.opts.InitTimeout)
	})
}

// ListTools implements Client.
func (c *StdioClient) ListTools(ctx context.Context) ([]ToolDescriptor, error) {
	if err := c.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	return listAllTools(ctx, c.SendRequest, c.opts.CallTimeout)
}

// CallTool implements Client.
func (c *StdioClient) CallTool(ctx context.Context, name string, args json.RawMessage) ToolResult {
	if err := c.EnsureInitialized(ctx); err != nil {
		return Failure("Tool %s failed: %v", name, err)
	}

	return callTool(ctx, c.SendRequest, c.opts.CallTimeout, name, args)
}

// SendRequest sends one request and waits for its response, the timeout or
// ctx. Only this request's pending entry is removed on timeout; the process
// and other calls are unaffected.
func (c *StdioClient) SendRequest(
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

	c.log.Debug("Sending request", "method", method, "request_id", jsonrpc.Key(req.ID))

	result, err := protocol.Call(ctx, c.pending, c.proc.Write, req, timeout)
	if err != nil {
		c.log.Debug("Request failed", "method", method, "request_id", jsonrpc.Key(req.ID), "error", err)

		return nil, err
	}

	return result, nil
}

func (c *StdioClient) notify(ctx context.Context, method string) error {
	note, err := jsonrpc.BuildNotification(method, nil)
	if err != nil {
		return err
	}

	return protocol.Notify(ctx, c.proc.Write, note)
}

// Close shuts the process down (stdin close, grace period, forced kill),
// fails every pending call and joins both pumps. It is safe to call more
// than once.
func (c *StdioClient) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.stop()

		c.log.Debug("Closing stdio client")

		c.closeErr = c.proc.Shutdown(c.opts.ShutdownGrace)
		c.pending.FailAll(fmt.Errorf("%w: client closed", errors.ErrTransportDisconnected))

		_ = c.pumps.Wait()

		c.log.Info("Stdio client closed", "exit_code", c.proc.ExitCode())
	})

	return c.closeErr
}

// pumpStdout routes every stdout line until EOF, then fails all pending
// calls on this transport.
func (c *StdioClient) pumpStdout() error {
	defer c.log.Debug("Stdout pump stopped")

	err := readLines(c.proc.Stdout(), maxLineSize, c.handleLine, func(size int) {
		c.log.Warn("Discarding oversized line from server", "bytes", size)
	})
	if err != nil && !c.closed.Load() {
		c.log.Debug("Stdout read error", "error", err)
	}

	c.stdoutClosed.Store(true)

	failed := c.pending.FailAll(&errors.TransportError{
		ServerID: c.cfg.ID,
		Err:      fmt.Errorf("%w: server closed stdout", errors.ErrTransportDisconnected),
	})

	if !c.closed.Load() {
		c.log.Warn("Server closed stdout", "failed_requests", failed)

		if c.opts.Logs != nil {
			c.opts.Logs.Add(logbuf.LevelWarn, "server closed stdout")
		}
	}

	return nil
}

// pumpStderr forwards stderr lines verbatim to the log ring, independent
// of protocol state.
func (c *StdioClient) pumpStderr() error {
	defer c.log.Debug("Stderr pump stopped")

	scanner := bufio.NewScanner(c.proc.Stderr())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()

		if c.opts.Logs != nil {
			c.opts.Logs.Add(logbuf.LevelStderr, line)
		}

		c.log.Debug("Server stderr", "line", line)
	}

	if err := scanner.Err(); err != nil && !c.closed.Load() {
		c.log.Debug("Stderr scanner error", "error", err)
	}

	return nil
}

// handleLine classifies one stdout line. Malformed input is logged and
// dropped; it never stops the pump.
func (c *StdioClient) handleLine(line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	env := jsonrpc.ParseEnvelope(line)

	switch env.Kind {
	case jsonrpc.KindResponse, jsonrpc.KindErrorResponse:
		if !c.pending.Resolve(env) {
			c.log.Debug("No pending request for response", "request_id", jsonrpc.Key(env.ID))
		}

	case jsonrpc.KindNotification:
		c.log.Debug("Dropping server notification", "method", env.Method)

	case jsonrpc.KindRequest:
		go c.answer(env)

	default:
		perr := &errors.ProtocolError{RawData: truncate(string(line), 200), Err: env.Err}
		c.log.Warn("Dropping malformed message from server", "error", perr)
	}
}

// answer replies to a server-initiated request. Only ping is supported.
func (c *StdioClient) answer(env jsonrpc.Envelope) {
	var resp *jsonrpc.Response

	if env.Method == MethodPing {
		var err error

		resp, err = jsonrpc.BuildResult(env.ID, nil)
		if err != nil {
			return
		}
	} else {
		c.log.Debug("Rejecting server request", "method", env.Method)
		resp = jsonrpc.BuildError(env.ID, jsonrpc.CodeMethodNotFound, "method not found: "+env.Method)
	}

	data, err := jsonrpc.Encode(resp)
	if err != nil {
		c.log.Error("Failed to encode reply", "error", err)

		return
	}

	ctx, cancel := context.WithTimeout(c.life, replyTimeout)
	defer cancel()

	if err := c.proc.Write(ctx, append(data, '\n')); err != nil {
		c.log.Debug("Failed to send reply", "method", env.Method, "error", err)
	}
}

// readLines calls fn for every non-empty line in r, including a final
// unterminated one. Lines longer than limit are reported to
// oversized and skipped without stopping the loop.
func readLines(r io.Reader, limit int, fn func([]byte), oversized func(size int)) error {
	reader := bufio.NewReaderSize(r, 64*1024)

	var (
		buf     []byte
		dropped int
	)

	for {
		chunk, err := reader.ReadSlice('\n')

		switch {
		case dropped > 0:
			dropped += len(chunk)
		case len(buf)+len(chunk) > limit:
			dropped = len(buf) + len(chunk)
			buf = nil
		default:
			buf = append(buf, chunk...)
		}

		if stderrors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if dropped > 0 {
			oversized(dropped)

			dropped = 0
		} else if line := bytes.TrimRight(buf, "\r\n"); len(line) > 0 {
			fn(line)
		}

		buf = nil

		if err != nil {
			if stderrors.Is(err, io.EOF) {
				return nil
			}

			return err
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
