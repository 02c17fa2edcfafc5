// Package mcptest provides a scripted MCP server for tests, reachable over
// stdio through a re-executed test binary or over HTTP through an
// http.Handler.
//
// A test package that spawns the stub declares:
//
//	func TestHelperProcess(t *testing.T) {
//	    if os.Getenv(mcptest.HelperEnv) != "1" {
//	        return
//	    }
//
//	    os.Exit(mcptest.RunHelper())
//	}
//
// and builds its server config with StdioConfig.
package mcptest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/jsonrpc"
)

// Environment variables read by RunHelper.
const (
	HelperEnv   = "GO_WANT_HELPER_PROCESS"
	ToolsEnv    = "MCPTEST_TOOLS"
	PageEnv     = "MCPTEST_PAGE_SIZE"
	SpawnLogEnv = "MCPTEST_SPAWN_LOG"
	SilentEnv   = "MCPTEST_SILENT"
	DeafEnv     = "MCPTEST_DEAF"
)

// Tool names understood by tools/call.
const (
	ToolPing    = "ping"    // replies "pong"
	ToolEcho    = "echo"    // replies with the raw arguments
	ToolFail    = "fail"    // replies with isError set
	ToolSlow    = "slow"    // sleeps arguments.ms, then replies "done"
	ToolExit    = "exit"    // exits the process without replying
	ToolGarbage = "garbage" // writes a malformed line before replying
	ToolAsk     = "ask"     // pings the client before replying
)

// Options configures a Server.
type Options struct {
	// Tools offered by tools/list. Defaults to ToolPing.
	Tools []string

	// PageSize splits tools/list into pages when positive.
	PageSize int

	// Exit is called for ToolExit. Defaults to os.Exit.
	Exit func(code int)
}

// Server answers MCP requests from a fixed script.
type Server struct {
	opts Options

	initialized atomic.Bool
	notified    atomic.Bool
	calls       atomic.Int64

	writeMu sync.Mutex
	out     io.Writer

	mu      sync.Mutex
	waiting map[string]chan jsonrpc.Envelope
}

// NewServer creates a Server.
func NewServer(opts Options) *Server {
	if len(opts.Tools) == 0 {
		opts.Tools = []string{ToolPing}
	}

	if opts.Exit == nil {
		opts.Exit = os.Exit
	}

	return &Server{opts: opts, waiting: make(map[string]chan jsonrpc.Envelope)}
}

// Initialized reports whether initialize has been answered.
func (s *Server) Initialized() bool {
	return s.initialized.Load()
}

// Notified reports whether notifications/initialized has arrived.
func (s *Server) Notified() bool {
	return s.notified.Load()
}

// Calls returns the number of tools/call requests handled.
func (s *Server) Calls() int64 {
	return s.calls.Load()
}

// ServeStdio reads line-delimited envelopes from r and writes replies to w
// until r is exhausted. Requests are handled concurrently.
func (s *Server) ServeStdio(r io.Reader, w io.Writer) {
	s.out = w

	var wg sync.WaitGroup

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		env := jsonrpc.ParseEnvelope(scanner.Bytes())

		switch env.Kind {
		case jsonrpc.KindResponse, jsonrpc.KindErrorResponse:
			s.mu.Lock()
			ch, ok := s.waiting[jsonrpc.Key(env.ID)]
			delete(s.waiting, jsonrpc.Key(env.ID))
			s.mu.Unlock()

			if ok {
				ch <- env
			}

		case jsonrpc.KindRequest, jsonrpc.KindNotification:
			wg.Go(func() {
				if resp := s.Handle(env); resp != nil {
					s.write(resp)
				}
			})
		}
	}

	wg.Wait()
}

// Handle answers one envelope. Notifications return nil.
func (s *Server) Handle(env jsonrpc.Envelope) *jsonrpc.Response {
	if env.Kind == jsonrpc.KindNotification {
		if env.Method == "notifications/initialized" {
			s.notified.Store(true)
		}

		return nil
	}

	switch env.Method {
	case "initialize":
		s.initialized.Store(true)

		return result(env.ID, map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "mcptest", "version": "1.0.0"},
		})

	case "ping":
		return result(env.ID, nil)

	case "tools/list":
		return s.listTools(env)

	case "tools/call":
		s.calls.Add(1)

		return s.callTool(env)

	default:
		return jsonrpc.BuildError(env.ID, jsonrpc.CodeMethodNotFound, "method not found: "+env.Method)
	}
}

func (s *Server) listTools(env jsonrpc.Envelope) *jsonrpc.Response {
	var params struct {
		Cursor string `json:"cursor"`
	}

	if len(env.Params) > 0 {
		_ = json.Unmarshal(env.Params, &params)
	}

	start, _ := strconv.Atoi(params.Cursor)
	end := len(s.opts.Tools)

	if s.opts.PageSize > 0 && start+s.opts.PageSize < end {
		end = start + s.opts.PageSize
	}

	tools := make([]map[string]any, 0, end-start)
	for _, name := range s.opts.Tools[start:end] {
		tools = append(tools, map[string]any{
			"name":        name,
			"description": "Stub tool " + name,
			"inputSchema": map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}

	page := map[string]any{"tools": tools}
	if end < len(s.opts.Tools) {
		page["nextCursor"] = strconv.Itoa(end)
	}

	return result(env.ID, page)
}

func (s *Server) callTool(env jsonrpc.Envelope) *jsonrpc.Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}

	if err := json.Unmarshal(env.Params, &params); err != nil {
		return jsonrpc.BuildError(env.ID, jsonrpc.CodeInvalidParams, err.Error())
	}

	switch params.Name {
	case ToolPing:
		return text(env.ID, "pong", false)

	case ToolEcho:
		return text(env.ID, string(params.Arguments), false)

	case ToolFail:
		return text(env.ID, "boom", true)

	case ToolSlow:
		var args struct {
			MS int `json:"ms"`
		}

		_ = json.Unmarshal(params.Arguments, &args)
		time.Sleep(time.Duration(args.MS) * time.Millisecond)

		return text(env.ID, "done", false)

	case ToolExit:
		s.opts.Exit(1)

		return nil

	case ToolGarbage:
		s.writeRaw([]byte("this is not json\n"))

		return text(env.ID, "after garbage", false)

	case ToolAsk:
		if err := s.pingClient(); err != nil {
			return text(env.ID, err.Error(), true)
		}

		return text(env.ID, "client answered", false)

	default:
		return jsonrpc.BuildError(env.ID, jsonrpc.CodeInvalidParams, "unknown tool: "+params.Name)
	}
}

// pingClient sends a ping request to the client and waits for its answer.
func (s *Server) pingClient() error {
	req, err := jsonrpc.BuildRequest("ping", nil)
	if err != nil {
		return err
	}

	ch := make(chan jsonrpc.Envelope, 1)

	s.mu.Lock()
	s.waiting[jsonrpc.Key(req.ID)] = ch
	s.mu.Unlock()

	s.write(req)

	select {
	case env := <-ch:
		if env.Kind == jsonrpc.KindErrorResponse {
			return fmt.Errorf("client rejected ping: %s", env.Error.Message)
		}

		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("client did not answer ping")
	}
}

func (s *Server) write(msg jsonrpc.Message) {
	data, err := jsonrpc.Encode(msg)
	if err != nil {
		return
	}

	s.writeRaw(append(data, '\n'))
}

func (s *Server) writeRaw(data []byte) {
	if s.out == nil {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, _ = s.out.Write(data)
}

func result(id jsonrpc.ID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.BuildResult(id, v)
	if err != nil {
		return jsonrpc.BuildError(id, jsonrpc.CodeInternalError, err.Error())
	}

	return resp
}

func text(id jsonrpc.ID, s string, isError bool) *jsonrpc.Response {
	return result(id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": s}},
		"isError": isError,
	})
}

// HTTPOptions configures HTTPHandler.
type HTTPOptions struct {
	// FailCalls makes every tools/call answer with this HTTP status.
	FailCalls int

	// BearerToken, when set, is required on every request.
	BearerToken string
}

// HTTPHandler serves s at POST /messages, one envelope per request.
func HTTPHandler(s *Server, opts HTTPOptions) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /messages", func(w http.ResponseWriter, r *http.Request) {
		if opts.BearerToken != "" && r.Header.Get("Authorization") != "Bearer "+opts.BearerToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)

			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		env := jsonrpc.ParseEnvelope(body)
		if env.Kind == jsonrpc.KindMalformed {
			http.Error(w, "malformed envelope", http.StatusBadRequest)

			return
		}

		if env.Method == "tools/call" && opts.FailCalls != 0 {
			http.Error(w, "tool backend exploded", opts.FailCalls)

			return
		}

		resp := s.Handle(env)
		if resp == nil {
			w.WriteHeader(http.StatusAccepted)

			return
		}

		data, err := jsonrpc.Encode(resp)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})

	return mux
}

// RunHelper serves the stub over the process's stdin and stdout, configured
// from the environment, and returns the exit code.
func RunHelper() int {
	if path := os.Getenv(SpawnLogEnv); path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
		if err == nil {
			_, _ = fmt.Fprintln(f, os.Getpid())
			_ = f.Close()
		}
	}

	fmt.Fprintln(os.Stderr, "stub server starting")

	// A deaf server never reads stdin, so the client's pipe fills up.
	if os.Getenv(DeafEnv) == "1" {
		time.Sleep(time.Hour)

		return 0
	}

	if os.Getenv(SilentEnv) == "1" {
		_, _ = io.Copy(io.Discard, os.Stdin)

		return 0
	}

	opts := Options{}

	if tools := os.Getenv(ToolsEnv); tools != "" {
		opts.Tools = strings.Split(tools, ",")
	}

	if size, err := strconv.Atoi(os.Getenv(PageEnv)); err == nil {
		opts.PageSize = size
	}

	NewServer(opts).ServeStdio(os.Stdin, os.Stdout)

	fmt.Fprintln(os.Stderr, "stub server stopping")

	return 0
}

// StdioConfig returns a stdio server config that re-executes the running
// test binary as the stub server. env is merged into the process env.
func StdioConfig(id, name string, env map[string]string) config.ServerConfig {
	merged := map[string]string{HelperEnv: "1"}
	for k, v := range env {
		merged[k] = v
	}

	return config.ServerConfig{
		ID:        id,
		Name:      name,
		Transport: config.TransportStdio,
		Command:   os.Args[0],
		Args:      []string{"-test.run=^TestHelperProcess$", "--"},
		Env:       merged,
		Enabled:   true,
	}
}

// SpawnCount returns the number of processes recorded in a spawn log.
func SpawnCount(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}

	return len(strings.Fields(string(data)))
}

// WaitFor polls cond until it holds or ctx ends.
func WaitFor(ctx context.Context, cond func() bool) bool {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if cond() {
			return true
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
