// Package server exposes the hub's tools to outside MCP clients over HTTP.
//
// Two transport shapes share one dispatch table:
//
//   - Stateless: POST {base}/messages carries one envelope and the response
//     carries the matching envelope.
//   - Session: GET {base}/sse opens an event stream. The first event names
//     the POST URL for the session; a POST to it is answered with 202 and
//     the response arrives later as a message event on the stream.
//
// GET {base}/servers/{id}/logs returns recent log entries of one server.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/mcphub/internal/jsonrpc"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/mcp"
	"github.com/wagiedev/mcphub/internal/metrics"
)

const (
	// DefaultQueueSize is the outbound queue depth of one SSE session.
	DefaultQueueSize = 64

	// DefaultKeepAlive is the interval between SSE keep-alive comments.
	DefaultKeepAlive = 15 * time.Second

	// DefaultLogLimit is used when a log request names no limit.
	DefaultLogLimit = 50

	maxBodySize = 10 << 20
)

// Backend is the decision point behind the endpoint: it owns the merged
// catalog and routes each call to the registry or the local executor.
type Backend interface {
	ListTools(ctx context.Context, scope string) ([]mcp.ToolDescriptor, error)
	CallTool(ctx context.Context, name string, args json.RawMessage, scope string) mcp.ToolResult
}

// LogSource supplies per-server log entries.
type LogSource interface {
	Logs(id string, n int) []logbuf.Entry
}

// Options configures a Server.
type Options struct {
	// Logger receives diagnostics. If nil, logging is disabled.
	Logger *slog.Logger

	// Backend answers tools/list and tools/call. Required.
	Backend Backend

	// Logs backs the log retrieval endpoint. Optional.
	Logs LogSource

	// Info identifies this server in initialize responses.
	Info mcp.Implementation

	// BasePath prefixes every route, for example "/mcp". Empty mounts at
	// the root.
	BasePath string

	// PublicURL, when set, is prepended to the POST URL advertised to SSE
	// clients. Otherwise the advertised URL is a path.
	PublicURL string

	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	// KeepAlive defaults to DefaultKeepAlive.
	KeepAlive time.Duration

	// Metrics records SSE sessions. Optional.
	Metrics *metrics.Metrics
}

// Server is the self-hosted MCP endpoint.
type Server struct {
	log     *slog.Logger
	backend Backend
	logs    LogSource
	info    mcp.Implementation
	base    string
	public  string
	queue   int
	keep    time.Duration
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Info.Name == "" {
		opts.Info = mcp.Implementation{Name: "mcphub", Version: "dev"}
	}

	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}

	if opts.KeepAlive <= 0 {
		opts.KeepAlive = DefaultKeepAlive
	}

	return &Server{
		log:      opts.Logger.With("component", "mcp_server"),
		backend:  opts.Backend,
		logs:     opts.Logs,
		info:     opts.Info,
		base:     strings.TrimRight(opts.BasePath, "/"),
		public:   strings.TrimRight(opts.PublicURL, "/"),
		queue:    opts.QueueSize,
		keep:     opts.KeepAlive,
		metrics:  opts.Metrics,
		sessions: make(map[string]*session),
	}
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST "+s.base+"/messages", s.handleMessages)
	mux.HandleFunc("GET "+s.base+"/sse", s.handleSSE)
	mux.HandleFunc("GET "+s.base+"/servers/{id}/logs", s.handleLogs)

	return mux
}

// Close ends every open SSE stream and rejects new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true

	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// Sessions returns the number of open SSE sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")

	var sess *session

	if id := r.URL.Query().Get("session"); id != "" {
		var ok bool

		if sess, ok = s.session(id); !ok {
			http.Error(w, "unknown session", http.StatusNotFound)

			return
		}

		scope = sess.scope
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)

		return
	}

	body = bytes.TrimSpace(body)

	if len(body) > 0 && body[0] == '[' {
		s.reply(w, sess, rejectBatch(body))

		return
	}

	env := jsonrpc.ParseEnvelope(body)

	switch env.Kind {
	case jsonrpc.KindMalformed:
		code := int64(jsonrpc.CodeInvalidRequest)
		if !json.Valid(body) {
			code = jsonrpc.CodeParseError
		}

		s.log.Debug("Rejecting malformed message", "error", env.Err)
		s.reply(w, sess, jsonrpc.EncodeNullIDError(code, "invalid message: "+env.Err.Error()))

	case jsonrpc.KindNotification, jsonrpc.KindResponse, jsonrpc.KindErrorResponse:
		s.log.Debug("Acknowledging message without reply", "kind", env.Kind, "method", env.Method)
		w.WriteHeader(http.StatusAccepted)

	case jsonrpc.KindRequest:
		if sess == nil {
			s.writeJSON(w, http.StatusOK, encode(s.dispatch(r.Context(), env, scope)))

			return
		}

		w.WriteHeader(http.StatusAccepted)

		go func() {
			sess.enqueue(encode(s.dispatch(sess.ctx, env, scope)))
		}()
	}
}

// reply writes payload directly, or queues it on sess and acknowledges.
func (s *Server) reply(w http.ResponseWriter, sess *session, payload []byte) {
	if sess == nil {
		s.writeJSON(w, http.StatusOK, payload)

		return
	}

	w.WriteHeader(http.StatusAccepted)

	go sess.enqueue(payload)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(payload); err != nil {
		s.log.Debug("Failed to write response", "error", err)
	}
}

// dispatch answers one request. It never panics and always returns a
// response.
func (s *Server) dispatch(ctx context.Context, env jsonrpc.Envelope, scope string) (resp *jsonrpc.Response) {
	log := s.log.With("method", env.Method, "request_id", jsonrpc.Key(env.ID))

	defer func() {
		if p := recover(); p != nil {
			log.Error("Request handler panicked", "panic", p)

			resp = jsonrpc.BuildError(env.ID, jsonrpc.CodeInternalError, fmt.Sprintf("internal error: %v", p))
		}
	}()

	log.Debug("Handling request")

	switch env.Method {
	case mcp.MethodInitialize:
		return result(env.ID, mcp.InitializeResult(s.info))

	case mcp.MethodPing:
		return result(env.ID, nil)

	case mcp.MethodToolsList:
		tools, err := s.backend.ListTools(ctx, scope)
		if err != nil {
			log.Error("Failed to list tools", "error", err)

			return jsonrpc.BuildError(env.ID, jsonrpc.CodeInternalError, err.Error())
		}

		if tools == nil {
			tools = []mcp.ToolDescriptor{}
		}

		return result(env.ID, mcp.ListToolsResult{Tools: tools})

	case mcp.MethodToolsCall:
		var params mcp.CallToolParams

		if err := json.Unmarshal(env.Params, &params); err != nil || params.Name == "" {
			return jsonrpc.BuildError(env.ID, jsonrpc.CodeInvalidParams, "tools/call requires a tool name")
		}

		out := s.backend.CallTool(ctx, params.Name, params.Arguments, scope)

		return result(env.ID, out.CallToolResult())

	default:
		return jsonrpc.BuildError(env.ID, jsonrpc.CodeMethodNotFound, "method not found: "+env.Method)
	}
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		http.Error(w, "log retrieval is not available", http.StatusNotFound)

		return
	}

	limit := DefaultLogLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = n
	}

	data, err := json.Marshal(s.logs.Logs(r.PathValue("id"), limit))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, http.StatusOK, data)
}

// rejectBatch answers every element of a batch with an invalid request
// error.
func rejectBatch(body []byte) []byte {
	var batch []json.RawMessage
	if err := json.Unmarshal(body, &batch); err != nil {
		return jsonrpc.EncodeNullIDError(jsonrpc.CodeParseError, "invalid batch: "+err.Error())
	}

	out := make([]json.RawMessage, 0, len(batch))

	for _, raw := range batch {
		var probe struct {
			ID any `json:"id"`
		}

		_ = json.Unmarshal(raw, &probe)

		const msg = "batch requests are not supported"

		id, err := jsonrpc.MakeID(probe.ID)
		if err != nil || !id.IsValid() {
			out = append(out, jsonrpc.EncodeNullIDError(jsonrpc.CodeInvalidRequest, msg))

			continue
		}

		out = append(out, encode(jsonrpc.BuildError(id, jsonrpc.CodeInvalidRequest, msg)))
	}

	data, _ := json.Marshal(out)

	return data
}

func result(id jsonrpc.ID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.BuildResult(id, v)
	if err != nil {
		return jsonrpc.BuildError(id, jsonrpc.CodeInternalError, err.Error())
	}

	return resp
}

func encode(resp *jsonrpc.Response) []byte {
	data, err := jsonrpc.Encode(resp)
	if err != nil {
		// Only a result that failed to marshal ends up here.
		data, _ = jsonrpc.Encode(jsonrpc.BuildError(resp.ID, jsonrpc.CodeInternalError, err.Error()))
	}

	return data
}
