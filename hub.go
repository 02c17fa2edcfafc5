package mcphub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/mcphub/internal/clientcache"
	"github.com/wagiedev/mcphub/internal/localtools"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/mcp"
	"github.com/wagiedev/mcphub/internal/metrics"
	"github.com/wagiedev/mcphub/internal/registry"
	"github.com/wagiedev/mcphub/internal/server"
)

// Hub aggregates the tools of every configured MCP server and serves them,
// together with its local tools, to outside MCP clients.
//
// A Hub owns every server process it starts. Close terminates them.
//
// Example usage:
//
//	store, err := mcphub.LoadConfig("servers.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hub, err := mcphub.New(mcphub.WithConfigStore(store))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hub.Close()
//
//	result := hub.CallTool(ctx, "mcp__echo_mcp__ping", nil, "")
//	fmt.Println(result.Text)
type Hub struct {
	log      *slog.Logger
	cache    *clientcache.Cache
	registry *registry.Registry
	local    localtools.Executor
	server   *server.Server
	closed   atomic.Bool
}

// Compile-time verification that Hub backs the server endpoint.
var _ server.Backend = (*Hub)(nil)

// New creates a hub. A configuration store is required.
func New(opts ...Option) (*Hub, error) {
	options := applyOptions(opts)

	if options.Store == nil {
		return nil, ErrNoConfigStore
	}

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	var m *metrics.Metrics
	if options.Registerer != nil {
		m = metrics.New(options.Registerer)
	}

	client := mcp.Options{
		ClientInfo:    options.ServerInfo,
		CallTimeout:   options.CallTimeout,
		InitTimeout:   options.InitTimeout,
		ShutdownGrace: options.ShutdownGrace,
	}

	logs := logbuf.NewStore(options.LogBufferSize)

	cache := clientcache.New(clientcache.Options{
		Logger:  log,
		Client:  client,
		Logs:    logs,
		Metrics: m,
	})

	reg := registry.New(registry.Options{
		Logger:     log,
		Store:      options.Store,
		Cache:      cache,
		Secrets:    options.Secrets,
		Client:     client,
		CatalogTTL: options.CatalogTTL,
		Metrics:    m,
	})

	h := &Hub{
		log:      log.With("component", "hub"),
		cache:    cache,
		registry: reg,
	}

	builtins := localtools.Builtins(reg, cache)
	if options.Local != nil {
		h.local = localtools.Chain(builtins, options.Local)
	} else {
		h.local = builtins
	}

	h.server = server.New(server.Options{
		Logger:    log,
		Backend:   h,
		Logs:      cache,
		Info:      options.ServerInfo,
		BasePath:  options.BasePath,
		PublicURL: options.PublicURL,
		Metrics:   m,
	})

	return h, nil
}

// ListTools returns the merged catalog of scope: the namespaced tools of
// every reachable server followed by the local tools.
func (h *Hub) ListTools(ctx context.Context, scope string) ([]ToolDescriptor, error) {
	if h.closed.Load() {
		return nil, ErrClientClosed
	}

	tools, err := h.registry.ListAll(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	local := h.local.Tools()
	out := make([]ToolDescriptor, 0, len(tools)+len(local))

	for _, t := range tools {
		out = append(out, t.Descriptor())
	}

	return append(out, local...), nil
}

// Catalog returns the namespaced registry tools of scope with their owning
// server.
func (h *Hub) Catalog(ctx context.Context, scope string) ([]Tool, error) {
	if h.closed.Load() {
		return nil, ErrClientClosed
	}

	return h.registry.ListAll(ctx, scope)
}

// CallTool runs a tool. Namespaced names go to the owning MCP server and
// everything else to the local executor. Failures are returned as an error
// result, never as a Go error.
func (h *Hub) CallTool(ctx context.Context, name string, args json.RawMessage, scope string) ToolResult {
	if h.closed.Load() {
		return mcp.Failure("Tool %s failed: %v", name, ErrClientClosed)
	}

	if IsMcpTool(name) {
		return h.registry.Dispatch(ctx, name, args, scope)
	}

	return h.local.Execute(ctx, name, args)
}

// InvalidateServer drops the running process of a server and every cached
// catalog. Call it after the server's configuration changed or was removed.
func (h *Hub) InvalidateServer(id string) {
	h.log.Info("Invalidating server", "server_id", id)

	h.cache.Invalidate(id)
	h.registry.InvalidateCatalog("")
}

// Servers returns the configured servers of scope, enabled or not.
func (h *Hub) Servers(ctx context.Context, scope string) ([]ServerConfig, error) {
	return h.registry.Servers(ctx, scope)
}

// Logs returns up to n of the most recent log entries of a server, oldest
// first.
func (h *Hub) Logs(id string, n int) []LogEntry {
	return h.cache.Logs(id, n)
}

// Handler returns the HTTP handler of the self-hosted MCP endpoint.
func (h *Hub) Handler() http.Handler {
	return h.server.Handler()
}

// Close ends every SSE session and terminates every server process. It is
// safe to call more than once.
func (h *Hub) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}

	h.log.Info("Closing hub")

	h.server.Close()
	h.cache.DisposeAll()

	return nil
}

// NewMetricsRegistry returns a registry suitable for WithMetricsRegisterer
// that also carries the Go runtime and process collectors.
func NewMetricsRegistry() *prometheus.Registry {
	return metrics.NewRegistry()
}
