// Package registry aggregates the tools of every configured MCP server into
// one namespaced catalog and routes calls back to the owning server.
//
// Discovery fans out to all enabled servers in a scope at once. Each server
// has its own failure boundary and timeout: a server that errors, hangs or
// panics is logged and left out of the catalog, and never affects the
// others. The merged catalog is cached per scope for a short TTL.
//
// Tool names take the form mcp__{server}__{tool}; see Build and Split.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/wagiedev/mcphub/internal/clientcache"
	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/mcp"
	"github.com/wagiedev/mcphub/internal/metrics"
	"github.com/wagiedev/mcphub/internal/secrets"
)

const (
	// DefaultCatalogTTL is how long a merged catalog is served from cache.
	DefaultCatalogTTL = 30 * time.Second

	// DefaultDiscoveryTimeout bounds discovery for one server. A server still
	// initializing when it expires keeps initializing in the background and
	// shows up in a later catalog.
	DefaultDiscoveryTimeout = 90 * time.Second
)

// Tool is one entry of the merged catalog.
type Tool struct {
	// Name is the namespaced name.
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`

	ServerID   string `json:"serverId"`
	ServerName string `json:"server"`
	ToolName   string `json:"tool"`
}

// Descriptor returns the tool as advertised to outside MCP clients.
func (t Tool) Descriptor() mcp.ToolDescriptor {
	return mcp.ToolDescriptor{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
}

// Options configures a Registry.
type Options struct {
	// Logger receives diagnostics. If nil, logging is disabled.
	Logger *slog.Logger

	// Store supplies server configuration. Required.
	Store config.Store

	// Cache supplies stdio clients. Required.
	Cache *clientcache.Cache

	// Secrets resolves bearer secrets of HTTP servers. Defaults to
	// secrets.NewResolver().
	Secrets secrets.Resolver

	// Client is the template for HTTP clients.
	Client mcp.Options

	// CatalogTTL defaults to DefaultCatalogTTL.
	CatalogTTL time.Duration

	// DiscoveryTimeout defaults to DefaultDiscoveryTimeout.
	DiscoveryTimeout time.Duration

	// Metrics records discovery failures and tool calls. Optional.
	Metrics *metrics.Metrics
}

type catalog struct {
	tools   []Tool
	expires time.Time
}

// Registry is the tool aggregator of a hub.
type Registry struct {
	log     *slog.Logger
	store   config.Store
	cache   *clientcache.Cache
	secrets secrets.Resolver
	client  mcp.Options
	ttl     time.Duration
	timeout time.Duration
	metrics *metrics.Metrics
	now     func() time.Time

	discovery singleflight.Group

	mu       sync.Mutex
	catalogs map[string]catalog
}

// New creates a registry.
func New(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Secrets == nil {
		opts.Secrets = secrets.NewResolver()
	}

	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = DefaultCatalogTTL
	}

	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	opts.Client.Logger = opts.Logger

	return &Registry{
		log:      opts.Logger.With("component", "registry"),
		store:    opts.Store,
		cache:    opts.Cache,
		secrets:  opts.Secrets,
		client:   opts.Client,
		ttl:      opts.CatalogTTL,
		timeout:  opts.DiscoveryTimeout,
		metrics:  opts.Metrics,
		now:      time.Now,
		catalogs: make(map[string]catalog),
	}
}

// ListAll returns the merged catalog of every enabled server in scope.
// Servers that fail discovery are left out. Only a failure to read the
// configuration is returned as an error.
func (r *Registry) ListAll(ctx context.Context, scope string) ([]Tool, error) {
	if tools, ok := r.cached(scope); ok {
		return tools, nil
	}

	// Concurrent callers for one scope share a discovery round, which must
	// not end just because the first caller gave up.
	ch := r.discovery.DoChan(scope, func() (any, error) {
		return r.discover(context.WithoutCancel(ctx), scope)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.([]Tool), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) cached(scope string) ([]Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.catalogs[scope]
	if !ok || r.now().After(c.expires) {
		return nil, false
	}

	return c.tools, true
}

// InvalidateCatalog drops the cached catalog for scope. An empty scope
// drops every catalog.
func (r *Registry) InvalidateCatalog(scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if scope == "" {
		clear(r.catalogs)
	} else {
		delete(r.catalogs, scope)
	}
}

func (r *Registry) discover(ctx context.Context, scope string) ([]Tool, error) {
	servers, err := r.enabled(ctx, scope)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([][]Tool, len(servers))

	var group errgroup.Group

	for i, cfg := range servers {
		group.Go(func() error {
			results[i] = r.discoverServer(ctx, cfg)

			return nil
		})
	}

	_ = group.Wait()

	tools := r.merge(servers, results)

	r.mu.Lock()
	r.catalogs[scope] = catalog{tools: tools, expires: r.now().Add(r.ttl)}
	r.mu.Unlock()

	r.log.Debug("Discovery complete", "scope", scope, "servers", len(servers), "tools", len(tools), "duration", time.Since(start))

	return tools, nil
}

// discoverServer lists the tools of one server. Every failure, including a
// panic, ends here.
func (r *Registry) discoverServer(ctx context.Context, cfg config.ServerConfig) (tools []Tool) {
	log := r.log.With("server_id", cfg.ID, "server", cfg.Name)

	defer func() {
		if p := recover(); p != nil {
			log.Error("Tool discovery panicked", "panic", p)
			r.metrics.DiscoveryFailed(cfg.ID)

			tools = nil
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var descriptors []mcp.ToolDescriptor

	err := r.withClient(ctx, cfg, func(client mcp.Client) error {
		var err error

		descriptors, err = client.ListTools(ctx)

		return err
	})
	if err != nil {
		log.Warn("Tool discovery failed, excluding server", "error", err)
		r.metrics.DiscoveryFailed(cfg.ID)

		return nil
	}

	tools = make([]Tool, 0, len(descriptors))

	for _, d := range descriptors {
		if d.Name == "" {
			continue
		}

		tools = append(tools, Tool{
			Name:        Build(cfg.Name, d.Name),
			Description: d.Description,
			InputSchema: d.Schema(),
			ServerID:    cfg.ID,
			ServerName:  cfg.Name,
			ToolName:    d.Name,
		})
	}

	log.Debug("Discovered tools", "count", len(tools))

	return tools
}

// merge concatenates per-server results in configuration order. When two
// servers produce the same namespaced name the first one wins.
func (r *Registry) merge(servers []config.ServerConfig, results [][]Tool) []Tool {
	seen := make(map[string]string)
	merged := make([]Tool, 0)

	for i, tools := range results {
		for _, tool := range tools {
			if owner, dup := seen[tool.Name]; dup {
				r.log.Warn("Namespaced tool name collision, keeping first",
					"tool", tool.Name, "kept_server_id", owner, "dropped_server_id", servers[i].ID)

				continue
			}

			seen[tool.Name] = servers[i].ID
			merged = append(merged, tool)
		}
	}

	return merged
}

// Dispatch calls a namespaced tool on the server that currently owns it.
// Every failure comes back as an error result; it never returns a Go error.
func (r *Registry) Dispatch(ctx context.Context, name string, args json.RawMessage, scope string) mcp.ToolResult {
	segment, tool, ok := Split(name)
	if !ok {
		return mcp.Failure("Tool %s is not an MCP registry tool", name)
	}

	servers, err := r.enabled(ctx, scope)
	if err != nil {
		return mcp.Failure("Tool %s failed: %v", name, err)
	}

	var (
		cfg   config.ServerConfig
		found bool
	)

	for _, s := range servers {
		if Normalize(s.Name) == segment {
			cfg, found = s, true

			break
		}
	}

	if !found {
		// No server owns the call, so the server label stays empty; it
		// otherwise always carries a configured server id.
		r.metrics.ToolCalled("", metrics.OutcomeNotFound)
		r.log.Warn("No enabled server for tool", "tool", name, "scope", scope)

		return mcp.Failure("MCP server %q for tool %s was not found or is not enabled", segment, name)
	}

	log := r.log.With("server_id", cfg.ID, "server", cfg.Name, "tool", tool)
	log.Debug("Dispatching tool call")

	var result mcp.ToolResult

	err = r.withClient(ctx, cfg, func(client mcp.Client) error {
		result = client.CallTool(ctx, tool, args)

		return nil
	})
	if err != nil {
		result = mcp.Failure("Tool %s failed: %v", name, err)
	}

	if result.IsError {
		log.Debug("Tool call returned an error", "text", result.Text)
		r.metrics.ToolCalled(cfg.ID, metrics.OutcomeError)
	} else {
		r.metrics.ToolCalled(cfg.ID, metrics.OutcomeSuccess)
	}

	return result
}

// Servers returns every configured server in scope, enabled or not.
func (r *Registry) Servers(ctx context.Context, scope string) ([]config.ServerConfig, error) {
	servers, err := r.store.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}

	return servers, nil
}

func (r *Registry) enabled(ctx context.Context, scope string) ([]config.ServerConfig, error) {
	servers, err := r.Servers(ctx, scope)
	if err != nil {
		return nil, err
	}

	out := servers[:0:0]

	for _, s := range servers {
		if s.Enabled {
			out = append(out, s)
		}
	}

	return out, nil
}

// withClient runs fn with a client for cfg. Stdio clients are borrowed from
// the cache; HTTP clients are built for this use and closed afterwards.
func (r *Registry) withClient(ctx context.Context, cfg config.ServerConfig, fn func(mcp.Client) error) error {
	switch cfg.Transport {
	case config.TransportStdio:
		client, err := r.cache.GetOrCreate(ctx, cfg)
		if err != nil {
			return err
		}

		return fn(client)

	case config.TransportHTTP:
		client, err := r.httpClient(ctx, cfg)
		if err != nil {
			return err
		}

		defer func() { _ = client.Close() }()

		return fn(client)

	default:
		return cfg.Validate()
	}
}

func (r *Registry) httpClient(ctx context.Context, cfg config.ServerConfig) (mcp.OwnedClient, error) {
	opts := r.client

	if cfg.BearerSecret != "" {
		token, err := r.secrets.Resolve(ctx, cfg.BearerSecret)
		if err != nil {
			return nil, fmt.Errorf("resolve bearer secret: %w", err)
		}

		opts.BearerToken = token
	}

	client, err := mcp.NewHTTPClient(cfg, opts)
	if err != nil {
		return nil, err
	}

	return client, nil
}
