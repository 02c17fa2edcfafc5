package mcphub

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/localtools"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/secrets"
)

// Options holds the settings applied by Option functions.
type Options struct {
	Logger     *slog.Logger
	Store      config.Store
	Local      localtools.Executor
	Secrets    secrets.Resolver
	Registerer prometheus.Registerer
	ServerInfo Implementation

	CatalogTTL    time.Duration
	CallTimeout   time.Duration
	InitTimeout   time.Duration
	ShutdownGrace time.Duration
	LogBufferSize int

	BasePath  string
	PublicURL string
}

// Option configures a Hub using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{
		ServerInfo:    Implementation{Name: "mcphub", Version: Version},
		ShutdownGrace: DefaultShutdownGrace,
		LogBufferSize: logbuf.DefaultCapacity,
	}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithConfigStore sets where server configuration is read from. Required.
func WithConfigStore(store ConfigStore) Option {
	return func(o *Options) {
		o.Store = store
	}
}

// WithLocalExecutor adds local tools. They are offered after the hub's
// built-in tools; a local tool with a built-in's name is hidden.
func WithLocalExecutor(executor LocalExecutor) Option {
	return func(o *Options) {
		o.Local = executor
	}
}

// WithSecretResolver replaces the resolver for bearer secrets of HTTP
// servers. The default understands env:, keyring: and literal: references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *Options) {
		o.Secrets = resolver
	}
}

// WithServerInfo sets the name and version reported in initialize, both
// to outside clients and to the servers the hub connects to.
func WithServerInfo(name, version string) Option {
	return func(o *Options) {
		o.ServerInfo = Implementation{Name: name, Version: version}
	}
}

// ===== Timeouts =====

// WithCatalogTTL sets how long a discovered catalog is served from cache.
func WithCatalogTTL(ttl time.Duration) Option {
	return func(o *Options) {
		o.CatalogTTL = ttl
	}
}

// WithCallTimeout bounds ordinary requests such as tools/list and
// tools/call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CallTimeout = timeout
	}
}

// WithInitTimeout bounds the initialize handshake. Keep it generous: servers
// fetched on first run (npx, uvx) may take minutes to start.
func WithInitTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.InitTimeout = timeout
	}
}

// WithShutdownGrace sets how long a stdio server gets to exit after its
// stdin is closed before the process group is killed.
func WithShutdownGrace(grace time.Duration) Option {
	return func(o *Options) {
		o.ShutdownGrace = grace
	}
}

// ===== Observability =====

// WithLogBufferSize sets how many log entries are kept per server.
func WithLogBufferSize(size int) Option {
	return func(o *Options) {
		o.LogBufferSize = size
	}
}

// WithMetricsRegisterer enables Prometheus metrics, registered with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.Registerer = reg
	}
}

// ===== Endpoint =====

// WithBasePath mounts the MCP endpoint under path, for example "/mcp".
func WithBasePath(path string) Option {
	return func(o *Options) {
		o.BasePath = path
	}
}

// WithPublicURL sets the scheme and host advertised to SSE clients, for
// deployments behind a proxy. By default the advertised URL is a path.
func WithPublicURL(url string) Option {
	return func(o *Options) {
		o.PublicURL = url
	}
}
