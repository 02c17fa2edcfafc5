// Package clientcache keeps one live stdio MCP client per configured server.
//
// Clients are started lazily on first use. Concurrent first callers for the
// same server share one start attempt, so a server is never spawned twice.
// Every fetch checks liveness: a client whose process has exited is evicted
// and replaced transparently.
//
// The cache hands out borrowed mcp.Client values. Only the cache closes the
// underlying process, through Invalidate or DisposeAll.
package clientcache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/mcp"
	"github.com/wagiedev/mcphub/internal/metrics"
)

// maxAttempts bounds how often GetOrCreate starts a server in one call.
const maxAttempts = 2

// errStale reports a start attempt that was overtaken by Invalidate.
var errStale = stderrors.New("server invalidated while starting")

// Options configures a Cache.
type Options struct {
	// Logger receives diagnostics. If nil, logging is disabled.
	Logger *slog.Logger

	// Client is the template for every client the cache starts. Its Logs
	// field is replaced with the per-server ring.
	Client mcp.Options

	// Logs holds the per-server log rings. Defaults to a store of
	// logbuf.DefaultCapacity entries per server.
	Logs *logbuf.Store

	// Metrics records process lifecycle. Optional.
	Metrics *metrics.Metrics
}

type entry struct {
	client *mcp.StdioClient
	handle *borrowed
	cfg    config.ServerConfig
}

// borrowed is the handle GetOrCreate hands out. It forwards the Client
// methods only, so a holder cannot reach Close on a process the cache owns.
type borrowed struct {
	client *mcp.StdioClient
}

var _ mcp.Client = (*borrowed)(nil)

func (b *borrowed) ServerID() string {
	return b.client.ServerID()
}

func (b *borrowed) EnsureInitialized(ctx context.Context) error {
	return b.client.EnsureInitialized(ctx)
}

func (b *borrowed) ListTools(ctx context.Context) ([]mcp.ToolDescriptor, error) {
	return b.client.ListTools(ctx)
}

func (b *borrowed) CallTool(ctx context.Context, name string, args json.RawMessage) mcp.ToolResult {
	return b.client.CallTool(ctx, name, args)
}

// Cache owns the stdio clients of a hub.
type Cache struct {
	log     *slog.Logger
	opts    mcp.Options
	logs    *logbuf.Store
	metrics *metrics.Metrics

	group singleflight.Group

	mu         sync.Mutex
	clients    map[string]*entry
	generation map[string]uint64
	disposed   bool
}

// New creates an empty cache.
func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if opts.Logs == nil {
		opts.Logs = logbuf.NewStore(logbuf.DefaultCapacity)
	}

	opts.Client.Logger = opts.Logger

	return &Cache{
		log:        opts.Logger.With("component", "client_cache"),
		opts:       opts.Client,
		logs:       opts.Logs,
		metrics:    opts.Metrics,
		clients:    make(map[string]*entry),
		generation: make(map[string]uint64),
	}
}

// GetOrCreate returns the live client for cfg, starting the server if none
// is cached. A cached client whose process has exited, or whose
// configuration differs from cfg, is replaced.
//
// The returned client is borrowed; callers must not close it.
func (c *Cache) GetOrCreate(ctx context.Context, cfg config.ServerConfig) (mcp.Client, error) {
	if cfg.Transport != config.TransportStdio {
		return nil, &errors.ConfigurationError{ServerID: cfg.ID, Field: "transport", Reason: "only stdio servers are cached"}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var lastErr error

	for range maxAttempts {
		if client, ok, err := c.lookup(cfg); err != nil {
			return nil, err
		} else if ok {
			return client, nil
		}

		client, err := c.start(ctx, cfg)
		if err == nil {
			return client, nil
		}

		if !stderrors.Is(err, errStale) {
			return nil, err
		}

		lastErr = err
	}

	return nil, lastErr
}

// lookup returns the cached client for cfg if it is usable, evicting it
// otherwise.
func (c *Cache) lookup(cfg config.ServerConfig) (*borrowed, bool, error) {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()

		return nil, false, errors.ErrClientClosed
	}

	e, ok := c.clients[cfg.ID]
	if !ok {
		c.mu.Unlock()

		return nil, false, nil
	}

	if !e.client.HasExited() && e.cfg.Equal(cfg) {
		c.mu.Unlock()

		return e.handle, true, nil
	}

	exited := e.client.HasExited()
	c.removeLocked(cfg.ID)
	c.mu.Unlock()

	if exited {
		c.log.Warn("Cached server process exited, restarting", "server_id", cfg.ID, "server", cfg.Name)
		c.logs.Add(cfg.ID, logbuf.LevelWarn, "process exited unexpectedly; restarting")
		c.metrics.ProcessRestarted(cfg.ID)
	} else {
		c.log.Info("Server configuration changed, restarting", "server_id", cfg.ID, "server", cfg.Name)
		c.logs.Add(cfg.ID, logbuf.LevelInfo, "configuration changed; restarting")
	}

	c.closeClient(e)

	return nil, false, nil
}

// start joins or begins the shared start attempt for cfg.ID.
func (c *Cache) start(ctx context.Context, cfg config.ServerConfig) (*borrowed, error) {
	ch := c.group.DoChan(cfg.ID, func() (any, error) {
		return c.spawn(cfg)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}

		return res.Val.(*borrowed), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// spawn starts one server process. It runs at most once at a time per
// server id.
func (c *Cache) spawn(cfg config.ServerConfig) (*borrowed, error) {
	c.mu.Lock()

	if c.disposed {
		c.mu.Unlock()

		return nil, errors.ErrClientClosed
	}

	if e, ok := c.clients[cfg.ID]; ok && !e.client.HasExited() && e.cfg.Equal(cfg) {
		c.mu.Unlock()

		return e.handle, nil
	}

	gen := c.generation[cfg.ID]
	c.mu.Unlock()

	opts := c.opts
	opts.Logs = c.logs.For(cfg.ID)

	// The process outlives the caller that happened to trigger the start.
	client, err := mcp.NewStdioClient(context.Background(), cfg, opts)
	if err != nil {
		c.log.Error("Failed to start server", "server_id", cfg.ID, "server", cfg.Name, "error", err)
		c.logs.Add(cfg.ID, logbuf.LevelError, "failed to start: "+err.Error())

		return nil, err
	}

	c.mu.Lock()

	if c.disposed || c.generation[cfg.ID] != gen {
		c.mu.Unlock()

		c.log.Debug("Discarding client started before invalidation", "server_id", cfg.ID)
		_ = client.Close()

		return nil, errStale
	}

	handle := &borrowed{client: client}
	c.clients[cfg.ID] = &entry{client: client, handle: handle, cfg: cfg.Clone()}
	c.mu.Unlock()

	c.metrics.ProcessStarted()
	c.log.Info("Started server process", "server_id", cfg.ID, "server", cfg.Name, "pid", client.Pid())
	c.logs.Add(cfg.ID, logbuf.LevelInfo, fmt.Sprintf("process started (pid %d)", client.Pid()))

	return handle, nil
}

// Invalidate closes and removes the cached client for id. It is safe to
// call when nothing is cached. A start in progress for id is discarded.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	c.generation[id]++
	c.group.Forget(id)

	e, ok := c.clients[id]
	if ok {
		c.removeLocked(id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}

	c.log.Info("Invalidated server", "server_id", id)
	c.logs.Add(id, logbuf.LevelInfo, "process stopped (invalidated)")

	c.closeClient(e)
}

// DisposeAll closes every cached client and rejects later calls.
func (c *Cache) DisposeAll() {
	c.mu.Lock()
	c.disposed = true

	entries := make([]*entry, 0, len(c.clients))
	for id, e := range c.clients {
		entries = append(entries, e)
		c.removeLocked(id)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup

	for _, e := range entries {
		wg.Go(func() {
			c.logs.Add(e.cfg.ID, logbuf.LevelInfo, "process stopped (shutdown)")
			c.closeClient(e)
		})
	}

	wg.Wait()

	c.log.Info("Disposed all server processes", "count", len(entries))
}

// Logs returns up to n recent log entries for the server id.
func (c *Cache) Logs(id string, n int) []logbuf.Entry {
	return c.logs.Recent(id, n)
}

// Len returns the number of cached clients.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.clients)
}

// Pid returns the process id of the live cached client for id.
func (c *Cache) Pid(id string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.clients[id]
	if !ok || e.client.HasExited() {
		return 0, false
	}

	return e.client.Pid(), true
}

// removeLocked drops id from the map. The caller holds c.mu and closes the
// client after unlocking.
func (c *Cache) removeLocked(id string) {
	delete(c.clients, id)
	c.metrics.ProcessStopped()
}

func (c *Cache) closeClient(e *entry) {
	if err := e.client.Close(); err != nil {
		c.log.Debug("Server process closed with error", "server_id", e.cfg.ID, "error", err)
	}
}
