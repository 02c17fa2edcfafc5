package clientcache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/mcp"
	"github.com/wagiedev/mcphub/internal/mcptest"
	"github.com/wagiedev/mcphub/internal/metrics"
)

func TestHelperProcess(t *testing.T) {
	if os.Getenv(mcptest.HelperEnv) != "1" {
		return
	}

	os.Exit(mcptest.RunHelper())
}

func newCache(t *testing.T) *Cache {
	t.Helper()

	cache := New(Options{Client: mcp.Options{ShutdownGrace: time.Second}})
	t.Cleanup(cache.DisposeAll)

	return cache
}

func stubConfig(t *testing.T) (config.ServerConfig, string) {
	t.Helper()

	spawnLog := filepath.Join(t.TempDir(), "spawns")

	return mcptest.StdioConfig("echo", "echo-mcp", map[string]string{mcptest.SpawnLogEnv: spawnLog}), spawnLog
}

func TestGetOrCreate_ConcurrentCallersSpawnOnce(t *testing.T) {
	cache := newCache(t)
	cfg, spawnLog := stubConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup

	clients := make(chan mcp.Client, 16)

	for range 16 {
		wg.Go(func() {
			client, err := cache.GetOrCreate(ctx, cfg)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)

				return
			}

			clients <- client
		})
	}

	wg.Wait()
	close(clients)

	var first mcp.Client
	for client := range clients {
		if first == nil {
			first = client
		}

		require.Same(t, first, client)
	}

	require.Equal(t, 1, cache.Len())
	require.True(t, mcptest.WaitFor(ctx, func() bool { return mcptest.SpawnCount(spawnLog) == 1 }))

	// Give any duplicate spawn time to show up before asserting exactly one.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 1, mcptest.SpawnCount(spawnLog))
}

func TestGetOrCreate_ReplacesExitedProcess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cache := New(Options{Client: mcp.Options{ShutdownGrace: time.Second}, Metrics: m})
	t.Cleanup(cache.DisposeAll)

	cfg, spawnLog := stubConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)

	result := client.CallTool(ctx, "exit", nil)
	require.True(t, result.IsError)

	require.True(t, mcptest.WaitFor(ctx, stdioOf(t, client).HasExited))

	replacement, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)
	require.NotSame(t, client, replacement)

	result = replacement.CallTool(ctx, "ping", nil)
	require.Equal(t, "pong", result.Text)

	require.Equal(t, 2, mcptest.SpawnCount(spawnLog))

	restarts, err := testutil.GatherAndCount(reg, "mcphub_process_restarts_total")
	require.NoError(t, err)
	require.Equal(t, 1, restarts)

	var warned bool

	for _, entry := range cache.Logs(cfg.ID, 0) {
		if entry.Level == logbuf.LevelWarn && strings.Contains(entry.Message, "restarting") {
			warned = true
		}
	}

	require.True(t, warned)
}

func TestGetOrCreate_ConfigChangeRestarts(t *testing.T) {
	cache := newCache(t)
	cfg, spawnLog := stubConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)

	changed := cfg.Clone()
	changed.Env["EXTRA"] = "1"

	second, err := cache.GetOrCreate(ctx, changed)
	require.NoError(t, err)
	require.NotSame(t, first, second)
	require.True(t, mcptest.WaitFor(ctx, func() bool { return mcptest.SpawnCount(spawnLog) == 2 }))
}

func TestInvalidate_DuringInFlightCall(t *testing.T) {
	cache := newCache(t)
	cfg, _ := stubConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, client.EnsureInitialized(ctx))

	done := make(chan mcp.ToolResult, 1)

	go func() {
		done <- client.CallTool(ctx, "slow", []byte(`{"ms":30000}`))
	}()

	stdio := stdioOf(t, client)
	require.True(t, mcptest.WaitFor(ctx, func() bool { return stdio.PendingRequests() == 1 }))

	cache.Invalidate(cfg.ID)
	require.Zero(t, cache.Len())

	select {
	case result := <-done:
		require.True(t, result.IsError)
		require.Contains(t, result.Text, "slow")
	case <-ctx.Done():
		t.Fatal("in-flight call did not finish after Invalidate")
	}

	fresh, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)
	require.NotSame(t, client, fresh)

	result := fresh.CallTool(ctx, "ping", nil)
	require.False(t, result.IsError, result.Text)
	require.Equal(t, "pong", result.Text)
}

func TestGetOrCreate_HandsOutBorrowedClient(t *testing.T) {
	cache := newCache(t)
	cfg, _ := stubConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)

	_, owned := client.(mcp.OwnedClient)
	require.False(t, owned, "cached client must not expose Close")

	_, concrete := client.(*mcp.StdioClient)
	require.False(t, concrete)

	again, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)
	require.Same(t, client, again)

	require.Equal(t, cfg.ID, client.ServerID())
	require.Equal(t, "pong", client.CallTool(ctx, "ping", nil).Text)
}

func TestInvalidate_UnknownIsNoop(t *testing.T) {
	cache := newCache(t)

	cache.Invalidate("nothing-here")
	require.Zero(t, cache.Len())
}

func TestDisposeAll_RejectsLaterCalls(t *testing.T) {
	cache := New(Options{Client: mcp.Options{ShutdownGrace: time.Second}})
	cfg, _ := stubConfig(t)

	client, err := cache.GetOrCreate(context.Background(), cfg)
	require.NoError(t, err)

	cache.DisposeAll()
	require.Zero(t, cache.Len())

	require.True(t, stdioOf(t, client).HasExited())

	_, err = cache.GetOrCreate(context.Background(), cfg)
	require.ErrorIs(t, err, errors.ErrClientClosed)
}

func TestGetOrCreate_RejectsHTTPAndInvalidConfig(t *testing.T) {
	cache := newCache(t)

	_, err := cache.GetOrCreate(context.Background(), config.ServerConfig{
		ID: "remote", Name: "remote", Transport: config.TransportHTTP, URL: "http://localhost:1",
	})
	require.Error(t, err)

	_, err = cache.GetOrCreate(context.Background(), config.ServerConfig{
		ID: "broken", Name: "broken", Transport: config.TransportStdio,
	})
	require.Error(t, err)
	require.Zero(t, cache.Len())
}

func TestLogs_CaptureStderrAndLifecycle(t *testing.T) {
	cache := newCache(t)
	cfg, _ := stubConfig(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := cache.GetOrCreate(ctx, cfg)
	require.NoError(t, err)

	require.True(t, mcptest.WaitFor(ctx, func() bool {
		var started, stderr bool

		for _, entry := range cache.Logs(cfg.ID, 0) {
			switch {
			case entry.Level == logbuf.LevelInfo && strings.HasPrefix(entry.Message, "process started"):
				started = true
			case entry.Level == logbuf.LevelStderr && entry.Message == "stub server starting":
				stderr = true
			}
		}

		return started && stderr
	}))

	pid, ok := cache.Pid(cfg.ID)
	require.True(t, ok)
	require.Positive(t, pid)

	require.Len(t, cache.Logs(cfg.ID, 1), 1)
	require.Empty(t, cache.Logs("unknown", 10))
}

// stdioOf returns the process-backed client behind a borrowed handle.
func stdioOf(t *testing.T, client mcp.Client) *mcp.StdioClient {
	t.Helper()

	b, ok := client.(*borrowed)
	require.True(t, ok, "unexpected client type %T", client)

	return b.client
}
