package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"
)

// initializer runs the initialize handshake at most once per connection.
// Concurrent callers share one in-flight attempt; a failed attempt leaves
// the connection uninitialized so a later call can retry.
type initializer struct {
	group singleflight.Group
	done  atomic.Bool
}

func (in *initializer) initialized() bool {
	return in.done.Load()
}

// ensure waits for the shared attempt or for ctx. The attempt itself runs
// on life so that one impatient caller cannot abort it for the others.
func (in *initializer) ensure(ctx, life context.Context, run func(ctx context.Context) error) error {
	if in.done.Load() {
		return nil
	}

	ch := in.group.DoChan("initialize", func() (any, error) {
		if in.done.Load() {
			return nil, nil
		}

		if err := run(life); err != nil {
			return nil, err
		}

		in.done.Store(true)

		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handshake sends initialize, then the initialized notification.
func handshake(
	ctx context.Context,
	log *slog.Logger,
	call callFunc,
	notify func(ctx context.Context, method string) error,
	client Implementation,
	timeout time.Duration,
) error {
	start := time.Now()

	raw, err := call(ctx, MethodInitialize, InitializeParams(client), timeout)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var result mcp.InitializeResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}

	attrs := []any{"protocol_version", result.ProtocolVersion, "duration", time.Since(start)}
	if result.ServerInfo != nil {
		attrs = append(attrs, "server_name", result.ServerInfo.Name, "server_version", result.ServerInfo.Version)
	}

	log.Info("MCP server initialized", attrs...)

	if err := notify(ctx, MethodInitialized); err != nil {
		log.Warn("Failed to send initialized notification", "error", err)
	}

	return nil
}
