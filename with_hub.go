package mcphub

import (
	"context"
	"fmt"
)

// WithHub manages hub lifecycle with automatic cleanup.
//
// It creates a hub with the provided options, runs fn, and closes the hub
// when fn returns, terminating every server process the hub started.
//
// Example usage:
//
//	err := mcphub.WithHub(ctx, func(h *mcphub.Hub) error {
//	    result := h.CallTool(ctx, "mcp__echo_mcp__ping", nil, "")
//	    fmt.Println(result.Text)
//	    return nil
//	},
//	    mcphub.WithConfigStore(store),
//	)
func WithHub(ctx context.Context, fn func(*Hub) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	hub, err := New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create hub: %w", err)
	}

	defer func() {
		if closeErr := hub.Close(); closeErr != nil {
			hub.log.Warn("failed to close hub", "error", closeErr)
		}
	}()

	return fn(hub)
}
