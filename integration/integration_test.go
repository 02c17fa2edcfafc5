//go:build integration

package integration

import (
	"context"
	"os/exec"
	"testing"

	"github.com/wagiedev/mcphub"
)

// everything is the reference MCP server shipped by the protocol authors.
func everything() mcphub.ServerConfig {
	return mcphub.ServerConfig{
		ID:        "everything",
		Name:      "everything",
		Transport: mcphub.TransportStdio,
		Command:   "npx",
		Args:      []string{"-y", "@modelcontextprotocol/server-everything"},
		Enabled:   true,
	}
}

func skipIfNpxNotInstalled(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("npx"); err != nil {
		t.Skip("npx not installed")
	}
}

func newHub(t *testing.T, servers ...mcphub.ServerConfig) *mcphub.Hub {
	t.Helper()

	hub, err := mcphub.New(mcphub.WithConfigStore(mcphub.NewMemoryStore(servers...)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	t.Cleanup(func() { _ = hub.Close() })

	return hub
}

func callOK(ctx context.Context, t *testing.T, hub *mcphub.Hub, name, args string) string {
	t.Helper()

	result := hub.CallTool(ctx, name, []byte(args), "")
	if result.IsError {
		t.Fatalf("%s failed: %s", name, result.Text)
	}

	return result.Text
}
