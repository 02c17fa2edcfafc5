package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"echo-mcp", "echo_mcp"},
		{"Remote Tools", "remote_tools"},
		{"GitHub", "github"},
		{"a__b", "a_b"},
		{"--lead and trail--", "lead_and_trail"},
		{"v2.1 server", "v2_1_server"},
		{"Ünïcode", "n_code"},
		{"!!!", "server"},
		{"", "server"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestBuild(t *testing.T) {
	require.Equal(t, "mcp__echo_mcp__ping", Build("echo-mcp", "ping"))
}

func TestSplit_RoundTrip(t *testing.T) {
	servers := []string{"echo-mcp", "a__b", "trailing_", "_leading", "x", "Über Server 9", "!!!", "mcp__nested"}
	tools := []string{"ping", "get__thing", "_private", "trailing_", "a-b.c", "__"}

	for _, server := range servers {
		for _, tool := range tools {
			t.Run(fmt.Sprintf("%s/%s", server, tool), func(t *testing.T) {
				gotServer, gotTool, ok := Split(Build(server, tool))
				require.True(t, ok)
				require.Equal(t, Normalize(server), gotServer)
				require.Equal(t, tool, gotTool)
			})
		}
	}
}

func TestSplit_Rejects(t *testing.T) {
	for _, name := range []string{"", "ping", "mcp_x__y", "mcp__", "mcp__server", "mcp____tool", "mcp__server__", "MCP__a__b"} {
		t.Run(name, func(t *testing.T) {
			_, _, ok := Split(name)
			require.False(t, ok)
			require.False(t, IsMcpTool(name))
		})
	}
}

func TestIsMcpTool(t *testing.T) {
	require.True(t, IsMcpTool("mcp__echo_mcp__ping"))
	require.False(t, IsMcpTool("hub_list_servers"))
}
