package mcp

import (
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
)

func TestToolDescriptor_DefaultSchema(t *testing.T) {
	data, err := json.Marshal(ToolDescriptor{Name: "bare"})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"bare","inputSchema":{"type":"object","properties":{}}}`, string(data))

	tool := ToolDescriptor{Name: "typed", InputSchema: json.RawMessage(`{"type":"object","required":["q"]}`)}
	require.JSONEq(t, `{"type":"object","required":["q"]}`, string(tool.Schema()))
}

func TestDecodeCallToolResult(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ToolResult
		wantErr bool
	}{
		{
			name: "text blocks joined by newline",
			raw:  `{"content":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`,
			want: ToolResult{Text: "a\nb"},
		},
		{
			name: "error flag kept",
			raw:  `{"content":[{"type":"text","text":"nope"}],"isError":true}`,
			want: ToolResult{Text: "nope", IsError: true},
		},
		{
			name: "image summarised",
			raw:  `{"content":[{"type":"image","mimeType":"image/png","data":"AAEC"}]}`,
			want: ToolResult{Text: "[image image/png, 3 bytes]"},
		},
		{
			name: "embedded text resource",
			raw:  `{"content":[{"type":"resource","resource":{"uri":"file:///a","text":"inline"}}]}`,
			want: ToolResult{Text: "inline"},
		},
		{
			name: "unknown content type falls back",
			raw:  `{"content":[{"type":"text","text":"x"},{"type":"hologram"}]}`,
			want: ToolResult{Text: "x\n[hologram]"},
		},
		{
			name:    "not an object",
			raw:     `"just a string"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCallToolResult(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestToolResult_CallToolResult(t *testing.T) {
	wire := Failure("Tool %s failed: %s", "x", "boom").CallToolResult()

	require.True(t, wire.IsError)
	require.Len(t, wire.Content, 1)

	text, ok := wire.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	require.Equal(t, "Tool x failed: boom", text.Text)

	data, err := json.Marshal(wire)
	require.NoError(t, err)
	require.JSONEq(t, `{"content":[{"type":"text","text":"Tool x failed: boom"}],"isError":true}`, string(data))
}

func TestInitializeResult(t *testing.T) {
	data, err := json.Marshal(InitializeResult(Implementation{Name: "mcphub", Version: "1.2.3"}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, ProtocolVersion, decoded["protocolVersion"])
	require.Equal(t, map[string]any{"name": "mcphub", "version": "1.2.3"}, decoded["serverInfo"])
	require.Contains(t, decoded["capabilities"], "tools")
}
