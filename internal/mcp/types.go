package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ProtocolVersion is the MCP revision requested during initialize.
const ProtocolVersion = "2024-11-05"

// MCP method names.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
	MethodPing        = "ping"
)

// defaultInputSchema is reported for tools that publish no schema.
var defaultInputSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolDescriptor describes one tool offered by a server. The input schema
// is kept as opaque JSON.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// Schema returns the input schema, or an empty object schema when the
// server published none.
func (t ToolDescriptor) Schema() json.RawMessage {
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
		return defaultInputSchema
	}

	return t.InputSchema
}

// MarshalJSON always emits an inputSchema.
func (t ToolDescriptor) MarshalJSON() ([]byte, error) {
	type wire ToolDescriptor

	w := wire(t)
	w.InputSchema = t.Schema()

	return json.Marshal(w)
}

// ToolResult is the outcome of a tool call as seen by the orchestrator.
// Failures are carried as text with IsError set, never as a Go error.
type ToolResult struct {
	Text    string `json:"text"`
	IsError bool   `json:"isError,omitempty"`
}

// Success creates a successful result.
func Success(text string) ToolResult {
	return ToolResult{Text: text}
}

// Failure creates an error result from a formatted message.
func Failure(format string, args ...any) ToolResult {
	return ToolResult{Text: fmt.Sprintf(format, args...), IsError: true}
}

// CallToolResult converts r to the wire result of a tools/call response: a
// single text content block.
func (r ToolResult) CallToolResult() *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: r.Text}},
		IsError: r.IsError,
	}
}

// Implementation names a client or server in the initialize exchange.
type Implementation = mcp.Implementation

// InitializeParams builds the params of an initialize request.
func InitializeParams(client Implementation) *mcp.InitializeParams {
	return &mcp.InitializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    &mcp.ClientCapabilities{},
		ClientInfo:      &client,
	}
}

// InitializeResult builds the result of an initialize request for a server
// that offers tools.
func InitializeResult(server Implementation) *mcp.InitializeResult {
	return &mcp.InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    &mcp.ServerCapabilities{Tools: &mcp.ToolCapabilities{}},
		ServerInfo:      &server,
	}
}

// ListToolsParams is the params of a tools/list request.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools      []ToolDescriptor `json:"tools"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// CallToolParams is the params of a tools/call request.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeCallToolResult converts a tools/call result into a ToolResult.
// Content blocks that are not text are summarised in brackets.
func DecodeCallToolResult(raw json.RawMessage) (ToolResult, error) {
	var result mcp.CallToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		// Fall back to reading text blocks only, for servers that send
		// content types this client does not know.
		var lenient struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		}

		if lerr := json.Unmarshal(raw, &lenient); lerr != nil {
			return ToolResult{}, fmt.Errorf("decode tools/call result: %w", err)
		}

		parts := make([]string, 0, len(lenient.Content))

		for _, c := range lenient.Content {
			if c.Type == "text" {
				parts = append(parts, c.Text)
			} else {
				parts = append(parts, "["+c.Type+"]")
			}
		}

		return ToolResult{Text: strings.Join(parts, "\n"), IsError: lenient.IsError}, nil
	}

	return ToolResult{Text: ContentText(result.Content), IsError: result.IsError}, nil
}

// ContentText flattens content blocks into text, one block per line.
func ContentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))

	for _, c := range content {
		switch v := c.(type) {
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.ImageContent:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *mcp.AudioContent:
			parts = append(parts, fmt.Sprintf("[audio %s, %d bytes]", v.MIMEType, len(v.Data)))
		case *mcp.ResourceLink:
			parts = append(parts, fmt.Sprintf("[resource %s]", v.URI))
		case *mcp.EmbeddedResource:
			if v.Resource == nil {
				continue
			}

			if v.Resource.Text != "" {
				parts = append(parts, v.Resource.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[resource %s]", v.Resource.URI))
			}
		}
	}

	return strings.Join(parts, "\n")
}
