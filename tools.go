package mcphub

import (
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcphub/internal/localtools"
)

// Re-export MCP SDK types used to declare local tools.
type (
	// CallToolResult is the result a local tool handler returns.
	// Use TextResult or ErrorResult to create one.
	CallToolResult = mcp.CallToolResult

	// CallToolRequest is the request passed to local tool handlers.
	CallToolRequest = mcp.CallToolRequest

	// McpTool is an MCP tool declaration from the official SDK.
	McpTool = mcp.Tool

	// McpToolHandler is the signature of a local tool handler.
	McpToolHandler = mcp.ToolHandler

	// McpToolAnnotations describes optional hints about tool behavior.
	McpToolAnnotations = mcp.ToolAnnotations

	// Schema is a JSON Schema object for tool input.
	Schema = jsonschema.Schema

	// ToolSet is a LocalExecutor holding SDK tool declarations and their
	// handlers.
	ToolSet = localtools.Set
)

// ToolOption configures a tool created with NewTool.
type ToolOption func(*mcp.Tool)

// WithAnnotations sets MCP tool annotations (hints about tool behavior).
func WithAnnotations(annotations *mcp.ToolAnnotations) ToolOption {
	return func(t *mcp.Tool) {
		t.Annotations = annotations
	}
}

// NewToolSet creates an empty tool set. Pass it to WithLocalExecutor.
//
// Example:
//
//	tools := mcphub.NewToolSet()
//	tools.Add(
//	    mcphub.NewTool("add", "Add two numbers",
//	        mcphub.SimpleSchema(map[string]string{"a": "float64", "b": "float64"})),
//	    func(ctx context.Context, req *mcphub.CallToolRequest) (*mcphub.CallToolResult, error) {
//	        var args struct{ A, B float64 }
//	        if err := mcphub.DecodeArguments(req, &args); err != nil {
//	            return mcphub.ErrorResult(err.Error()), nil
//	        }
//	        return mcphub.TextResult(fmt.Sprint(args.A + args.B)), nil
//	    },
//	)
func NewToolSet() *ToolSet {
	return localtools.NewSet()
}

// NewTool creates an mcp.Tool declaration.
func NewTool(name, description string, inputSchema *jsonschema.Schema, opts ...ToolOption) *mcp.Tool {
	t := localtools.NewTool(name, description, inputSchema)

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// SimpleSchema creates a jsonschema.Schema from a simple type map. Every
// property is required unless listed in optional.
//
// Type mappings:
//   - "string"           → {"type": "string"}
//   - "int", "int64"     → {"type": "integer"}
//   - "float64", "float" → {"type": "number"}
//   - "bool"             → {"type": "boolean"}
//   - "[]string"         → {"type": "array", "items": {"type": "string"}}
//   - "any", "object"    → {"type": "object"}
func SimpleSchema(props map[string]string, optional ...string) *jsonschema.Schema {
	return localtools.SimpleSchema(props, optional...)
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *mcp.CallToolResult {
	return localtools.TextResult(text)
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *mcp.CallToolResult {
	return localtools.ErrorResult(message)
}

// DecodeArguments unmarshals CallToolRequest arguments into v.
func DecodeArguments(req *mcp.CallToolRequest, v any) error {
	return localtools.DecodeArguments(req, v)
}
