// Package localtools is the hub's local tool executor: tools that run in
// process rather than on an external MCP server.
//
// Tools are declared with the official MCP SDK types (mcp.Tool and
// mcp.ToolHandler) and invoked directly, without a transport.
package localtools

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcphub/internal/mcp"
)

// Executor runs local tools. The registry's IsMcpTool decides whether a
// name goes here or to an external server.
type Executor interface {
	// Tools returns the descriptors of every local tool.
	Tools() []mcp.ToolDescriptor

	// Has reports whether name is a local tool.
	Has(name string) bool

	// Execute runs a tool. Failures are returned as error results.
	Execute(ctx context.Context, name string, args json.RawMessage) mcp.ToolResult
}

// Compile-time verification that Set implements Executor.
var _ Executor = (*Set)(nil)

// Set is an Executor holding SDK tool declarations and their handlers.
type Set struct {
	mu    sync.RWMutex
	tools map[string]*sdkTool
	order []string
}

type sdkTool struct {
	tool    *sdkmcp.Tool
	handler sdkmcp.ToolHandler
}

// NewSet creates an empty tool set.
func NewSet() *Set {
	return &Set{tools: make(map[string]*sdkTool, 8)}
}

// Add registers a tool, replacing any tool with the same name.
func (s *Set) Add(tool *sdkmcp.Tool, handler sdkmcp.ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tools[tool.Name]; !exists {
		s.order = append(s.order, tool.Name)
	}

	s.tools[tool.Name] = &sdkTool{tool: tool, handler: handler}
}

// Has implements Executor.
func (s *Set) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tools[name]

	return ok
}

// Tools implements Executor. Tools are returned in registration order.
func (s *Set) Tools() []mcp.ToolDescriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]mcp.ToolDescriptor, 0, len(s.order))

	for _, name := range s.order {
		t := s.tools[name]

		desc := mcp.ToolDescriptor{Name: t.tool.Name, Description: t.tool.Description}

		if t.tool.InputSchema != nil {
			if schema, err := json.Marshal(t.tool.InputSchema); err == nil {
				desc.InputSchema = schema
			}
		}

		out = append(out, desc)
	}

	return out
}

// Names returns the registered tool names in registration order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.order)
}

// Execute implements Executor.
func (s *Set) Execute(ctx context.Context, name string, args json.RawMessage) (result mcp.ToolResult) {
	s.mu.RLock()
	t, exists := s.tools[name]
	s.mu.RUnlock()

	if !exists {
		return mcp.Failure("Tool not found: %s", name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	defer func() {
		if p := recover(); p != nil {
			result = mcp.Failure("Tool %s failed: panic: %v", name, p)
		}
	}()

	req := &sdkmcp.CallToolRequest{
		Params: &sdkmcp.CallToolParamsRaw{
			Name:      name,
			Arguments: args,
		},
	}

	out, err := t.handler(ctx, req)
	if err != nil {
		return mcp.Failure("Tool %s failed: %v", name, err)
	}

	if out == nil {
		return mcp.Success("")
	}

	return mcp.ToolResult{Text: mcp.ContentText(out.Content), IsError: out.IsError}
}

// SimpleSchema creates a jsonschema.Schema from a simple type map. Every
// property is required unless listed in optional.
//
// Input format: {"a": "float64", "b": "string"}
func SimpleSchema(props map[string]string, optional ...string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, goType := range props {
		properties[name] = goTypeToJSONSchema(goType)

		if !slices.Contains(optional, name) {
			required = append(required, name)
		}
	}

	slices.Sort(required)

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// goTypeToJSONSchema converts a Go type string to a JSON Schema type.
func goTypeToJSONSchema(goType string) *jsonschema.Schema {
	switch goType {
	case "string":
		return &jsonschema.Schema{Type: "string"}
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64":
		return &jsonschema.Schema{Type: "integer"}
	case "float32", "float64", "float", "number":
		return &jsonschema.Schema{Type: "number"}
	case "bool", "boolean":
		return &jsonschema.Schema{Type: "boolean"}
	case "any", "object", "map[string]any":
		return &jsonschema.Schema{Type: "object"}
	default:
		if itemType, ok := cutArray(goType); ok {
			return &jsonschema.Schema{
				Type:  "array",
				Items: goTypeToJSONSchema(itemType),
			}
		}

		return &jsonschema.Schema{Type: "string"}
	}
}

func cutArray(goType string) (string, bool) {
	if len(goType) > 2 && goType[:2] == "[]" {
		return goType[2:], true
	}

	return "", false
}

// NewTool creates an mcp.Tool with the given parameters.
func NewTool(name, description string, inputSchema *jsonschema.Schema) *sdkmcp.Tool {
	tool := &sdkmcp.Tool{Name: name, Description: description}

	// A nil *Schema stored in the any field would not compare equal to nil.
	if inputSchema != nil {
		tool.InputSchema = inputSchema
	}

	return tool
}

// TextResult creates a CallToolResult with text content.
func TextResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: text}},
	}
}

// ErrorResult creates a CallToolResult indicating an error.
func ErrorResult(message string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: message}},
		IsError: true,
	}
}

// DecodeArguments unmarshals CallToolRequest arguments into v.
func DecodeArguments(req *sdkmcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}

	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}

	return nil
}

// Chain combines executors. Tools are listed in order with later duplicates
// hidden, and a call goes to the first executor that has the tool.
func Chain(executors ...Executor) Executor {
	return chain(executors)
}

type chain []Executor

func (c chain) Tools() []mcp.ToolDescriptor {
	var out []mcp.ToolDescriptor

	seen := make(map[string]bool)

	for _, e := range c {
		for _, t := range e.Tools() {
			if seen[t.Name] {
				continue
			}

			seen[t.Name] = true
			out = append(out, t)
		}
	}

	return out
}

func (c chain) Has(name string) bool {
	return slices.ContainsFunc(c, func(e Executor) bool { return e.Has(name) })
}

func (c chain) Execute(ctx context.Context, name string, args json.RawMessage) mcp.ToolResult {
	for _, e := range c {
		if e.Has(name) {
			return e.Execute(ctx, name, args)
		}
	}

	return mcp.Failure("Tool not found: %s", name)
}
