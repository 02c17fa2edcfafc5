package localtools

import (
	"context"
	"encoding/json"
	"fmt"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/mcphub/internal/config"
	"github.com/wagiedev/mcphub/internal/logbuf"
	"github.com/wagiedev/mcphub/internal/mcp"
)

// Built-in tool names.
const (
	ToolListServers = "hub_list_servers"
	ToolServerLogs  = "hub_server_logs"

	defaultLogLimit = 50
)

// ServerLister supplies the configured servers of a scope.
type ServerLister interface {
	Servers(ctx context.Context, scope string) ([]config.ServerConfig, error)
}

// ProcessInspector reports on the stdio server processes held by the hub.
type ProcessInspector interface {
	Pid(id string) (int, bool)
	Logs(id string, n int) []logbuf.Entry
}

// Builtins returns the hub's own tools: hub_list_servers and
// hub_server_logs.
func Builtins(servers ServerLister, procs ProcessInspector) *Set {
	set := NewSet()

	set.Add(
		NewTool(ToolListServers,
			"List the configured MCP servers and whether each is running. Optionally limited to one scope.",
			SimpleSchema(map[string]string{"scope": "string"}, "scope")),
		listServers(servers, procs),
	)

	set.Add(
		NewTool(ToolServerLogs,
			"Show the most recent log entries (stderr and lifecycle events) of one MCP server.",
			SimpleSchema(map[string]string{"server_id": "string", "limit": "int"}, "limit")),
		serverLogs(procs),
	)

	return set
}

func listServers(servers ServerLister, procs ProcessInspector) sdkmcp.ToolHandler {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		var args struct {
			Scope string `json:"scope"`
		}

		if err := DecodeArguments(req, &args); err != nil {
			return ErrorResult(err.Error()), nil
		}

		configs, err := servers.Servers(ctx, args.Scope)
		if err != nil {
			return nil, err
		}

		status := mcp.Status{Scope: args.Scope, MCPServers: make([]mcp.ServerStatus, 0, len(configs))}

		for _, cfg := range configs {
			entry := mcp.ServerStatus{
				ID:        cfg.ID,
				Name:      cfg.Name,
				Transport: string(cfg.Transport),
			}

			switch {
			case !cfg.Enabled:
				entry.Status = mcp.StatusDisabled
			case cfg.Transport == config.TransportHTTP:
				entry.Status = mcp.StatusRemote
			default:
				if pid, ok := procs.Pid(cfg.ID); ok {
					entry.Status = mcp.StatusRunning
					entry.Pid = pid
				} else {
					entry.Status = mcp.StatusStopped
				}
			}

			status.MCPServers = append(status.MCPServers, entry)
		}

		return jsonResult(status)
	}
}

func serverLogs(procs ProcessInspector) sdkmcp.ToolHandler {
	return func(_ context.Context, req *sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
		var args struct {
			ServerID string `json:"server_id"`
			Limit    int    `json:"limit"`
		}

		if err := DecodeArguments(req, &args); err != nil {
			return ErrorResult(err.Error()), nil
		}

		if args.ServerID == "" {
			return ErrorResult("server_id is required"), nil
		}

		if args.Limit <= 0 {
			args.Limit = defaultLogLimit
		}

		return jsonResult(procs.Logs(args.ServerID, args.Limit))
	}
}

func jsonResult(v any) (*sdkmcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}

	return TextResult(string(data)), nil
}
