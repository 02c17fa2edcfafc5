// Package mcphub aggregates tools from many Model Context Protocol (MCP)
// servers and serves them, together with in-process tools, as one MCP
// server.
//
// External servers are configured as either a local command speaking
// line-delimited JSON-RPC over stdio, or a remote HTTP endpoint. Stdio
// servers are started on first use and kept running; a server that exits is
// restarted on the next call. Every tool is offered under a namespaced name
// of the form mcp__{server}__{tool}.
//
// # Basic Usage
//
//	store, err := mcphub.LoadConfig("servers.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	hub, err := mcphub.New(
//	    mcphub.WithConfigStore(store),
//	    mcphub.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer hub.Close()
//
//	tools, err := hub.ListTools(ctx, "")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, t := range tools {
//	    fmt.Println(t.Name)
//	}
//
// # Serving
//
// Handler returns an http.Handler offering two transports: a stateless one
// where each POST to /messages carries one JSON-RPC request and its
// response, and a session one where GET /sse opens an event stream that
// carries the responses to POSTs made against the advertised URL.
//
//	http.ListenAndServe(":8080", hub.Handler())
//
// # Error Handling
//
// Tool calls never fail with a Go error. Every failure, from a crashed
// server to an unknown tool, is returned as a ToolResult with IsError set so
// that the calling model can react to it.
package mcphub
