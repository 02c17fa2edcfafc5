// Package mcp implements Model Context Protocol clients for external tool
// servers.
//
// Two transports share one logical contract (initialize, list tools, call a
// tool):
//
//   - StdioClient talks line-delimited JSON-RPC to a supervised local
//     subprocess. A stdout pump correlates responses with pending calls and
//     a stderr pump feeds the server's log ring.
//   - HTTPClient posts one envelope per request to {base}/messages and keeps
//     no connection state beyond an initialized flag.
//
// Callers that borrow a cached client see the Client interface, which has
// no way to dispose of it. OwnedClient adds Close for callers that own the
// client's lifetime.
package mcp
