// Package protocol correlates JSON-RPC responses with the calls that are
// waiting for them.
//
// A Pending table maps request ids to single-use result channels. Callers
// register before writing a request and await the result; the reader that
// owns the transport resolves entries as responses arrive and fails every
// remaining entry when the transport disconnects.
//
// Example usage:
//
//	pending := protocol.NewPending()
//
//	req, _ := jsonrpc.BuildRequest("tools/list", nil)
//	result, err := protocol.Call(ctx, pending, transport.Write, req, time.Minute)
package protocol
