package registry

import (
	"strings"
)

const (
	// Prefix starts every namespaced tool name.
	Prefix = "mcp__"

	// Separator divides the server segment from the tool name.
	Separator = "__"

	// fallbackSegment stands in for server names with no usable characters.
	fallbackSegment = "server"
)

// Normalize converts a server name to its namespace segment: lowercase
// ASCII letters and digits, with every other run of characters folded into
// a single underscore and no underscore at either end.
//
// The result never contains Separator, so Split can always recover it.
// Distinct names may share a segment ("Echo MCP" and "echo-mcp").
func Normalize(server string) string {
	var b strings.Builder

	b.Grow(len(server))

	pending := false

	for _, r := range strings.ToLower(server) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}

			pending = false

			b.WriteRune(r)

			continue
		}

		pending = true
	}

	if b.Len() == 0 {
		return fallbackSegment
	}

	return b.String()
}

// Build returns the namespaced name of tool on server.
func Build(server, tool string) string {
	return Prefix + Normalize(server) + Separator + tool
}

// Split recovers the server segment and tool name from a namespaced name.
// It splits on the first separator after the prefix.
func Split(name string) (server, tool string, ok bool) {
	rest, found := strings.CutPrefix(name, Prefix)
	if !found {
		return "", "", false
	}

	server, tool, found = strings.Cut(rest, Separator)
	if !found || server == "" || tool == "" {
		return "", "", false
	}

	return server, tool, true
}

// IsMcpTool reports whether name is a namespaced registry tool. Every other
// name belongs to the local executor.
func IsMcpTool(name string) bool {
	_, _, ok := Split(name)

	return ok
}
