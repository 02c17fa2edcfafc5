// Package config provides the server configuration model and the stores
// that supply it.
package config

import (
	"maps"
	"net/url"
	"slices"

	"github.com/wagiedev/mcphub/internal/errors"
)

// DefaultScope is the scope assigned to servers that do not name one.
const DefaultScope = "default"

// Transport is the way a configured server is reached.
type Transport string

const (
	// TransportStdio runs the server as a local subprocess speaking
	// line-delimited JSON-RPC over stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportHTTP posts one JSON-RPC envelope per request to a remote URL.
	TransportHTTP Transport = "http"
)

// ServerConfig describes one external MCP server. A client holds an
// immutable snapshot; changing a server requires invalidating its client.
type ServerConfig struct {
	ID        string    `yaml:"id" json:"id"`
	Name      string    `yaml:"name" json:"name"`
	Scope     string    `yaml:"scope,omitempty" json:"scope,omitempty"`
	Transport Transport `yaml:"transport" json:"transport"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`

	// Stdio connection parameters.
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Cwd     string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// HTTP connection parameters. BearerSecret is a secret reference such
	// as "env:TOKEN" or "keyring:service/user", never the token itself.
	URL          string `yaml:"url,omitempty" json:"url,omitempty"`
	BearerSecret string `yaml:"bearer_secret,omitempty" json:"-"`
}

// EffectiveScope returns the scope, or DefaultScope when none is set.
func (c ServerConfig) EffectiveScope() string {
	if c.Scope == "" {
		return DefaultScope
	}

	return c.Scope
}

// InScope reports whether the server belongs to scope. An empty scope
// matches every server.
func (c ServerConfig) InScope(scope string) bool {
	return scope == "" || c.EffectiveScope() == scope
}

// Validate checks that the connection parameters for the transport are
// present. It runs before any process is spawned or request is sent.
func (c ServerConfig) Validate() error {
	if c.ID == "" {
		return &errors.ConfigurationError{ServerID: c.Name, Field: "id", Reason: "is required"}
	}

	if c.Name == "" {
		return &errors.ConfigurationError{ServerID: c.ID, Field: "name", Reason: "is required"}
	}

	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return &errors.ConfigurationError{ServerID: c.ID, Field: "command", Reason: "is required for stdio servers"}
		}

	case TransportHTTP:
		if c.URL == "" {
			return &errors.ConfigurationError{ServerID: c.ID, Field: "url", Reason: "is required for http servers"}
		}

		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &errors.ConfigurationError{ServerID: c.ID, Field: "url", Reason: "must be an absolute http(s) URL"}
		}

	default:
		return &errors.ConfigurationError{
			ServerID: c.ID,
			Field:    "transport",
			Reason:   "must be \"stdio\" or \"http\", got \"" + string(c.Transport) + "\"",
		}
	}

	return nil
}

// Clone returns a copy that shares no slices or maps with c.
func (c ServerConfig) Clone() ServerConfig {
	c.Args = slices.Clone(c.Args)
	c.Env = maps.Clone(c.Env)

	return c
}

// Equal reports whether two configurations describe the same server.
func (c ServerConfig) Equal(o ServerConfig) bool {
	return c.ID == o.ID &&
		c.Name == o.Name &&
		c.EffectiveScope() == o.EffectiveScope() &&
		c.Transport == o.Transport &&
		c.Enabled == o.Enabled &&
		c.Command == o.Command &&
		slices.Equal(c.Args, o.Args) &&
		c.Cwd == o.Cwd &&
		maps.Equal(c.Env, o.Env) &&
		c.URL == o.URL &&
		c.BearerSecret == o.BearerSecret
}

// Diff returns the ids of servers that changed or disappeared between two
// snapshots. Servers that are only new in next are not included since no
// client can exist for them yet.
func Diff(prev, next []ServerConfig) []string {
	index := make(map[string]ServerConfig, len(next))
	for _, s := range next {
		index[s.ID] = s
	}

	var changed []string

	for _, old := range prev {
		cur, ok := index[old.ID]
		if !ok || !old.Equal(cur) {
			changed = append(changed, old.ID)
		}
	}

	return changed
}
