package config

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
)

// ErrServerNotFound is returned by Store.Get for an unknown id.
var ErrServerNotFound = stderrors.New("server not found")

// Store supplies server configuration. Persistence is owned by the
// implementation; the hub only reads snapshots.
type Store interface {
	// List returns every configured server in scope, enabled or not. An
	// empty scope returns servers from every scope.
	List(ctx context.Context, scope string) ([]ServerConfig, error)

	// Get returns the server with id, or ErrServerNotFound.
	Get(ctx context.Context, id string) (ServerConfig, error)
}

// Compile-time verification that the stores implement Store.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	servers []ServerConfig
}

// NewMemoryStore creates a store holding servers.
func NewMemoryStore(servers ...ServerConfig) *MemoryStore {
	return &MemoryStore{servers: slices.Clone(servers)}
}

// List implements Store.
func (s *MemoryStore) List(_ context.Context, scope string) ([]ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ServerConfig, 0, len(s.servers))

	for _, srv := range s.servers {
		if srv.InScope(scope) {
			out = append(out, srv)
		}
	}

	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, srv := range s.servers {
		if srv.ID == id {
			return srv, nil
		}
	}

	return ServerConfig{}, fmt.Errorf("%w: %s", ErrServerNotFound, id)
}

// Put adds or replaces the server with the same id.
func (s *MemoryStore) Put(cfg ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, srv := range s.servers {
		if srv.ID == cfg.ID {
			s.servers[i] = cfg

			return
		}
	}

	s.servers = append(s.servers, cfg)
}

// Delete removes the server with id. It reports whether it existed.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.servers)
	s.servers = slices.DeleteFunc(s.servers, func(srv ServerConfig) bool { return srv.ID == id })

	return len(s.servers) != before
}

// Replace swaps the whole snapshot and returns the ids that changed or were
// removed.
func (s *MemoryStore) Replace(servers []ServerConfig) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := Diff(s.servers, servers)
	s.servers = slices.Clone(servers)

	return changed
}
