// Package logbuf keeps a bounded, per-server history of log entries.
package logbuf

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries retained per server.
const DefaultCapacity = 200

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo   Level = "info"
	LevelWarn   Level = "warn"
	LevelError  Level = "error"
	LevelStderr Level = "stderr"
)

// Entry is one retained log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Ring is a fixed-size FIFO of entries. When full, the oldest entry is
// evicted first. Ring is safe for concurrent use.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	now     func() time.Time
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	return &Ring{
		entries: make([]Entry, capacity),
		now:     time.Now,
	}
}

// Add appends an entry stamped with the current time.
func (r *Ring) Add(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = Entry{Timestamp: r.now(), Level: level, Message: message}
	r.next = (r.next + 1) % len(r.entries)

	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of retained entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.full {
		return len(r.entries)
	}

	return r.next
}

// Recent returns up to n of the most recent entries, oldest first.
// A non-positive n returns every retained entry.
func (r *Ring) Recent(n int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	start := 0

	if r.full {
		size = len(r.entries)
		start = r.next
	}

	if n <= 0 || n > size {
		n = size
	}

	out := make([]Entry, 0, n)
	for i := size - n; i < size; i++ {
		out = append(out, r.entries[(start+i)%len(r.entries)])
	}

	return out
}

// Store holds one ring per server id.
type Store struct {
	mu       sync.RWMutex
	capacity int
	rings    map[string]*Ring
}

// NewStore creates a store whose rings hold capacity entries each.
func NewStore(capacity int) *Store {
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*Ring),
	}
}

// For returns the ring for serverID, creating it on first use.
func (s *Store) For(serverID string) *Ring {
	s.mu.RLock()
	ring, ok := s.rings[serverID]
	s.mu.RUnlock()

	if ok {
		return ring
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ring, ok = s.rings[serverID]; ok {
		return ring
	}

	ring = NewRing(s.capacity)
	s.rings[serverID] = ring

	return ring
}

// Add appends an entry to the ring for serverID.
func (s *Store) Add(serverID string, level Level, message string) {
	s.For(serverID).Add(level, message)
}

// Recent returns up to n recent entries for serverID. Unknown servers
// yield an empty slice.
func (s *Store) Recent(serverID string, n int) []Entry {
	s.mu.RLock()
	ring, ok := s.rings[serverID]
	s.mu.RUnlock()

	if !ok {
		return []Entry{}
	}

	return ring.Recent(n)
}
