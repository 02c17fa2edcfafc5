package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wagiedev/mcphub/internal/errors"
	"github.com/wagiedev/mcphub/internal/jsonrpc"
)

// Outcome is the single resolution of a pending request.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// Pending tracks outgoing requests awaiting a response. Each id resolves at
// most once; the entry is removed on resolve, cancel or FailAll.
type Pending struct {
	mu      sync.Mutex
	entries map[string]chan Outcome
	failed  error
}

// NewPending creates an empty table.
func NewPending() *Pending {
	return &Pending{
		entries: make(map[string]chan Outcome, 10),
	}
}

// Register adds an entry for id and returns the channel its outcome will be
// delivered on. After FailAll, Register returns the failure immediately.
func (p *Pending) Register(id jsonrpc.ID) (<-chan Outcome, error) {
	key := jsonrpc.Key(id)
	if key == "" {
		return nil, fmt.Errorf("register pending request: missing id")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed != nil {
		return nil, p.failed
	}

	if _, exists := p.entries[key]; exists {
		return nil, fmt.Errorf("register pending request %s: %w", key, errors.ErrDuplicateResolution)
	}

	ch := make(chan Outcome, 1)
	p.entries[key] = ch

	return ch, nil
}

// Resolve delivers a response envelope to the entry with the same id. It
// reports whether a waiting entry was found.
func (p *Pending) Resolve(env jsonrpc.Envelope) bool {
	var outcome Outcome

	switch env.Kind {
	case jsonrpc.KindResponse:
		outcome.Result = env.Result
	case jsonrpc.KindErrorResponse:
		outcome.Err = &errors.RPCError{Code: env.Error.Code, Message: env.Error.Message}
	default:
		return false
	}

	return p.deliver(jsonrpc.Key(env.ID), outcome)
}

// Cancel removes the entry for id without resolving it. Other entries are
// untouched.
func (p *Pending) Cancel(id jsonrpc.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := jsonrpc.Key(id)

	if _, ok := p.entries[key]; !ok {
		return false
	}

	delete(p.entries, key)

	return true
}

// FailAll resolves every remaining entry with err and makes later Register
// calls fail with it too. It returns the number of entries failed.
func (p *Pending) FailAll(err error) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed == nil {
		p.failed = err
	}

	n := len(p.entries)

	for key, ch := range p.entries {
		ch <- Outcome{Err: err}

		delete(p.entries, key)
	}

	return n
}

// Len returns the number of entries still awaiting a response.
func (p *Pending) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.entries)
}

func (p *Pending) deliver(key string, outcome Outcome) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.entries[key]
	if !ok {
		return false
	}

	delete(p.entries, key)

	// Buffered with capacity one and only ever sent to once.
	ch <- outcome

	return true
}
