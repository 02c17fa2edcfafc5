package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
)

// session is one open SSE stream. Responses to POSTs made against it are
// queued and written by the stream's handler goroutine.
type session struct {
	id    string
	scope string

	ctx    context.Context
	cancel context.CancelFunc

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(scope string, size int) *session {
	ctx, cancel := context.WithCancel(context.Background())

	return &session{
		id:     uuid.NewString(),
		scope:  scope,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan []byte, size),
		done:   make(chan struct{}),
	}
}

// enqueue blocks while the queue is full and drops the payload once the
// session has closed.
func (sess *session) enqueue(payload []byte) {
	select {
	case sess.queue <- payload:
	case <-sess.done:
	}
}

func (sess *session) close() {
	sess.closeOnce.Do(func() {
		sess.cancel()
		close(sess.done)
	})
}

func (s *Server) session(id string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]

	return sess, ok
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.sessions[sess.id] = sess

	return true
}

func (s *Server) remove(sess *session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	sess.close()
}

// endpointURL is the POST URL advertised in the endpoint event.
func (s *Server) endpointURL(sess *session) string {
	q := url.Values{"session": {sess.id}}
	if sess.scope != "" {
		q.Set("scope", sess.scope)
	}

	return s.public + s.base + "/messages?" + q.Encode()
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)

		return
	}

	sess := newSession(r.URL.Query().Get("scope"), s.queue)
	if !s.register(sess) {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)

		return
	}

	defer s.remove(sess)

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	log := s.log.With("session", sess.id)
	log.Info("SSE session opened", "scope", sess.scope, "remote", r.RemoteAddr)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", s.endpointURL(sess)); err != nil {
		log.Debug("Failed to write endpoint event", "error", err)

		return
	}

	flusher.Flush()

	ticker := time.NewTicker(s.keep)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Info("SSE session closed by client")

			return

		case <-sess.done:
			log.Info("SSE session closed by server")

			return

		case payload := <-sess.queue:
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload); err != nil {
				log.Debug("Failed to write message event", "error", err)

				return
			}

			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				log.Debug("Failed to write keep-alive", "error", err)

				return
			}

			flusher.Flush()
		}
	}
}
