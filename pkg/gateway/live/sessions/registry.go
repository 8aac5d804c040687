// Package sessions tracks the live call sessions attached to the server so
// shutdown can warn them, wait for them, and finally cancel the stragglers.
package sessions

import (
	"context"
	"sync"
)

// Session is the subset of a live call session the registry drives while the
// server drains.
type Session interface {
	Cancel()
	SendWarning(code, message string) error
}

// Registry is a concurrency-safe set of live sessions keyed by session id.
// The zero value and a nil registry are both usable no-ops.
type Registry struct {
	mu   sync.Mutex
	live map[string]*member
	wg   sync.WaitGroup
}

type member struct {
	session Session
	release sync.Once
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[string]*member)}
}

// Add registers a session under its id and returns the matching remove
// function. Remove is idempotent. Adding a second session under an id already
// in use releases the first; ids are ULIDs, so that only happens in tests.
func (r *Registry) Add(id string, s Session) (remove func()) {
	if r == nil {
		return func() {}
	}
	m := &member{session: s}

	r.mu.Lock()
	if r.live == nil {
		r.live = make(map[string]*member)
	}
	prev := r.live[id]
	r.live[id] = m
	r.wg.Add(1)
	r.mu.Unlock()

	if prev != nil {
		r.remove(id, prev)
	}
	return func() { r.remove(id, m) }
}

func (r *Registry) remove(id string, m *member) {
	m.release.Do(func() {
		r.mu.Lock()
		if r.live[id] == m {
			delete(r.live, id)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

// Len reports how many sessions are live right now.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Registry) snapshot() []Session {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.live))
	for _, m := range r.live {
		if m.session != nil {
			out = append(out, m.session)
		}
	}
	return out
}

// Broadcast sends a warning frame to every live session and reports how many
// sessions were reached. A failed write is the session's own signal that its
// browser is gone; the broadcast does not care.
func (r *Registry) Broadcast(code, message string) int {
	snap := r.snapshot()
	for _, s := range snap {
		_ = s.SendWarning(code, message)
	}
	return len(snap)
}

// CancelAll tears down every live session and reports how many were told.
func (r *Registry) CancelAll() int {
	snap := r.snapshot()
	for _, s := range snap {
		s.Cancel()
	}
	return len(snap)
}

// Wait blocks until every registered session has been removed or ctx ends,
// and reports whether the registry drained fully.
func (r *Registry) Wait(ctx context.Context) bool {
	if r == nil {
		return true
	}
	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	if ctx == nil {
		<-drained
		return true
	}
	select {
	case <-drained:
		return true
	case <-ctx.Done():
		return false
	}
}
