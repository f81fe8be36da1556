package session

import (
	"context"
	"errors"
	"sync"
)

// ErrActiveSession is returned when a token already has a live connection.
var ErrActiveSession = errors.New("session: interview already has an active connection")

// Handle is what the registry can do to a running session from the outside.
type Handle struct {
	Cancel func()
	Warn   func(message string) error
}

// Registry tracks one live session per interview token. A second connection
// for the same token is rejected rather than evicting the first; the first
// connection keeps the authoritative session state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*trackedSession
	wg       sync.WaitGroup
}

type trackedSession struct {
	handle Handle
	once   sync.Once
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*trackedSession),
	}
}

func (r *Registry) Register(token string, h Handle) (unregister func(), err error) {
	entry := &trackedSession{handle: h}

	r.mu.Lock()
	if _, exists := r.sessions[token]; exists {
		r.mu.Unlock()
		return nil, ErrActiveSession
	}
	r.sessions[token] = entry
	r.wg.Add(1)
	r.mu.Unlock()

	return func() { r.unregister(token, entry) }, nil
}

func (r *Registry) unregister(token string, entry *trackedSession) {
	entry.once.Do(func() {
		r.mu.Lock()
		if r.sessions[token] == entry {
			delete(r.sessions, token)
		}
		r.mu.Unlock()
		r.wg.Done()
	})
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) WarnAll(message string) (sent int) {
	var warns []func(message string) error
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry.handle.Warn == nil {
			continue
		}
		warns = append(warns, entry.handle.Warn)
	}
	r.mu.Unlock()

	for _, warn := range warns {
		_ = warn(message)
		sent++
	}
	return sent
}

func (r *Registry) CancelAll() (canceled int) {
	var cancels []func()
	r.mu.Lock()
	for _, entry := range r.sessions {
		if entry.handle.Cancel == nil {
			continue
		}
		cancels = append(cancels, entry.handle.Cancel)
	}
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every registered session has unregistered or the context
// expires.
func (r *Registry) Wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
