package chatsync

import (
	"context"
	"sync"
)

// InFlightEntry represents one pending request shared between all callers
// that issued the same key before it settled.
type InFlightEntry struct {
	response *Response
	err      error
	done     chan struct{}
	mu       sync.Mutex
	waiters  int
}

// InFlightTracker maps key hashes to their single pending entry. At most one
// entry exists per key at any instant; entries are removed the moment they
// settle so a follow-up request starts a fresh transport call.
type InFlightTracker struct {
	mu      sync.Mutex
	entries map[string]*InFlightEntry
}

// NewInFlightTracker returns an empty in-memory tracker.
func NewInFlightTracker() *InFlightTracker {
	return &InFlightTracker{
		entries: make(map[string]*InFlightEntry),
	}
}

// GetOrCreateEntry returns an existing entry (owner=false) or creates a new
// one (owner=true). The owner is responsible for calling Complete.
func (t *InFlightTracker) GetOrCreateEntry(key string) (*InFlightEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &InFlightEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	t.entries[key] = entry
	return entry, true
}

// Complete settles an entry, releases every waiter and removes the entry
// immediately. Moments later an identical key is a brand-new request.
func (t *InFlightTracker) Complete(key string, resp *Response, err error) {
	t.mu.Lock()
	entry, exists := t.entries[key]
	delete(t.entries, key)
	t.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.response = resp
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()
}

// Len reports the number of keys currently in flight.
func (t *InFlightTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Wait blocks until the owning request settles or the waiter's own context
// is cancelled. Every waiter observes the identical outcome, value or error.
func (entry *InFlightEntry) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		resp := entry.response
		err := entry.err
		entry.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
