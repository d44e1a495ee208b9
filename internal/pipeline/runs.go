package pipeline

import (
	"context"
	"sync"
)

// run is one registered pipeline execution.
type run struct {
	cancel context.CancelFunc
}

// Runs tracks the in-flight pipeline run per chat so a later directive can
// cancel it. Starting a new run for a chat cancels the previous one.
type Runs struct {
	mu     sync.Mutex
	active map[string]*run
}

// NewRuns creates an empty registry.
func NewRuns() *Runs {
	return &Runs{active: make(map[string]*run)}
}

// Start registers a new run for the chat and returns its context. Any run
// already registered for the chat is cancelled first. The returned done
// function must be called when the run finishes.
func (r *Runs) Start(parent context.Context, chatID string) (ctx context.Context, done func()) {
	ctx, cancel := context.WithCancel(parent)
	this := &run{cancel: cancel}

	r.mu.Lock()
	if prev, ok := r.active[chatID]; ok {
		prev.cancel()
	}
	r.active[chatID] = this
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		// Only clear the slot if it still belongs to this run.
		if r.active[chatID] == this {
			delete(r.active, chatID)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the chat's in-flight run, if any, and reports whether one
// was running.
func (r *Runs) Cancel(chatID string) bool {
	r.mu.Lock()
	current, ok := r.active[chatID]
	if ok {
		delete(r.active, chatID)
	}
	r.mu.Unlock()

	if ok {
		current.cancel()
	}
	return ok
}

// ActiveCount returns the number of chats with a run in flight.
func (r *Runs) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}
