package chat

import (
	"context"
	"sync"
	"sync/atomic"
)

// Registry tracks the active run per session so an out-of-band stop request
// can reach the generation loop. It is the only shared mutable structure in
// the core and must be constructed once and injected; there is no package
// global.
type Registry struct {
	mu     sync.Mutex
	active map[string]*Run
	seq    int64
}

// Run is the cancellation handle of one in-flight generation. The flag is
// one-way: once set it stays set for the lifetime of the run.
type Run struct {
	sessionID string
	id        int64
	cancelled atomic.Bool
	cancel    context.CancelFunc
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]*Run)}
}

// Register installs a new run for the session, overwriting any prior entry.
// The overwritten run keeps running but can no longer be reached by Stop.
// The returned context is cancelled when the run is stopped, so the
// completion connection drops promptly instead of draining.
func (r *Registry) Register(ctx context.Context, sessionID string) (*Run, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.seq++
	run := &Run{sessionID: sessionID, id: r.seq, cancel: cancel}
	r.active[sessionID] = run
	r.mu.Unlock()
	return run, runCtx
}

// Cancel flips the cancellation flag of the session's current run and drops
// its stream context. It reports whether an active run existed. Cancellation
// is cooperative: the generation loop observes the flag on its next
// iteration, and already-persisted mutations are never rolled back.
func (r *Registry) Cancel(sessionID string) bool {
	r.mu.Lock()
	run := r.active[sessionID]
	r.mu.Unlock()
	if run == nil {
		return false
	}
	run.cancelled.Store(true)
	run.cancel()
	return true
}

// Release removes the run's registry entry. The entry is keyed by session id
// but guarded by run identity: a stale run overwritten by a newer submit
// cannot unregister the newer run's entry.
func (r *Registry) Release(run *Run) {
	if run == nil {
		return
	}
	r.mu.Lock()
	if cur := r.active[run.sessionID]; cur == run {
		delete(r.active, run.sessionID)
	}
	r.mu.Unlock()
	run.cancel()
}

// Cancelled reports whether a stop was requested for this run.
func (run *Run) Cancelled() bool {
	return run.cancelled.Load()
}
