package bridge

import (
	"errors"
	"log/slog"
	"sync"
)

// ErrDuplicateCall is returned by Register when a session already exists for
// the call id. A duplicate id is a carrier-side anomaly, not a normal race;
// the existing session is left untouched.
var ErrDuplicateCall = errors.New("bridge: call id already registered")

// Registry is the process-wide table of live sessions keyed by carrier call
// id. It holds non-owning references: removing an entry never tears down the
// session — the session's own Close does that and then deregisters itself.
//
// All methods are safe for concurrent use. The registry is not on the audio
// path, so a single mutex is sufficient.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register adds s under id. Returns [ErrDuplicateCall] (after logging the
// anomaly) if a live session already holds the id.
func (r *Registry) Register(id string, s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		slog.Warn("bridge: duplicate call id from carrier, keeping existing session", "call_id", id)
		return ErrDuplicateCall
	}
	r.sessions[id] = s
	return nil
}

// Lookup returns the session registered under id, or nil.
func (r *Registry) Lookup(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Deregister removes id. A no-op when absent, so teardown paths that race
// each other stay idempotent.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// ActiveIDs returns the call ids of all live sessions, in no particular order.
func (r *Registry) ActiveIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
