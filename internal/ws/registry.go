package ws

import "sync"

// Registry is the set of display sessions currently eligible for broadcast.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[*Session]struct{})}
}

// Admit adds s and reports whether it was newly added.
func (r *Registry) Admit(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s]; ok {
		return false
	}
	r.sessions[s] = struct{}{}
	return true
}

// Evict removes s and reports whether it was present.
func (r *Registry) Evict(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s]; !ok {
		return false
	}
	delete(r.sessions, s)
	return true
}

// Snapshot returns a copy of the current members. Later Admit or Evict
// calls do not affect the returned slice.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for s := range r.sessions {
		out = append(out, s)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
