package session

import "sync"

//Registry is a process-wide index of active sessions by info hash. It holds
//non-owning references: sessions add themselves in New and remove themselves
//in Close, callers only look up. External protocol routing (e.g. an incoming
//handshake) uses Lookup to find the session a message belongs to.
type Registry struct {
	mu       sync.Mutex
	sessions map[[20]byte]*Session
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[[20]byte]*Session),
	}
}

//defaultRegistry serves sessions whose Config carries no explicit registry.
var defaultRegistry = NewRegistry()

//Lookup returns the active session for the given info hash.
func (r *Registry) Lookup(infoHash [20]byte) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[infoHash]
	return s, ok
}

//Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

//register panics with *InvariantViolation if a session with the same info
//hash is already present. Two live sessions for one content id is a
//programming error, not an input error.
func (r *Registry) register(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.infoHash]; ok {
		violated("session with info hash %x already registered", s.infoHash)
	}
	r.sessions[s.infoHash] = s
}

func (r *Registry) unregister(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.infoHash] == s {
		delete(r.sessions, s.infoHash)
	}
}
