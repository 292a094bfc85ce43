package server

import "sync"

// registry tracks live sessions. The acceptor adds, sessions remove
// themselves on exit, Shutdown closes what is left.
type registry struct {
	mu       sync.Mutex
	sessions map[uint64]*session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[uint64]*session)}
}

func (r *registry) add(s *session) {
	r.mu.Lock()
	r.sessions[s.id] = s
	r.mu.Unlock()
}

func (r *registry) remove(id uint64) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// closeIdle closes sessions blocked waiting for a request and returns how
// many it closed.
func (r *registry) closeIdle() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if s.currentState() == stateReading {
			s.close()
			n++
		}
	}
	return n
}

// closeAll closes every registered session.
func (r *registry) closeAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		s.close()
	}
	return len(r.sessions)
}
