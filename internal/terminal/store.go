package terminal

import (
	"sync"
	"time"

	"github.com/jae464/vibe-judge/internal/domain"
	"github.com/jae464/vibe-judge/internal/isolation"
)

// Handle binds a session to the environment it owns exclusively.
type Handle struct {
	Env *isolation.Environment

	mu       sync.Mutex
	session  domain.Session
	inflight int
	closing  bool
}

func newHandle(s domain.Session, env *isolation.Environment) *Handle {
	return &Handle{session: s, Env: env}
}

// Session returns a copy of the session record.
func (h *Handle) Session() domain.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// begin marks a command in flight. It fails once the session is closing.
func (h *Handle) begin(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.inflight++
	h.session.LastActivityAt = now
	return true
}

func (h *Handle) end(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inflight--
	h.session.LastActivityAt = now
}

// claimIdle marks the handle closing if it has been idle since before cutoff
// and has no command in flight.
func (h *Handle) claimIdle(cutoff time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing || h.inflight > 0 || !h.session.LastActivityAt.Before(cutoff) {
		return false
	}
	h.closing = true
	return true
}

// claim marks the handle closing. It reports false if another caller got there first.
func (h *Handle) claim() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.closing = true
	return true
}

// Store is the session table. Implementations must be safe for concurrent use.
type Store interface {
	Put(h *Handle)
	Get(id string) (*Handle, bool)
	Delete(id string) (*Handle, bool)
	List() []*Handle
	// Count returns the number of sessions owned by ownerID, or all sessions if ownerID is empty.
	Count(ownerID string) int
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Handle
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Handle)}
}

func (s *MemoryStore) Put(h *Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[h.Session().ID] = h
}

func (s *MemoryStore) Get(id string) (*Handle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.sessions[id]
	return h, ok
}

func (s *MemoryStore) Delete(id string) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	return h, ok
}

func (s *MemoryStore) List() []*Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Handle, 0, len(s.sessions))
	for _, h := range s.sessions {
		out = append(out, h)
	}
	return out
}

func (s *MemoryStore) Count(ownerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ownerID == "" {
		return len(s.sessions)
	}
	n := 0
	for _, h := range s.sessions {
		if h.Session().OwnerID == ownerID {
			n++
		}
	}
	return n
}
