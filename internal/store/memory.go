package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps all state in process memory. It is the default backend
// and the one used by tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]Message
	costs    map[string][]CostRecord

	now func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]Message),
		costs:    make(map[string][]CostRecord),
		now:      time.Now,
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.ID]; ok {
		return ErrSessionExists
	}
	cp := *session
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	if cp.Status == "" {
		cp.Status = StatusActive
	}
	s.sessions[session.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *session
	return &cp, nil
}

func (s *MemoryStore) UpdateSessionStatus(_ context.Context, id string, status SessionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	session.Status = status
	session.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, sessionID string, msg *Message) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return 0, ErrSessionNotFound
	}

	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.Sequence = len(s.messages[sessionID]) + 1
	s.messages[sessionID] = append(s.messages[sessionID], cp)
	session.UpdatedAt = cp.CreatedAt
	return cp.Sequence, nil
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	out := make([]Message, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

func (s *MemoryStore) AppendCostRecord(_ context.Context, rec *CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.costs[rec.SessionID] = append(s.costs[rec.SessionID], cp)
	return nil
}

func (s *MemoryStore) CostRecords(_ context.Context, sessionID string) ([]CostRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CostRecord, len(s.costs[sessionID]))
	copy(out, s.costs[sessionID])
	return out, nil
}

func (s *MemoryStore) ActiveSessions(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Session
	for _, session := range s.sessions {
		if session.Status == StatusActive {
			cp := *session
			out = append(out, &cp)
		}
	}
	return out, nil
}
