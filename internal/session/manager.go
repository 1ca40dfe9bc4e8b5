// Package session resolves conversation state for completions and reaps
// idle sessions in the background.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"agenthub/internal/core"
	"agenthub/internal/store"
)

// Resolution is the outcome of resolving a request's session reference.
// Minted sessions are not persisted until EnsureCreated is called after the
// first successful completion.
type Resolution struct {
	ID      string
	Session *store.Session
	Minted  bool
}

// Manager validates session references and serializes per-session writes so
// concurrent completions on one session cannot interleave their message
// appends.
type Manager struct {
	store store.Store

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager creates a manager over the given store.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st, locks: make(map[string]*sessionLock)}
}

// Resolve maps a request's optional session id to a Resolution. An empty id
// mints a fresh identifier without persisting anything. A supplied id must
// name an existing, active session.
func (m *Manager) Resolve(ctx context.Context, sessionID string) (*Resolution, error) {
	if sessionID == "" {
		return &Resolution{ID: uuid.NewString(), Minted: true}, nil
	}

	session, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unknown session %q", sessionID), err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if session.Status != store.StatusActive {
		return nil, core.NewSessionClosedError(sessionID, string(session.Status))
	}
	return &Resolution{ID: sessionID, Session: session}, nil
}

// EnsureCreated persists a minted session after its first successful
// completion. Calling it for an existing session is a no-op.
func (m *Manager) EnsureCreated(ctx context.Context, res *Resolution, projectID string, kind store.SessionKind) error {
	if !res.Minted {
		return nil
	}
	err := m.store.CreateSession(ctx, &store.Session{
		ID:        res.ID,
		ProjectID: projectID,
		Kind:      kind,
		Status:    store.StatusActive,
	})
	if errors.Is(err, store.ErrSessionExists) {
		return nil
	}
	return err
}

// History returns the session's stored messages in append order, converted to
// the common message shape. A minted session has no history.
func (m *Manager) History(ctx context.Context, res *Resolution) ([]core.Message, error) {
	if res.Minted {
		return nil, nil
	}
	stored, err := m.store.Messages(ctx, res.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	out := make([]core.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, core.Message{Role: msg.Role, Content: msg.Content})
	}
	return out, nil
}

// Lock acquires the per-session mutex and returns its release. Lock entries
// are dropped once the last holder releases, so the map stays bounded by
// in-flight requests.
func (m *Manager) Lock(sessionID string) (unlock func()) {
	m.mu.Lock()
	l, ok := m.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		m.locks[sessionID] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, sessionID)
		}
		m.mu.Unlock()
	}
}
