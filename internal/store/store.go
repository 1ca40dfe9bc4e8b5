// Package store persists sessions, their ordered message logs, and cost
// records. Circuit state and the response cache are process-local and never
// stored here.
package store

import (
	"context"
	"errors"
	"time"

	"agenthub/internal/core"
)

// ErrSessionNotFound is returned for lookups against an unknown session id.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExists is returned when creating a session whose id is taken.
var ErrSessionExists = errors.New("session already exists")

// SessionStatus is the session lifecycle state.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// SessionKind determines which idle timeout applies to a session.
type SessionKind string

const (
	KindCompletion      SessionKind = "completion"
	KindChat            SessionKind = "chat"
	KindRoundtable      SessionKind = "roundtable"
	KindImageGeneration SessionKind = "image_generation"
	KindAgent           SessionKind = "agent"
)

// Session is the durable conversation anchor. It is mutated only by
// appending messages (which bumps UpdatedAt) and by status transitions.
type Session struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"project_id,omitempty"`
	Kind       SessionKind   `json:"kind"`
	Status     SessionStatus `json:"status"`
	AgentSlug  string        `json:"agent_slug,omitempty"`
	ExternalID string        `json:"external_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Message is one entry in a session's ordered log. Sequence is assigned by
// the store on append, starting at 1.
type Message struct {
	Sequence  int          `json:"sequence"`
	Role      string       `json:"role"`
	Content   core.Content `json:"content"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// CostRecord is the append-only accounting entry, one per served completion.
type CostRecord struct {
	SessionID    string    `json:"session_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence contract. Implementations must be safe for
// concurrent use; ordering within one session is the caller's concern.
type Store interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error

	// AppendMessage adds to the session's ordered log, assigns the new
	// sequence number, and bumps the session's UpdatedAt.
	AppendMessage(ctx context.Context, sessionID string, msg *Message) (int, error)
	Messages(ctx context.Context, sessionID string) ([]Message, error)

	AppendCostRecord(ctx context.Context, rec *CostRecord) error
	CostRecords(ctx context.Context, sessionID string) ([]CostRecord, error)

	// ActiveSessions lists sessions whose status is active, for the reaper
	// sweep. Order is unspecified.
	ActiveSessions(ctx context.Context) ([]*Session, error)
}
