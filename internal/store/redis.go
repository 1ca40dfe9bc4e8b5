package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions as hashes and message/cost logs as lists.
// Message sequence numbers are positional: RPUSH returns the new log length,
// which is the appended message's sequence, and reads derive sequence from
// the list index.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store over an existing client. Keys are namespaced
// under the given prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "agenthub"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) sessionKey(id string) string  { return fmt.Sprintf("%s:session:%s", s.prefix, id) }
func (s *RedisStore) messagesKey(id string) string { return fmt.Sprintf("%s:messages:%s", s.prefix, id) }
func (s *RedisStore) costsKey(id string) string    { return fmt.Sprintf("%s:costs:%s", s.prefix, id) }
func (s *RedisStore) activeKey() string            { return s.prefix + ":sessions:active" }

func (s *RedisStore) CreateSession(ctx context.Context, session *Session) error {
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

	key := s.sessionKey(cp.ID)
	created, err := s.client.HSetNX(ctx, key, "kind", string(cp.Kind)).Result()
	if err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if !created {
		return ErrSessionExists
	}

	fields := map[string]any{
		"project_id":  cp.ProjectID,
		"status":      string(cp.Status),
		"agent_slug":  cp.AgentSlug,
		"external_id": cp.ExternalID,
		"created_at":  cp.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  cp.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis create session: %w", err)
	}
	if cp.Status == StatusActive {
		if err := s.client.SAdd(ctx, s.activeKey(), cp.ID).Err(); err != nil {
			return fmt.Errorf("redis index session: %w", err)
		}
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, id string) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrSessionNotFound
	}

	session := &Session{
		ID:         id,
		ProjectID:  fields["project_id"],
		Kind:       SessionKind(fields["kind"]),
		Status:     SessionStatus(fields["status"]),
		AgentSlug:  fields["agent_slug"],
		ExternalID: fields["external_id"],
	}
	if session.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode session created_at: %w", err)
	}
	if session.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("decode session updated_at: %w", err)
	}
	return session, nil
}

func (s *RedisStore) UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error {
	if err := s.requireSession(ctx, id); err != nil {
		return err
	}

	fields := map[string]any{
		"status":     string(status),
		"updated_at": s.now().Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.sessionKey(id), fields).Err(); err != nil {
		return fmt.Errorf("redis update session: %w", err)
	}

	var err error
	if status == StatusActive {
		err = s.client.SAdd(ctx, s.activeKey(), id).Err()
	} else {
		err = s.client.SRem(ctx, s.activeKey(), id).Err()
	}
	if err != nil {
		return fmt.Errorf("redis index session: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendMessage(ctx context.Context, sessionID string, msg *Message) (int, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return 0, err
	}

	cp := *msg
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	cp.Sequence = 0
	raw, err := json.Marshal(&cp)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	length, err := s.client.RPush(ctx, s.messagesKey(sessionID), raw).Result()
	if err != nil {
		return 0, fmt.Errorf("redis append message: %w", err)
	}
	if err := s.client.HSet(ctx, s.sessionKey(sessionID), "updated_at", cp.CreatedAt.Format(time.RFC3339Nano)).Err(); err != nil {
		return 0, fmt.Errorf("redis touch session: %w", err)
	}
	return int(length), nil
}

func (s *RedisStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	if err := s.requireSession(ctx, sessionID); err != nil {
		return nil, err
	}

	raws, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read messages: %w", err)
	}
	out := make([]Message, 0, len(raws))
	for i, raw := range raws {
		var msg Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", i, err)
		}
		msg.Sequence = i + 1
		out = append(out, msg)
	}
	return out, nil
}

func (s *RedisStore) AppendCostRecord(ctx context.Context, rec *CostRecord) error {
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	raw, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("encode cost record: %w", err)
	}
	if err := s.client.RPush(ctx, s.costsKey(rec.SessionID), raw).Err(); err != nil {
		return fmt.Errorf("redis append cost record: %w", err)
	}
	return nil
}

func (s *RedisStore) CostRecords(ctx context.Context, sessionID string) ([]CostRecord, error) {
	raws, err := s.client.LRange(ctx, s.costsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis read cost records: %w", err)
	}
	out := make([]CostRecord, 0, len(raws))
	for i, raw := range raws {
		var rec CostRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode cost record %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) ActiveSessions(ctx context.Context) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, s.activeKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list active sessions: %w", err)
	}

	out := make([]*Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.GetSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// Stale index entry, drop it.
			s.client.SRem(ctx, s.activeKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if session.Status == StatusActive {
			out = append(out, session)
		}
	}
	return out, nil
}

func (s *RedisStore) requireSession(ctx context.Context, id string) error {
	n, err := s.client.Exists(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("redis check session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}
