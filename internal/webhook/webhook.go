// Package webhook fans gateway events out to subscriber URLs with signed,
// at-least-once delivery. Each subscription gets its own worker and bounded
// queue so a slow subscriber cannot block the rest.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventCompletionFinished is emitted after every served completion.
const EventCompletionFinished = "completion.finished"

const userAgent = "AgentHub-Webhook/1.0"

// Subscription is one configured webhook target.
type Subscription struct {
	ID     string
	URL    string
	Secret string
	// Events filters delivery by event type; empty receives everything.
	Events []string
}

// matches reports whether the subscription wants the event type. An empty
// filter matches everything.
func (s *Subscription) matches(eventType string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event is the payload handed to Dispatch. Data must be JSON-serializable.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Data      map[string]any
}

// Canonicalize serializes the event with deterministically sorted keys. The
// same event always produces the same bytes, so signatures are reproducible.
func Canonicalize(event Event) ([]byte, error) {
	envelope := map[string]any{
		"id":         event.ID,
		"event":      event.Type,
		"created_at": event.CreatedAt.UTC().Format(time.RFC3339),
		"data":       event.Data,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize event: %w", err)
	}
	return body, nil
}

// Sign computes the hex HMAC-SHA256 of body under the subscription secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// statusError reports a non-2xx delivery response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("subscriber returned status %d", e.code)
}

// retriable reports whether a delivery error is worth another attempt.
// Network errors and timeouts always are; of the HTTP statuses only 408, 429
// and 5xx.
func retriable(err error) bool {
	if se, ok := err.(*statusError); ok {
		return se.code == http.StatusRequestTimeout ||
			se.code == http.StatusTooManyRequests ||
			se.code >= 500
	}
	return true
}
