// Package resilience holds the provider health machinery: the error tracker
// that spots consecutive identical failures (thrashing) and the per-provider
// circuit breaker the chain executor consults before every call.
package resilience

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// ErrorSignature identifies a failure class: what kind of error, where, and
// an 8-byte digest of the normalized message. Two failures with the same
// signature are the same problem repeating.
type ErrorSignature struct {
	Kind     string
	Provider string
	Model    string
	Hash     string
}

func (s ErrorSignature) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", s.Kind, s.Provider, s.Model, s.Hash)
}

var whitespaceRE = regexp.MustCompile(`\s+`)

// normalizeMessage folds case and whitespace so cosmetic differences in
// vendor error text do not split one failure mode into many signatures.
// Digits are kept: different upstream status codes are different problems.
func normalizeMessage(msg string) string {
	return whitespaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(msg)), " ")
}

// NewSignature computes the signature for a failure.
func NewSignature(kind, provider, model, message string) ErrorSignature {
	sum := md5.Sum([]byte(normalizeMessage(message)))
	return ErrorSignature{
		Kind:     kind,
		Provider: provider,
		Model:    model,
		Hash:     hex.EncodeToString(sum[:8]),
	}
}

// TrackerConfig configures the error tracker.
type TrackerConfig struct {
	// Capacity bounds the recent-error deque.
	Capacity int
	// ThrashingThreshold is the consecutive-identical run length that counts
	// as thrashing.
	ThrashingThreshold int
	// OnThrashing is called once per run when the threshold is reached.
	// Optional; wired to the thrashing counter in production.
	OnThrashing func(provider, model string)
}

// DefaultTrackerConfig returns the stock tracker settings.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{Capacity: 10, ThrashingThreshold: 2}
}

// Tracker keeps a bounded deque of recent error signatures and reports how
// many identical failures in a row each new one completes. The signal is
// observational: it feeds metrics, never the circuit.
type Tracker struct {
	mu      sync.Mutex
	entries []ErrorSignature
	cfg     TrackerConfig
}

// NewTracker creates a tracker. Zero or negative config values fall back to
// the defaults.
func NewTracker(cfg TrackerConfig) *Tracker {
	def := DefaultTrackerConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.ThrashingThreshold <= 0 {
		cfg.ThrashingThreshold = def.ThrashingThreshold
	}
	return &Tracker{
		entries: make([]ErrorSignature, 0, cfg.Capacity),
		cfg:     cfg,
	}
}

// Record appends a signature and returns the length of the consecutive
// identical run it completes (1 for a fresh failure mode). Exactly at the
// thrashing threshold the OnThrashing callback fires; longer runs stay
// silent until a different signature breaks them.
func (t *Tracker) Record(sig ErrorSignature) int {
	t.mu.Lock()

	consecutive := 0
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i] != sig {
			break
		}
		consecutive++
	}

	if len(t.entries) >= t.cfg.Capacity {
		t.entries = t.entries[1:]
	}
	t.entries = append(t.entries, sig)

	run := consecutive + 1
	thrashing := run == t.cfg.ThrashingThreshold
	callback := t.cfg.OnThrashing
	t.mu.Unlock()

	if thrashing && callback != nil {
		callback(sig.Provider, sig.Model)
	}
	return run
}

// Recent returns a copy of the deque, oldest first.
func (t *Tracker) Recent() []ErrorSignature {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ErrorSignature, len(t.entries))
	copy(out, t.entries)
	return out
}
