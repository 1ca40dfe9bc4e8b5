// Package cache memoizes completion results keyed by a request fingerprint,
// with at-most-one concurrent build per fingerprint and an explicit
// cacheability policy. Backends are pluggable: a process-local TTL+LRU map
// by default, Redis when the deployment wants shared state.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"agenthub/internal/core"
)

// canonicalRequest is the fingerprint input: exactly the fields that
// determine a completion, nothing session-scoped. encoding/json sorts map
// keys, so extras serialize identically regardless of insertion order.
type canonicalRequest struct {
	Model         string             `json:"model"`
	Messages      []core.Message     `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   *float64           `json:"temperature,omitempty"`
	ThinkingLevel core.ThinkingLevel `json:"thinking_level,omitempty"`
	Extras        map[string]any     `json:"extras,omitempty"`
}

// Fingerprint computes the cache key for a request served with the given
// resolved model. Semantically equal requests produce identical
// fingerprints: the hash runs over canonical JSON with stable field and map
// ordering.
func Fingerprint(req *core.CompletionRequest, model string) (string, error) {
	canonical := canonicalRequest{
		Model:         model,
		Messages:      req.Messages,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		ThinkingLevel: req.ThinkingLevel,
	}
	if len(req.Extras) > 0 {
		canonical.Extras = req.Extras
	}

	data, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
