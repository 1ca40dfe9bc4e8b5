// Package core defines the shared contract between the gateway pipeline and
// the provider adapters: request and result shapes, the message content
// variant, the provider interface, and the error taxonomy.
package core

import (
	"context"
	"strings"
)

// Message roles understood by the gateway. Adapters translate these into
// vendor-specific role names (e.g. "model" for vendors that call the
// assistant that).
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ThinkingLevel selects how much extended-thinking budget an adapter should
// request from the vendor, for vendors that support it.
type ThinkingLevel string

const (
	ThinkingNone   ThinkingLevel = ""
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// Valid reports whether the level is one of the recognized values.
func (l ThinkingLevel) Valid() bool {
	switch l {
	case ThinkingNone, ThinkingLow, ThinkingMedium, ThinkingHigh:
		return true
	}
	return false
}

// Normalized finish reasons. Adapters map vendor stop reasons onto these;
// FinishLength marks a truncated response.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishToolUse       = "tool_use"
	FinishContentFilter = "content_filter"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string  `json:"role" validate:"required,oneof=user assistant system"`
	Content Content `json:"content"`
}

// CompletionRequest is the gateway's inbound completion contract. It is
// immutable after validation; pipeline stages that need to extend the prompt
// (memory injection) build a derived message list instead of mutating this.
type CompletionRequest struct {
	// Model is optional; when empty the tier classifier selects one.
	Model    string    `json:"model,omitempty"`
	Messages []Message `json:"messages" validate:"required,min=1,dive"`
	// MaxTokens caps the output; adapters apply their default when <= 0.
	MaxTokens     int            `json:"max_tokens,omitempty" validate:"omitempty,gt=0"`
	Temperature   *float64       `json:"temperature,omitempty" validate:"omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	ThinkingLevel ThinkingLevel  `json:"thinking_level,omitempty" validate:"omitempty,oneof=low medium high"`
	NoCache       bool           `json:"no_cache,omitempty"`
	Extras        map[string]any `json:"extras,omitempty"`
}

// LastUserMessage returns the text of the most recent user message, or ""
// when there is none. Tier classification and memory retrieval operate on
// this rather than the whole conversation.
func (r *CompletionRequest) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Content.PlainText()
		}
	}
	return ""
}

// TemperatureOrDefault returns the request temperature, or def when unset.
func (r *CompletionRequest) TemperatureOrDefault(def float64) float64 {
	if r.Temperature != nil {
		return *r.Temperature
	}
	return def
}

// CompletionResult is the normalized outcome of one served provider call,
// annotated with the provider and model that actually produced it.
type CompletionResult struct {
	Content           string `json:"content"`
	Thinking          string `json:"thinking,omitempty"`
	FinishReason      string `json:"finish_reason"`
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	CachedInputTokens int    `json:"cached_input_tokens,omitempty"`
	Provider          string `json:"provider"`
	Model             string `json:"model"`
}

// Truncated reports whether the response was cut off by the output limit.
func (r *CompletionResult) Truncated() bool {
	return r.FinishReason == FinishLength
}

// Usage returns the token accounting for the result.
func (r *CompletionResult) Usage() Usage {
	return Usage{
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		TotalTokens:  r.InputTokens + r.OutputTokens,
	}
}

// Usage is the token accounting block of a completion response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Capability flags advertised by a provider adapter. Callers test
// capabilities rather than concrete types; invoking a missing capability
// yields a not_supported error.
type Capability uint8

const (
	CapComplete Capability = 1 << iota
	CapHealthCheck
	CapStream
)

// CapabilitySet is a bit set of Capability flags.
type CapabilitySet uint8

// NewCapabilitySet combines the given capabilities into a set.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	var s CapabilitySet
	for _, c := range caps {
		s |= CapabilitySet(c)
	}
	return s
}

// Has reports whether the set contains the capability.
func (s CapabilitySet) Has(c Capability) bool {
	return s&CapabilitySet(c) != 0
}

// String lists the contained capabilities, for logs.
func (s CapabilitySet) String() string {
	var names []string
	if s.Has(CapComplete) {
		names = append(names, "complete")
	}
	if s.Has(CapHealthCheck) {
		names = append(names, "health_check")
	}
	if s.Has(CapStream) {
		names = append(names, "stream")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Provider is the adapter contract. Implementations are long-lived
// process-scope singletons, safe for concurrent use, and hold no
// request-scoped state across calls.
type Provider interface {
	Name() string
	Capabilities() CapabilitySet
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)
	HealthCheck(ctx context.Context) error
}
