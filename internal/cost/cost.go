// Package cost prices served completions and appends the accounting trail.
// Every served response produces exactly one cost record; pricing failures
// degrade to a fallback rate rather than blocking the reply.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agenthub/internal/core"
	"agenthub/internal/store"
)

// Rate is the USD price per million tokens for one model.
type Rate struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CachedInputPerMillion float64
}

// rates is the static price table keyed by model identifier. Unlisted models
// are billed at fallbackRate and counted via the unknown-model hook.
var rates = map[string]Rate{
	"claude-haiku-4-5":       {InputPerMillion: 1.00, OutputPerMillion: 5.00, CachedInputPerMillion: 0.10},
	"claude-sonnet-4-5":      {InputPerMillion: 3.00, OutputPerMillion: 15.00, CachedInputPerMillion: 0.30},
	"claude-opus-4-1":        {InputPerMillion: 15.00, OutputPerMillion: 75.00, CachedInputPerMillion: 1.50},
	"gemini-3-flash-preview": {InputPerMillion: 0.50, OutputPerMillion: 3.00, CachedInputPerMillion: 0.05},
	"gemini-3-pro-preview":   {InputPerMillion: 2.00, OutputPerMillion: 12.00, CachedInputPerMillion: 0.20},
}

var fallbackRate = Rate{InputPerMillion: 1.00, OutputPerMillion: 5.00, CachedInputPerMillion: 0.10}

// RateFor returns the rate for a model and whether it was listed.
func RateFor(model string) (Rate, bool) {
	rate, ok := rates[model]
	if !ok {
		return fallbackRate, false
	}
	return rate, true
}

// Compute prices a completion in full float64 precision. No rounding is
// applied; sub-microdollar amounts are preserved.
func Compute(model string, inputTokens, outputTokens, cachedInputTokens int) (float64, bool) {
	rate, known := RateFor(model)
	cost := float64(inputTokens)*rate.InputPerMillion/1e6 +
		float64(outputTokens)*rate.OutputPerMillion/1e6 +
		float64(cachedInputTokens)*rate.CachedInputPerMillion/1e6
	return cost, known
}

// Config carries the tracker's observation hooks.
type Config struct {
	// OnUnknownModel fires when a model is billed at the fallback rate.
	OnUnknownModel func(model string)
	// OnUsage observes every priced completion, for token and cost counters.
	OnUsage func(provider, model string, usage core.Usage, costUSD float64)
}

// Tracker prices completions and appends cost records to the store.
type Tracker struct {
	store store.Store
	cfg   Config
	now   func() time.Time
}

// NewTracker creates a tracker over the given store.
func NewTracker(st store.Store, cfg Config) *Tracker {
	return &Tracker{store: st, cfg: cfg, now: time.Now}
}

// Record prices the result and appends its cost record. The returned record
// is the one persisted; an append failure returns both the record and the
// error so callers can log without losing the accounting data.
func (t *Tracker) Record(ctx context.Context, sessionID string, result *core.CompletionResult) (*store.CostRecord, error) {
	cost, known := Compute(result.Model, result.InputTokens, result.OutputTokens, result.CachedInputTokens)
	if !known {
		slog.Warn("no rate for model, using fallback",
			"component", "cost",
			"model", result.Model,
		)
		if t.cfg.OnUnknownModel != nil {
			t.cfg.OnUnknownModel(result.Model)
		}
	}

	rec := &store.CostRecord{
		SessionID:    sessionID,
		Model:        result.Model,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		CostUSD:      cost,
		CreatedAt:    t.now(),
	}
	if t.cfg.OnUsage != nil {
		t.cfg.OnUsage(result.Provider, result.Model, result.Usage(), cost)
	}
	if err := t.store.AppendCostRecord(ctx, rec); err != nil {
		return rec, fmt.Errorf("failed to append cost record: %w", err)
	}
	return rec, nil
}
