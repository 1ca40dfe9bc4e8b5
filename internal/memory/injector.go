// Package memory turns retrieved context into system-role prompt material.
//
// The vector-graph store itself stays external behind the Source interface.
// The injector queries three content tiers in priority order and fills a
// token budget greedily; items are atomic and never truncated. Injection
// failures are logged and degrade to an empty injection, they never fail the
// completion that triggered them.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Tier identifies one of the three retrieved-content classes. Mandates carry
// the highest priority, reference the lowest.
type Tier string

const (
	TierMandates   Tier = "mandates"
	TierGuardrails Tier = "guardrails"
	TierReference  Tier = "reference"
)

var tierOrder = []Tier{TierMandates, TierGuardrails, TierReference}

// Item is a single retrieved memory unit.
type Item struct {
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Source fetches ranked items for one tier. Implementations must be safe for
// concurrent use.
type Source interface {
	Fetch(ctx context.Context, query, projectID string, tier Tier) ([]Item, error)
}

// Config controls injection behavior and the experiment arms.
type Config struct {
	Enabled       bool
	BudgetEnabled bool
	TotalBudget   int
	Fractions     map[Tier]float64
	Variants      []string

	// OnInject observes every injection attempt for an enabled injector.
	OnInject func(Record)
}

// DefaultConfig returns injection settings matching the stock deployment:
// disabled until a source is configured, budget enforced at 2000 tokens.
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		BudgetEnabled: true,
		TotalBudget:   2000,
		Fractions: map[Tier]float64{
			TierMandates:   0.50,
			TierGuardrails: 0.30,
			TierReference:  0.20,
		},
		Variants: []string{"control"},
	}
}

// Record is the per-request observation emitted after each injection.
type Record struct {
	Counts  map[Tier]int
	Tokens  int
	Latency time.Duration
	Variant string
}

// Injection is the assembled system-role material.
type Injection struct {
	Content string
	Tokens  int
	Counts  map[Tier]int
	Variant string
}

// Empty reports whether the injection carries no material.
func (inj *Injection) Empty() bool {
	return inj == nil || inj.Content == ""
}

// Injector assembles budget-bounded prompt material from a Source.
type Injector struct {
	source Source
	cfg    Config
	now    func() time.Time
}

// New creates an injector. A nil source behaves as permanently disabled.
func New(source Source, cfg Config) *Injector {
	if cfg.TotalBudget <= 0 {
		cfg.TotalBudget = DefaultConfig().TotalBudget
	}
	if len(cfg.Fractions) == 0 {
		cfg.Fractions = DefaultConfig().Fractions
	}
	if len(cfg.Variants) == 0 {
		cfg.Variants = DefaultConfig().Variants
	}
	return &Injector{source: source, cfg: cfg, now: time.Now}
}

// EstimateTokens is the length/4 upper-bound heuristic used for budgeting.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// Variant deterministically assigns an experiment arm for the given identity.
// Identical inputs always map to the same arm.
func (inj *Injector) Variant(externalID, projectID string) string {
	if len(inj.cfg.Variants) == 0 {
		return "control"
	}
	h := xxhash.Sum64String(externalID + ":" + projectID)
	return inj.cfg.Variants[h%uint64(len(inj.cfg.Variants))]
}

// Inject fetches the three tiers lazily and assembles system-role material
// within the configured budget. It returns nil when injection is disabled and
// an empty injection when nothing was retrieved. Source failures skip the
// affected tier.
func (inj *Injector) Inject(ctx context.Context, query, projectID, externalID string) *Injection {
	if !inj.cfg.Enabled || inj.source == nil {
		return nil
	}

	start := inj.now()
	variant := inj.Variant(externalID, projectID)
	counts := make(map[Tier]int, len(tierOrder))
	remaining := inj.cfg.TotalBudget
	total := 0

	var sections []string
	for _, tier := range tierOrder {
		limit := remaining
		if inj.cfg.BudgetEnabled {
			if alloc := int(float64(inj.cfg.TotalBudget) * inj.cfg.Fractions[tier]); alloc < limit {
				limit = alloc
			}
			if limit <= 0 {
				continue
			}
		}

		items, err := inj.source.Fetch(ctx, query, projectID, tier)
		if err != nil {
			slog.Warn("memory fetch failed", "component", "memory", "tier", string(tier), "error", err)
			continue
		}

		var picked []string
		used := 0
		for _, item := range items {
			if item.Content == "" {
				continue
			}
			tokens := EstimateTokens(item.Content)
			if inj.cfg.BudgetEnabled && used+tokens > limit {
				continue
			}
			picked = append(picked, item.Content)
			used += tokens
		}
		if len(picked) == 0 {
			continue
		}

		counts[tier] = len(picked)
		total += used
		remaining -= used
		sections = append(sections, renderTier(tier, picked))
	}

	injection := &Injection{
		Content: strings.Join(sections, "\n\n"),
		Tokens:  total,
		Counts:  counts,
		Variant: variant,
	}
	if inj.cfg.OnInject != nil {
		inj.cfg.OnInject(Record{
			Counts:  counts,
			Tokens:  total,
			Latency: inj.now().Sub(start),
			Variant: variant,
		})
	}
	return injection
}

func renderTier(tier Tier, items []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s%s\n", strings.ToUpper(string(tier[0])), tier[1:])
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
