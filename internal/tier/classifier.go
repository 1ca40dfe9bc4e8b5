// Package tier maps prompts to complexity tiers and tiers to concrete
// models. Classification is a pure rule cascade over the last user message;
// the static model tables also provide the cross-provider remapping the
// chain executor uses on fallback.
package tier

import (
	"strings"

	"agenthub/internal/core"
)

// Tier is a discrete complexity label. Higher tiers select stronger models.
type Tier int

const (
	T1 Tier = iota + 1
	T2
	T3
	T4
)

func (t Tier) String() string {
	switch t {
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	case T4:
		return "T4"
	}
	return "unknown"
}

// Length fallbacks when no pattern matches.
const (
	lengthT3 = 2000
	lengthT2 = 500
)

// Pattern cascade, checked highest tier first so any match at a higher tier
// wins over a lower one.
var tierPatterns = []struct {
	tier     Tier
	keywords []string
}{
	{T4, []string{
		"architecture", "architect", "scalability", "scale to",
		"root cause", "root-cause", "deep analysis", "in-depth",
		"multi-step", "multi step", "system design", "trade-off",
	}},
	{T3, []string{
		"refactor", "optimize", "optimise", "debug",
		"implement", "troubleshoot", "diagnose",
	}},
	{T2, []string{
		"write", "create", "generate", "convert", "draft", "compose",
	}},
}

// Classify assigns a complexity tier to a prompt. It is a pure function of
// the text: pattern cascade from T4 down, then length fallback.
func Classify(prompt string) Tier {
	lower := strings.ToLower(prompt)

	for _, group := range tierPatterns {
		for _, kw := range group.keywords {
			if strings.Contains(lower, kw) {
				return group.tier
			}
		}
	}

	switch {
	case len(prompt) > lengthT3:
		return T3
	case len(prompt) > lengthT2:
		return T2
	default:
		return T1
	}
}

// Selection is the outcome of model resolution for a request.
type Selection struct {
	Model    string
	Tier     Tier
	Explicit bool
}

// Resolve picks the model for a request. An explicit model bypasses
// selection but the tier is still reported for telemetry. Implicit requests
// get the default provider's model for the classified tier.
func Resolve(req *core.CompletionRequest, defaultProvider string) Selection {
	t := Classify(req.LastUserMessage())

	if req.Model != "" {
		return Selection{Model: req.Model, Tier: t, Explicit: true}
	}

	return Selection{Model: ModelFor(defaultProvider, t), Tier: t}
}
