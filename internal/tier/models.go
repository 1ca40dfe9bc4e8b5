package tier

// Static per-provider model tables. These are deliberately compile-time
// data: the gateway routes across a small, known fleet and model churn is a
// code change, not a runtime discovery problem.

var tierModels = map[string]map[Tier]string{
	"anthropic": {
		T1: "claude-haiku-4-5",
		T2: "claude-sonnet-4-5",
		T3: "claude-sonnet-4-5",
		T4: "claude-opus-4-1",
	},
	"gemini": {
		T1: "gemini-3-flash-preview",
		T2: "gemini-3-flash-preview",
		T3: "gemini-3-pro-preview",
		T4: "gemini-3-pro-preview",
	},
}

var defaultModels = map[string]string{
	"anthropic": "claude-sonnet-4-5",
	"gemini":    "gemini-3-flash-preview",
}

// crossProvider maps a model to its closest equivalent on another provider,
// used when the chain executor falls over to a non-primary provider.
var crossProvider = map[string]map[string]string{
	"gemini": {
		"claude-haiku-4-5":  "gemini-3-flash-preview",
		"claude-sonnet-4-5": "gemini-3-flash-preview",
		"claude-opus-4-1":   "gemini-3-pro-preview",
	},
	"anthropic": {
		"gemini-3-flash-preview": "claude-sonnet-4-5",
		"gemini-3-pro-preview":   "claude-opus-4-1",
	},
}

// ModelFor returns the model a provider serves at a tier, or the provider
// default when the provider has no table.
func ModelFor(provider string, t Tier) string {
	if table, ok := tierModels[provider]; ok {
		if model, ok := table[t]; ok {
			return model
		}
	}
	return DefaultModel(provider)
}

// DefaultModel returns the provider's fallback model, or "" for unknown
// providers.
func DefaultModel(provider string) string {
	return defaultModels[provider]
}

// RemapModel translates a model onto a target provider: the cross-provider
// equivalent when one exists, otherwise the target's default. Models the
// target does not know and cannot default stay unchanged so the upstream
// rejects them explicitly.
func RemapModel(model, targetProvider string) string {
	if table, ok := crossProvider[targetProvider]; ok {
		if mapped, ok := table[model]; ok {
			return mapped
		}
	}
	if def := DefaultModel(targetProvider); def != "" {
		return def
	}
	return model
}

// Models returns a copy of the per-provider tier tables, keyed by provider
// then tier name. The models endpoint serves this view.
func Models() map[string]map[string]string {
	out := make(map[string]map[string]string, len(tierModels))
	for provider, table := range tierModels {
		entry := make(map[string]string, len(table))
		for t, model := range table {
			entry[t.String()] = model
		}
		out[provider] = entry
	}
	return out
}
