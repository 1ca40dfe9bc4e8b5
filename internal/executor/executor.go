// Package executor walks the provider chain for one completion: primary
// selection, circuit gating, cross-provider model remapping, and failure
// classification. Providers are tried strictly in order with no fan-out;
// chain errors surface only after every provider has been attempted.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"agenthub/internal/core"
	"agenthub/internal/resilience"
	"agenthub/internal/tier"
)

// Config controls chain order and the per-call adapter deadline.
type Config struct {
	Chain       []string
	CallTimeout time.Duration
}

// DefaultConfig returns the stock executor settings. The 120s call deadline
// accommodates extended thinking on large models.
func DefaultConfig(chain []string) Config {
	return Config{
		Chain:       chain,
		CallTimeout: 120 * time.Second,
	}
}

// Executor iterates the provider chain under circuit-breaker protection.
type Executor struct {
	providers map[string]core.Provider
	breaker   *resilience.Breaker
	tracker   *resilience.Tracker
	cfg       Config
}

// New creates an executor over the registered providers.
func New(providers map[string]core.Provider, breaker *resilience.Breaker, tracker *resilience.Tracker, cfg Config) *Executor {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 120 * time.Second
	}
	return &Executor{
		providers: providers,
		breaker:   breaker,
		tracker:   tracker,
		cfg:       cfg,
	}
}

// attempt records one provider's failure for exhaustion aggregation.
type attempt struct {
	provider string
	err      *core.GatewayError
}

// Execute runs the request against the chain. req.Model must already be
// resolved (explicit or tier-selected); non-primary providers receive a
// remapped equivalent. The result is annotated with the provider and model
// actually served.
func (e *Executor) Execute(ctx context.Context, req *core.CompletionRequest) (*core.CompletionResult, error) {
	order := e.attemptOrder(req.Model)
	if len(order) == 0 {
		return nil, core.NewInvalidRequestError("provider chain is empty", nil)
	}
	primary := order[0]

	attempts := make([]attempt, 0, len(order))
	for _, name := range order {
		if err := ctx.Err(); err != nil {
			break
		}

		if err := e.breaker.Allow(name); err != nil {
			gw := core.AsGatewayError(err)
			slog.Debug("provider skipped, circuit open",
				"provider", name,
				"cooldown_until", gw.CooldownUntil,
			)
			attempts = append(attempts, attempt{provider: name, err: gw})
			continue
		}

		provider, ok := e.providers[name]
		if !ok {
			attempts = append(attempts, attempt{provider: name, err: core.NewConfigError(name, "provider not registered")})
			continue
		}

		callModel := req.Model
		if name != primary {
			callModel = tier.RemapModel(req.Model, name)
		}

		result, err := e.callProvider(ctx, provider, req, callModel)
		if err == nil {
			e.breaker.RecordSuccess(name)
			if result.Provider == "" {
				result.Provider = name
			}
			if result.Model == "" {
				result.Model = callModel
			}
			return result, nil
		}

		attempts = append(attempts, attempt{provider: name, err: e.recordFailure(name, callModel, err)})
	}

	return nil, exhausted(attempts)
}

// callProvider invokes one adapter under the per-call deadline.
func (e *Executor) callProvider(ctx context.Context, provider core.Provider, req *core.CompletionRequest, model string) (*core.CompletionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	callReq := *req
	callReq.Model = model
	return provider.Complete(callCtx, &callReq)
}

// recordFailure classifies one provider failure and feeds the health
// machinery. Rate limits and retriable transients count against the provider;
// authentication and non-retriable config problems are caller-side and do
// not. A failure that trips the breaker is reported as that provider's
// circuit-open error so the caller sees the cooldown.
func (e *Executor) recordFailure(name, model string, err error) *core.GatewayError {
	gw := core.AsGatewayError(err)
	if gw == nil {
		gw = core.NewProviderError(name, 0, err.Error(), err)
	}

	switch gw.Kind {
	case core.KindAuthentication, core.KindInvalidRequest:
		return gw
	case core.KindProvider:
		if !gw.Retriable {
			return gw
		}
	}

	sig := resilience.NewSignature(string(gw.Kind), name, model, gw.Message)
	e.tracker.Record(sig)
	tripped, cooldownUntil := e.breaker.RecordFailure(name, sig)
	if tripped {
		return core.NewCircuitOpenError(name, cooldownUntil)
	}
	return gw
}

// attemptOrder returns the providers to try: the primary first, then the
// rest of the chain in configured order. The primary is the first chain
// member whose name appears in the model string, else the chain head.
func (e *Executor) attemptOrder(model string) []string {
	if len(e.cfg.Chain) == 0 {
		return nil
	}

	primary := e.cfg.Chain[0]
	lower := strings.ToLower(model)
	for _, name := range e.cfg.Chain {
		if strings.Contains(lower, strings.ToLower(name)) {
			primary = name
			break
		}
	}

	order := make([]string, 0, len(e.cfg.Chain))
	order = append(order, primary)
	for _, name := range e.cfg.Chain {
		if name != primary {
			order = append(order, name)
		}
	}
	return order
}

// exhausted folds the per-provider failures into the error surfaced to the
// caller: all-authentication becomes 401, all-rate-limit becomes 429 with the
// smallest advisory wait, all-circuits-open keeps the circuit-open kind with
// every cooldown listed. Mixed failures surface as providers_exhausted
// wrapping the last error.
func exhausted(attempts []attempt) *core.GatewayError {
	if len(attempts) == 0 {
		return core.NewProvidersExhaustedError(0, nil)
	}

	allAuth, allRateLimit, allCircuitOpen := true, true, true
	for _, a := range attempts {
		allAuth = allAuth && a.err.Kind == core.KindAuthentication
		allRateLimit = allRateLimit && a.err.Kind == core.KindRateLimit
		allCircuitOpen = allCircuitOpen && a.err.Kind == core.KindCircuitOpen
	}
	last := attempts[len(attempts)-1].err

	switch {
	case allAuth:
		return last
	case allRateLimit:
		retryAfter := 0
		for _, a := range attempts {
			if a.err.RetryAfter > 0 && (retryAfter == 0 || a.err.RetryAfter < retryAfter) {
				retryAfter = a.err.RetryAfter
			}
		}
		out := core.NewRateLimitError(last.Provider, retryAfter, fmt.Sprintf("all %d providers rate limited", len(attempts)))
		out.Cause = last
		return out
	case allCircuitOpen:
		parts := make([]string, 0, len(attempts))
		earliest := attempts[0].err.CooldownUntil
		retryAfter := attempts[0].err.RetryAfter
		for _, a := range attempts {
			parts = append(parts, fmt.Sprintf("%s until %s", a.provider, a.err.CooldownUntil.UTC().Format(time.RFC3339)))
			if a.err.CooldownUntil.Before(earliest) {
				earliest = a.err.CooldownUntil
				retryAfter = a.err.RetryAfter
			}
		}
		return &core.GatewayError{
			Kind:          core.KindCircuitOpen,
			Message:       "all circuits open: " + strings.Join(parts, ", "),
			Retriable:     true,
			RetryAfter:    retryAfter,
			CooldownUntil: earliest,
			Cause:         last,
		}
	default:
		return core.NewProvidersExhaustedError(len(attempts), last)
	}
}
