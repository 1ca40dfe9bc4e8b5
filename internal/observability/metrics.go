// Package observability provides Prometheus instrumentation for the gateway.
//
// Every pipeline component exposes plain callback hooks; this package owns
// the metric families and the recorder functions the composition root wires
// into those hooks. Components never import prometheus themselves.
package observability

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"agenthub/internal/core"
	"agenthub/internal/llmclient"
	"agenthub/internal/memory"
	"agenthub/internal/resilience"
	"agenthub/internal/store"
)

// Provider request metrics, fed by the llmclient hooks.
var (
	// RequestsTotal counts upstream LLM requests by provider, model,
	// endpoint, and outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_requests_total",
			Help: "Total number of upstream LLM requests",
		},
		[]string{"provider", "model", "endpoint", "status_code", "status_type"},
	)

	// RequestDuration measures upstream request latency distribution.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenthub_request_duration_seconds",
			Help:    "Upstream LLM request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model", "endpoint"},
	)

	// InFlightRequests tracks concurrent upstream requests per provider.
	InFlightRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agenthub_requests_in_flight",
			Help: "Number of upstream LLM requests currently in flight",
		},
		[]string{"provider", "endpoint"},
	)
)

// Resilience metrics, fed by the error tracker and the breaker's observer
// channel.
var (
	// ThrashingEvents counts consecutive-identical-failure runs that hit
	// the thrashing threshold.
	ThrashingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_thrashing_events_total",
			Help: "Number of detected thrashing runs (repeated identical provider failures)",
		},
		[]string{"provider", "model"},
	)

	// CircuitState mirrors each provider's circuit position:
	// 0 closed, 1 open, 2 half-open.
	CircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agenthub_circuit_state",
			Help: "Circuit breaker state per provider (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	// CircuitTransitions counts breaker state changes by destination state.
	CircuitTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_circuit_transitions_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"provider", "to"},
	)
)

// Cache, cost, memory, webhook, and session metrics.
var (
	// CacheRequests counts cacheable completions by lookup result.
	CacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_cache_requests_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	// CostUSD accumulates the computed completion cost.
	CostUSD = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_cost_usd_total",
			Help: "Accumulated completion cost in USD",
		},
		[]string{"provider", "model"},
	)

	// TokensTotal accumulates served token counts by direction.
	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_tokens_total",
			Help: "Total tokens served by direction (input or output)",
		},
		[]string{"provider", "model", "direction"},
	)

	// UnknownModelCost counts completions billed at the fallback rate.
	UnknownModelCost = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_cost_unknown_model_total",
			Help: "Completions priced with the fallback rate because the model is unknown",
		},
		[]string{"model"},
	)

	// MemoryInjectionTokens observes tokens injected per request, by
	// experiment variant.
	MemoryInjectionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenthub_memory_injection_tokens",
			Help:    "Tokens of retrieved memory injected per completion",
			Buckets: []float64{0, 50, 100, 250, 500, 1000, 2000, 4000},
		},
		[]string{"variant"},
	)

	// MemoryInjectionDuration observes memory retrieval latency.
	MemoryInjectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenthub_memory_injection_duration_seconds",
			Help:    "Memory retrieval and assembly latency in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"variant"},
	)

	// MemoryInjectedItems counts injected items per content tier.
	MemoryInjectedItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_memory_injected_items_total",
			Help: "Memory items injected into prompts, by tier",
		},
		[]string{"tier"},
	)

	// WebhookAttempts counts delivery attempts by outcome.
	WebhookAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_webhook_attempts_total",
			Help: "Webhook delivery attempts by result",
		},
		[]string{"subscription_id", "result"},
	)

	// WebhookDropped counts events dropped on a full subscription queue.
	WebhookDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_webhook_dropped_total",
			Help: "Webhook events dropped because the subscription queue was full",
		},
		[]string{"subscription_id"},
	)

	// WebhookFailures counts deliveries abandoned after the retry budget.
	WebhookFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_webhook_failures_total",
			Help: "Webhook deliveries that exhausted all attempts",
		},
		[]string{"subscription_id"},
	)

	// SessionsReaped counts idle sessions transitioned to completed.
	SessionsReaped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthub_sessions_reaped_total",
			Help: "Idle sessions closed by the reaper, by kind",
		},
		[]string{"kind"},
	)
)

// NewPrometheusHooks returns hooks that instrument upstream LLM requests.
// Inject them into llmclient.Config to enable observability without
// polluting adapter logic.
func NewPrometheusHooks() llmclient.Hooks {
	return llmclient.Hooks{
		OnRequestStart: func(ctx context.Context, info llmclient.RequestInfo) context.Context {
			InFlightRequests.WithLabelValues(info.Provider, info.Endpoint).Inc()
			return ctx
		},
		OnRequestEnd: func(ctx context.Context, info llmclient.ResponseInfo) {
			InFlightRequests.WithLabelValues(info.Provider, info.Endpoint).Dec()

			statusType := "success"
			statusCode := strconv.Itoa(info.StatusCode)
			if info.Error != nil {
				statusType = "error"
				if info.StatusCode == 0 {
					statusCode = "network_error"
				}
			} else if info.StatusCode >= 400 {
				statusType = "error"
			}

			RequestsTotal.WithLabelValues(
				info.Provider, info.Model, info.Endpoint, statusCode, statusType,
			).Inc()
			RequestDuration.WithLabelValues(
				info.Provider, info.Model, info.Endpoint,
			).Observe(info.Duration.Seconds())
		},
	}
}

// RecordCacheHit marks a response served from the cache.
func RecordCacheHit() { CacheRequests.WithLabelValues("hit").Inc() }

// RecordCacheMiss marks a cacheable response built via the provider chain.
func RecordCacheMiss() { CacheRequests.WithLabelValues("miss").Inc() }

// RecordThrashing matches the error tracker's OnThrashing hook.
func RecordThrashing(provider, model string) {
	ThrashingEvents.WithLabelValues(provider, model).Inc()
}

// RecordUsage matches the cost tracker's OnUsage hook.
func RecordUsage(provider, model string, usage core.Usage, costUSD float64) {
	CostUSD.WithLabelValues(provider, model).Add(costUSD)
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(usage.InputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(usage.OutputTokens))
}

// RecordUnknownModel matches the cost tracker's OnUnknownModel hook.
func RecordUnknownModel(model string) {
	UnknownModelCost.WithLabelValues(model).Inc()
}

// RecordInjection matches the memory injector's OnInject hook.
func RecordInjection(rec memory.Record) {
	MemoryInjectionTokens.WithLabelValues(rec.Variant).Observe(float64(rec.Tokens))
	MemoryInjectionDuration.WithLabelValues(rec.Variant).Observe(rec.Latency.Seconds())
	for tier, count := range rec.Counts {
		MemoryInjectedItems.WithLabelValues(string(tier)).Add(float64(count))
	}
}

// RecordWebhookAttempt matches the dispatcher's OnAttempt hook.
func RecordWebhookAttempt(subscriptionID string, attempt int, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	WebhookAttempts.WithLabelValues(subscriptionID, result).Inc()
}

// RecordWebhookDropped matches the dispatcher's OnDropped hook.
func RecordWebhookDropped(subscriptionID string) {
	WebhookDropped.WithLabelValues(subscriptionID).Inc()
}

// RecordWebhookFailure matches the dispatcher's OnFailed hook.
func RecordWebhookFailure(subscriptionID string) {
	WebhookFailures.WithLabelValues(subscriptionID).Inc()
}

// RecordReaped matches the reaper's OnReaped hook.
func RecordReaped(kind store.SessionKind) {
	SessionsReaped.WithLabelValues(string(kind)).Inc()
}

// ObserveCircuits consumes the breaker's transition channel and mirrors it
// into the circuit gauges. The breaker publishes, this side consumes; run it
// on its own goroutine. It returns when ctx is cancelled or the channel
// closes.
func ObserveCircuits(ctx context.Context, events <-chan resilience.Transition) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			CircuitState.WithLabelValues(ev.Provider).Set(float64(ev.To))
			CircuitTransitions.WithLabelValues(ev.Provider, ev.To.String()).Inc()
		}
	}
}

// Example query patterns for Prometheus:
//
// Request rate by provider:
//   rate(agenthub_requests_total[5m])
//
// Error rate by provider:
//   rate(agenthub_requests_total{status_type="error"}[5m])
//
// P95 latency by model:
//   histogram_quantile(0.95, rate(agenthub_request_duration_seconds_bucket[5m]))
//
// Cache hit ratio:
//   rate(agenthub_cache_requests_total{result="hit"}[5m]) /
//     rate(agenthub_cache_requests_total[5m])
//
// Spend per model:
//   sum(rate(agenthub_cost_usd_total[1h])) by (model)
//
// Providers currently open:
//   agenthub_circuit_state == 1

// PrometheusMetrics provides access to the request-level metrics for testing
type PrometheusMetrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	InFlightRequests *prometheus.GaugeVec
}

// GetMetrics returns the prometheus metrics for testing and introspection
func GetMetrics() *PrometheusMetrics {
	return &PrometheusMetrics{
		RequestsTotal:    RequestsTotal,
		RequestDuration:  RequestDuration,
		InFlightRequests: InFlightRequests,
	}
}

// ResetMetrics resets all metrics to zero (useful for testing)
func ResetMetrics() {
	RequestsTotal.Reset()
	RequestDuration.Reset()
	InFlightRequests.Reset()
	ThrashingEvents.Reset()
	CircuitState.Reset()
	CircuitTransitions.Reset()
	CacheRequests.Reset()
	CostUSD.Reset()
	TokensTotal.Reset()
	UnknownModelCost.Reset()
	MemoryInjectionTokens.Reset()
	MemoryInjectionDuration.Reset()
	MemoryInjectedItems.Reset()
	WebhookAttempts.Reset()
	WebhookDropped.Reset()
	WebhookFailures.Reset()
	SessionsReaped.Reset()
}

// HealthCheck verifies that metrics are being collected
func HealthCheck() error {
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	if len(mfs) == 0 {
		return fmt.Errorf("no metrics registered")
	}
	return nil
}
