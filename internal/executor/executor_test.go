package executor

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"agenthub/internal/core"
	"agenthub/internal/resilience"
)

type fakeProvider struct {
	name string
	fn   func(req *core.CompletionRequest) (*core.CompletionResult, error)

	mu    sync.Mutex
	calls []string
}

func (f *fakeProvider) Name() string                      { return f.name }
func (f *fakeProvider) Capabilities() core.CapabilitySet  { return core.NewCapabilitySet(core.CapComplete) }
func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

func (f *fakeProvider) Complete(_ context.Context, req *core.CompletionRequest) (*core.CompletionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req.Model)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeProvider) lastModel() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func succeedWith(provider, model string) func(*core.CompletionRequest) (*core.CompletionResult, error) {
	return func(req *core.CompletionRequest) (*core.CompletionResult, error) {
		return &core.CompletionResult{
			Content:      "ok",
			FinishReason: core.FinishStop,
			InputTokens:  10,
			OutputTokens: 5,
			Provider:     provider,
			Model:        req.Model,
		}, nil
	}
}

func failWith(err error) func(*core.CompletionRequest) (*core.CompletionResult, error) {
	return func(*core.CompletionRequest) (*core.CompletionResult, error) { return nil, err }
}

func newTestExecutor(t *testing.T, chain []string, providers ...*fakeProvider) (*Executor, *resilience.Breaker, *resilience.Tracker) {
	t.Helper()
	registry := make(map[string]core.Provider, len(providers))
	for _, p := range providers {
		registry[p.name] = p
	}
	breaker := resilience.NewBreaker(resilience.DefaultBreakerConfig())
	tracker := resilience.NewTracker(resilience.DefaultTrackerConfig())
	return New(registry, breaker, tracker, DefaultConfig(chain)), breaker, tracker
}

func testRequest(model string) *core.CompletionRequest {
	return &core.CompletionRequest{
		Model:    model,
		Messages: []core.Message{{Role: core.RoleUser, Content: core.Text("Hello")}},
	}
}

func TestAttemptOrder(t *testing.T) {
	e, _, _ := newTestExecutor(t, []string{"anthropic", "gemini"},
		&fakeProvider{name: "anthropic"}, &fakeProvider{name: "gemini"})

	tests := []struct {
		model string
		want  []string
	}{
		{"gemini-3-pro-preview", []string{"gemini", "anthropic"}},
		{"GEMINI-3-FLASH-PREVIEW", []string{"gemini", "anthropic"}},
		{"claude-sonnet-4-5", []string{"anthropic", "gemini"}},
		{"", []string{"anthropic", "gemini"}},
	}
	for _, tt := range tests {
		got := e.attemptOrder(tt.model)
		if len(got) != len(tt.want) {
			t.Fatalf("attemptOrder(%q) = %v, want %v", tt.model, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("attemptOrder(%q) = %v, want %v", tt.model, got, tt.want)
				break
			}
		}
	}
}

func TestExecute_PrimarySuccess(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: succeedWith("anthropic", "claude-sonnet-4-5")}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "gemini-3-flash-preview")}
	e, breaker, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	result, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Provider != "anthropic" || result.Model != "claude-sonnet-4-5" {
		t.Errorf("result annotated %s/%s", result.Provider, result.Model)
	}
	if gemini.callCount() != 0 {
		t.Error("secondary called despite primary success")
	}
	if breaker.StateOf("anthropic") != resilience.StateClosed {
		t.Errorf("breaker state = %v after success", breaker.StateOf("anthropic"))
	}
}

func TestExecute_FallbackRemapsModel(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewRateLimitError("anthropic", 30, "rate limited"))}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, _, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	result, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", result.Provider)
	}
	if gemini.lastModel() != "gemini-3-flash-preview" {
		t.Errorf("secondary received model %q, want gemini-3-flash-preview", gemini.lastModel())
	}
	if anthropic.callCount() != 1 {
		t.Errorf("primary called %d times, want 1", anthropic.callCount())
	}
}

func TestExecute_AuthFailureSkipsHealthAccounting(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewAuthenticationError("anthropic", http.StatusUnauthorized, "invalid x-api-key"))}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, breaker, tracker := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	if _, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := tracker.Recent(); len(got) != 0 {
		t.Errorf("auth failure polluted the tracker: %v", got)
	}
	if status := breaker.Status()["anthropic"]; status.Failures != 0 {
		t.Errorf("auth failure counted against breaker: %+v", status)
	}
}

func TestExecute_NonRetriableProviderErrorSkipsHealthAccounting(t *testing.T) {
	bad := core.NewProviderError("anthropic", http.StatusBadRequest, "max_tokens out of range", nil)
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(bad)}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, _, tracker := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	if _, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := tracker.Recent(); len(got) != 0 {
		t.Errorf("config failure polluted the tracker: %v", got)
	}
}

func TestExecute_RetriableFailuresFeedTracker(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewProviderError("anthropic", 503, "upstream overloaded", nil))}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, _, tracker := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	if _, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5")); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	recent := tracker.Recent()
	if len(recent) != 1 {
		t.Fatalf("tracker recorded %d signatures, want 1", len(recent))
	}
	if recent[0].Provider != "anthropic" || recent[0].Kind != string(core.KindProvider) {
		t.Errorf("signature = %+v", recent[0])
	}
}

func TestExecute_TrippedBreakerSkipsProvider(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewProviderError("anthropic", 0, "upstream timeout", errors.New("timeout")))}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, breaker, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	// Two failures reach the trip threshold.
	for i := 0; i < 2; i++ {
		if _, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5")); err != nil {
			t.Fatalf("Execute(%d) error = %v", i, err)
		}
	}
	if breaker.StateOf("anthropic") != resilience.StateOpen {
		t.Fatalf("breaker state = %v after two failures, want open", breaker.StateOf("anthropic"))
	}

	before := anthropic.callCount()
	result, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if anthropic.callCount() != before {
		t.Error("open-circuit provider was still called")
	}
	if result.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", result.Provider)
	}
}

func TestExecute_SingleProviderTripSurfacesCircuitOpen(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewProviderError("anthropic", 503, "upstream overloaded", nil))}
	e, _, _ := newTestExecutor(t, []string{"anthropic"}, anthropic)

	_, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if core.KindOf(err) != core.KindProvidersExhausted {
		t.Fatalf("first failure kind = %v, want providers_exhausted", core.KindOf(err))
	}

	// Second consecutive failure trips mid-chain and the surfaced error
	// carries the cooldown.
	_, err = e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	gw := core.AsGatewayError(err)
	if gw == nil || gw.Kind != core.KindCircuitOpen {
		t.Fatalf("second failure = %v, want circuit_open", err)
	}
	if gw.CooldownUntil.IsZero() || !gw.CooldownUntil.After(time.Now()) {
		t.Errorf("CooldownUntil = %v, want future timestamp", gw.CooldownUntil)
	}
}

func TestExecute_AllRateLimitedReturnsSmallestRetryAfter(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewRateLimitError("anthropic", 30, "rate limited"))}
	gemini := &fakeProvider{name: "gemini", fn: failWith(core.NewRateLimitError("gemini", 7, "quota exceeded"))}
	e, _, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	_, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	gw := core.AsGatewayError(err)
	if gw == nil || gw.Kind != core.KindRateLimit {
		t.Fatalf("Execute() = %v, want rate_limit", err)
	}
	if gw.RetryAfter != 7 {
		t.Errorf("RetryAfter = %d, want smallest observed 7", gw.RetryAfter)
	}
}

func TestExecute_AllAuthReturnsAuthError(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewAuthenticationError("anthropic", 401, "bad key"))}
	gemini := &fakeProvider{name: "gemini", fn: failWith(core.NewAuthenticationError("gemini", 403, "api key revoked"))}
	e, _, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	_, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if core.KindOf(err) != core.KindAuthentication {
		t.Errorf("Execute() kind = %v, want authentication", core.KindOf(err))
	}
}

func TestExecute_AllCircuitsOpenListsCooldowns(t *testing.T) {
	sig := resilience.NewSignature("provider", "x", "m", "boom")
	anthropic := &fakeProvider{name: "anthropic", fn: succeedWith("anthropic", "")}
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, breaker, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	for _, name := range []string{"anthropic", "gemini"} {
		breaker.RecordFailure(name, sig)
		breaker.RecordFailure(name, sig)
	}

	_, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	gw := core.AsGatewayError(err)
	if gw == nil || gw.Kind != core.KindCircuitOpen {
		t.Fatalf("Execute() = %v, want circuit_open", err)
	}
	for _, name := range []string{"anthropic", "gemini"} {
		if !strings.Contains(gw.Message, name) {
			t.Errorf("message %q missing provider %s", gw.Message, name)
		}
	}
	if anthropic.callCount() != 0 || gemini.callCount() != 0 {
		t.Error("providers called while every circuit was open")
	}
	if gw.RetryAfter < 1 {
		t.Errorf("RetryAfter = %d, want >= 1", gw.RetryAfter)
	}
}

func TestExecute_MixedFailuresExhausted(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: failWith(core.NewRateLimitError("anthropic", 30, "rate limited"))}
	gemini := &fakeProvider{name: "gemini", fn: failWith(core.NewProviderError("gemini", 500, "internal error", nil))}
	e, _, _ := newTestExecutor(t, []string{"anthropic", "gemini"}, anthropic, gemini)

	_, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	gw := core.AsGatewayError(err)
	if gw == nil || gw.Kind != core.KindProvidersExhausted {
		t.Fatalf("Execute() = %v, want providers_exhausted", err)
	}
	if gw.HTTPStatus() != http.StatusServiceUnavailable {
		t.Errorf("HTTPStatus() = %d, want 503", gw.HTTPStatus())
	}
	var last *core.GatewayError
	if !errors.As(gw.Cause, &last) || last.Provider != "gemini" {
		t.Errorf("Cause = %v, want last provider error from gemini", gw.Cause)
	}
}

func TestExecute_EmptyChain(t *testing.T) {
	e, _, _ := newTestExecutor(t, nil)

	_, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if core.KindOf(err) != core.KindInvalidRequest {
		t.Errorf("Execute() kind = %v, want invalid_request", core.KindOf(err))
	}
}

func TestExecute_UnregisteredProviderContinues(t *testing.T) {
	gemini := &fakeProvider{name: "gemini", fn: succeedWith("gemini", "")}
	e, _, tracker := newTestExecutor(t, []string{"ghost", "gemini"}, gemini)

	result, err := e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", result.Provider)
	}
	if len(tracker.Recent()) != 0 {
		t.Error("unregistered provider polluted the tracker")
	}
}

func TestExecute_CancelledContextStopsChain(t *testing.T) {
	anthropic := &fakeProvider{name: "anthropic", fn: succeedWith("anthropic", "")}
	e, _, _ := newTestExecutor(t, []string{"anthropic"}, anthropic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Execute(ctx, testRequest("claude-sonnet-4-5"))
	if err == nil {
		t.Fatal("Execute() with cancelled context succeeded")
	}
	if anthropic.callCount() != 0 {
		t.Error("provider called after cancellation")
	}
}

func TestExecute_ThrashingSignal(t *testing.T) {
	var thrashed int
	registry := map[string]core.Provider{
		"anthropic": &fakeProvider{name: "anthropic", fn: failWith(core.NewProviderError("anthropic", 0, "upstream timeout", errors.New("timeout")))},
	}
	trackerCfg := resilience.DefaultTrackerConfig()
	trackerCfg.OnThrashing = func(provider, model string) {
		thrashed++
		if provider != "anthropic" || model != "claude-sonnet-4-5" {
			t.Errorf("OnThrashing(%q, %q)", provider, model)
		}
	}
	e := New(registry,
		resilience.NewBreaker(resilience.DefaultBreakerConfig()),
		resilience.NewTracker(trackerCfg),
		DefaultConfig([]string{"anthropic"}))

	e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))
	e.Execute(context.Background(), testRequest("claude-sonnet-4-5"))

	if thrashed != 1 {
		t.Errorf("thrashing fired %d times, want exactly 1", thrashed)
	}
}
