package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"agenthub/internal/core"
)

// State is a circuit position.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// Transition is a state change published on the breaker's observer channel.
// The breaker only publishes; metrics consume. This keeps the dependency
// one-way.
type Transition struct {
	Provider string
	From     State
	To       State
	Failures int
	At       time.Time
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	// Threshold is the consecutive-failure count that opens the circuit.
	Threshold int
	// CooldownBase seeds the open-state cooldown; it doubles with each
	// failure past the threshold.
	CooldownBase time.Duration
	// CooldownMax caps the cooldown growth.
	CooldownMax time.Duration
}

// DefaultBreakerConfig returns the stock breaker settings. The threshold is
// aligned with the thrashing threshold.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Threshold:    2,
		CooldownBase: 5 * time.Second,
		CooldownMax:  2 * time.Minute,
	}
}

// providerState is one provider's circuit. The state field is atomic so the
// open-to-half-open probe claim can be a CAS; everything else is guarded by
// the per-provider mutex. No lock is ever held across a provider call.
type providerState struct {
	mu            sync.Mutex
	state         atomic.Int32
	failures      int
	lastSignature ErrorSignature
	cooldownUntil time.Time
}

// Breaker is the process-scope circuit breaker. It exclusively owns the
// provider-name-to-circuit mapping; circuits are created lazily on first
// use.
type Breaker struct {
	mu     sync.RWMutex
	states map[string]*providerState
	cfg    BreakerConfig
	events chan Transition
	now    func() time.Time
}

// NewBreaker creates a breaker. Zero or negative config values fall back to
// the defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.CooldownBase <= 0 {
		cfg.CooldownBase = def.CooldownBase
	}
	if cfg.CooldownMax <= 0 {
		cfg.CooldownMax = def.CooldownMax
	}
	return &Breaker{
		states: make(map[string]*providerState),
		cfg:    cfg,
		events: make(chan Transition, 64),
		now:    time.Now,
	}
}

// Events exposes the observer channel. Transitions are dropped, never
// blocked on, when the consumer falls behind.
func (b *Breaker) Events() <-chan Transition {
	return b.events
}

func (b *Breaker) provider(name string) *providerState {
	b.mu.RLock()
	ps, ok := b.states[name]
	b.mu.RUnlock()
	if ok {
		return ps
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ps, ok := b.states[name]; ok {
		return ps
	}
	ps = &providerState{}
	b.states[name] = ps
	return ps
}

// Allow reports whether a call to the provider may proceed. It returns nil
// to proceed, or a circuit-open error carrying the cooldown deadline. When
// an open circuit's cooldown has elapsed, exactly one caller wins the
// half-open probe via CAS; the caller must report the probe outcome through
// RecordSuccess or RecordFailure.
func (b *Breaker) Allow(provider string) error {
	ps := b.provider(provider)

	switch State(ps.state.Load()) {
	case StateClosed:
		return nil

	case StateHalfOpen:
		// A probe is in flight; everyone else waits it out.
		return core.NewCircuitOpenError(provider, b.now().Add(time.Second))

	case StateOpen:
		ps.mu.Lock()
		cooldown := ps.cooldownUntil
		failures := ps.failures
		ps.mu.Unlock()

		if b.now().Before(cooldown) {
			return core.NewCircuitOpenError(provider, cooldown)
		}
		if ps.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
			b.publish(provider, StateOpen, StateHalfOpen, failures)
			return nil
		}
		// Lost the probe race.
		return core.NewCircuitOpenError(provider, b.now().Add(time.Second))
	}
	return nil
}

// RecordSuccess reports a successful provider call. A half-open probe
// success closes the circuit and resets counters; success in Closed resets
// the failure count. A late success reported while Open is ignored, the
// half-open probe is the only path back.
func (b *Breaker) RecordSuccess(provider string) {
	ps := b.provider(provider)

	ps.mu.Lock()
	prev := State(ps.state.Load())
	switch prev {
	case StateHalfOpen:
		ps.failures = 0
		ps.lastSignature = ErrorSignature{}
		ps.cooldownUntil = time.Time{}
		ps.state.Store(int32(StateClosed))
	case StateClosed:
		ps.failures = 0
	}
	ps.mu.Unlock()

	if prev == StateHalfOpen {
		b.publish(provider, prev, StateClosed, 0)
	}
}

// RecordFailure reports a failed provider call. It returns whether this
// failure opened the circuit and, if so, the cooldown deadline. The cooldown
// doubles with each consecutive failure past the threshold, capped at
// CooldownMax; it is always in the future relative to the failure.
func (b *Breaker) RecordFailure(provider string, sig ErrorSignature) (tripped bool, cooldownUntil time.Time) {
	ps := b.provider(provider)

	ps.mu.Lock()
	prev := State(ps.state.Load())
	ps.failures++
	ps.lastSignature = sig

	switch prev {
	case StateHalfOpen:
		// Failed probe: back to Open with a longer cooldown.
		ps.cooldownUntil = b.now().Add(b.cooldownFor(ps.failures))
		ps.state.Store(int32(StateOpen))
		tripped, cooldownUntil = true, ps.cooldownUntil

	case StateClosed:
		if ps.failures >= b.cfg.Threshold {
			ps.cooldownUntil = b.now().Add(b.cooldownFor(ps.failures))
			ps.state.Store(int32(StateOpen))
			tripped, cooldownUntil = true, ps.cooldownUntil
		}

	case StateOpen:
		cooldownUntil = ps.cooldownUntil
	}
	failures := ps.failures
	ps.mu.Unlock()

	if tripped {
		b.publish(provider, prev, StateOpen, failures)
	}
	return tripped, cooldownUntil
}

func (b *Breaker) cooldownFor(failures int) time.Duration {
	exp := failures - b.cfg.Threshold
	if exp < 0 {
		exp = 0
	}
	if exp > 20 {
		return b.cfg.CooldownMax
	}
	d := b.cfg.CooldownBase << uint(exp)
	if d <= 0 || d > b.cfg.CooldownMax {
		return b.cfg.CooldownMax
	}
	return d
}

// StateOf returns the provider's current circuit position.
func (b *Breaker) StateOf(provider string) State {
	return State(b.provider(provider).state.Load())
}

// ProviderStatus is a point-in-time view of one circuit.
type ProviderStatus struct {
	State         State     `json:"state"`
	Failures      int       `json:"failures"`
	LastSignature string    `json:"last_signature,omitempty"`
	CooldownUntil time.Time `json:"cooldown_until,omitempty"`
}

// Status snapshots every known circuit, for the health surface.
func (b *Breaker) Status() map[string]ProviderStatus {
	b.mu.RLock()
	names := make([]string, 0, len(b.states))
	for name := range b.states {
		names = append(names, name)
	}
	b.mu.RUnlock()

	out := make(map[string]ProviderStatus, len(names))
	for _, name := range names {
		ps := b.provider(name)
		ps.mu.Lock()
		status := ProviderStatus{
			State:         State(ps.state.Load()),
			Failures:      ps.failures,
			CooldownUntil: ps.cooldownUntil,
		}
		if ps.lastSignature != (ErrorSignature{}) {
			status.LastSignature = ps.lastSignature.String()
		}
		ps.mu.Unlock()
		out[name] = status
	}
	return out
}

func (b *Breaker) publish(provider string, from, to State, failures int) {
	t := Transition{
		Provider: provider,
		From:     from,
		To:       to,
		Failures: failures,
		At:       b.now(),
	}
	select {
	case b.events <- t:
	default:
	}
}
