package session

import (
	"context"
	"log/slog"
	"time"

	"agenthub/internal/store"
)

// Timeouts maps a session kind to its idle timeout.
type Timeouts map[store.SessionKind]time.Duration

// DefaultTimeouts returns the stock per-kind idle timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		store.KindCompletion:      10 * time.Minute,
		store.KindChat:            30 * time.Minute,
		store.KindRoundtable:      45 * time.Minute,
		store.KindImageGeneration: 15 * time.Minute,
		store.KindAgent:           60 * time.Minute,
	}
}

// fallbackTimeout applies to kinds missing from the configured table.
const fallbackTimeout = 30 * time.Minute

// ReaperConfig controls the sweep cadence and idle thresholds.
type ReaperConfig struct {
	Interval time.Duration
	Timeouts Timeouts

	// OnReaped observes each transitioned session, for counters.
	OnReaped func(kind store.SessionKind)
}

// DefaultReaperConfig returns the stock sweep settings.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval: 5 * time.Minute,
		Timeouts: DefaultTimeouts(),
	}
}

// Reaper periodically transitions idle active sessions to completed. It is
// the only code path that performs that transition; completion handlers never
// close sessions themselves.
type Reaper struct {
	store store.Store
	cfg   ReaperConfig
	now   func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper creates a reaper over the given store.
func NewReaper(st store.Store, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReaperConfig().Interval
	}
	if len(cfg.Timeouts) == 0 {
		cfg.Timeouts = DefaultTimeouts()
	}
	return &Reaper{store: st, cfg: cfg, now: time.Now}
}

// Start launches the background sweep loop.
func (r *Reaper) Start(ctx context.Context) {
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go r.run(ctx)

	slog.Info("Session reaper started",
		"interval", r.cfg.Interval,
		"kinds", len(r.cfg.Timeouts),
	)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	slog.Info("Session reaper stopped")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	r.sweep(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	reaped, err := r.Sweep(ctx)
	if err != nil {
		slog.Error("Session sweep failed", "error", err)
		return
	}
	if reaped > 0 {
		slog.Info("Reaped idle sessions", "count", reaped)
	}
}

// Sweep scans active sessions and completes those idle past their kind's
// timeout. It returns the number of sessions transitioned.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	active, err := r.store.ActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := r.now()
	var stale []*store.Session
	for _, session := range active {
		timeout, ok := r.cfg.Timeouts[session.Kind]
		if !ok {
			timeout = fallbackTimeout
		}
		if now.Sub(session.UpdatedAt) > timeout {
			stale = append(stale, session)
		}
	}

	reaped := 0
	for _, session := range stale {
		if err := r.store.UpdateSessionStatus(ctx, session.ID, store.StatusCompleted); err != nil {
			slog.Warn("Failed to complete idle session",
				"session_id", session.ID,
				"error", err,
			)
			continue
		}
		reaped++
		if r.cfg.OnReaped != nil {
			r.cfg.OnReaped(session.Kind)
		}
	}
	return reaped, nil
}
