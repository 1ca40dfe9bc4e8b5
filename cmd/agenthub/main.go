// Package main is the entry point for the Agent Hub gateway server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub/config"
	"agenthub/internal/access"
	"agenthub/internal/cache"
	"agenthub/internal/cost"
	"agenthub/internal/executor"
	"agenthub/internal/gateway"
	"agenthub/internal/memory"
	"agenthub/internal/observability"
	"agenthub/internal/providers"
	"agenthub/internal/resilience"
	"agenthub/internal/server"
	"agenthub/internal/session"
	"agenthub/internal/store"
	"agenthub/internal/version"
	"agenthub/internal/webhook"

	// Import provider packages to trigger their init() registration
	_ "agenthub/internal/providers/anthropic"
	_ "agenthub/internal/providers/gemini"
	_ "agenthub/internal/providers/openai"
)

const shutdownTimeout = 10 * time.Second

// newRedisClient builds a client from a connection URL.
func newRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return redis.NewClient(opts), nil
}

// initStore initializes the session store backend based on configuration.
// Returns the in-memory store by default, or Redis if configured.
func initStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "redis":
		client, err := newRedisClient(cfg.Store.Redis.URL)
		if err != nil {
			return nil, err
		}
		slog.Info("using redis store", "url", cfg.Store.Redis.URL, "prefix", cfg.Store.Redis.Prefix)
		return store.NewRedisStore(client, cfg.Store.Redis.Prefix), nil

	default: // "memory" or any other value defaults to in-process
		slog.Info("using in-memory store")
		return store.NewMemoryStore(), nil
	}
}

// initCache initializes the response cache based on configuration. A
// disabled cache returns nil, which turns the cache stage off entirely.
func initCache(cfg *config.Config) (*cache.Cache, error) {
	if !cfg.Cache.Enabled {
		slog.Info("response cache disabled")
		return nil, nil
	}

	cacheCfg := cache.Config{
		Enabled:           true,
		TTL:               cfg.Cache.TTL,
		Capacity:          cfg.Cache.Capacity,
		TemperatureCutoff: cfg.Cache.TemperatureCutoff,
	}

	switch cfg.Cache.Backend {
	case "redis":
		client, err := newRedisClient(cfg.Cache.Redis.URL)
		if err != nil {
			return nil, err
		}
		slog.Info("using redis response cache", "url", cfg.Cache.Redis.URL, "prefix", cfg.Cache.Redis.Prefix)
		return cache.New(cache.NewRedisBackend(client, cfg.Cache.Redis.Prefix), cacheCfg), nil

	default:
		slog.Info("using in-memory response cache", "capacity", cfg.Cache.Capacity, "ttl", cfg.Cache.TTL)
		return cache.New(cache.NewMemoryBackend(cfg.Cache.Capacity), cacheCfg), nil
	}
}

// initInjector wires the memory injector when a source is configured.
func initInjector(cfg *config.Config) *memory.Injector {
	if !cfg.Memory.Enabled || cfg.Memory.SourceURL == "" {
		return nil
	}

	source := memory.NewHTTPSource(cfg.Memory.SourceURL, nil)
	injCfg := memory.Config{
		Enabled:       true,
		BudgetEnabled: cfg.Memory.BudgetEnabled,
		TotalBudget:   cfg.Memory.TotalBudget,
		Fractions: map[memory.Tier]float64{
			memory.TierMandates:   cfg.Memory.MandatesFraction,
			memory.TierGuardrails: cfg.Memory.GuardrailsFraction,
			memory.TierReference:  cfg.Memory.ReferenceFraction,
		},
		Variants: cfg.Memory.Variants,
		OnInject: observability.RecordInjection,
	}
	slog.Info("memory injection enabled",
		"source", cfg.Memory.SourceURL,
		"budget_enabled", cfg.Memory.BudgetEnabled,
		"total_budget", cfg.Memory.TotalBudget,
	)
	return memory.New(source, injCfg)
}

// initAccess builds the access controller from the configured clients. With
// no master key and no clients the gateway runs unauthenticated.
func initAccess(cfg *config.Config) *access.Controller {
	if cfg.Server.MasterKey == "" && len(cfg.Clients) == 0 {
		slog.Warn("SECURITY WARNING: no master key or clients configured - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set AGENTHUB_MASTER_KEY or configure clients to secure this gateway")
		return nil
	}

	ids := make([]string, 0, len(cfg.Clients))
	for id := range cfg.Clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	clients := make([]access.ClientConfig, 0, len(ids))
	for _, id := range ids {
		c := cfg.Clients[id]
		clients = append(clients, access.ClientConfig{
			ID:             id,
			APIKey:         c.APIKey,
			Disabled:       c.Disabled,
			DisabledReason: c.KillReason,
			RateLimit:      c.RatePerMinute / 60.0,
			Burst:          c.Burst,
		})
	}

	slog.Info("authentication enabled",
		"master_key", cfg.Server.MasterKey != "",
		"clients", len(clients),
	)
	return access.NewController(cfg.Server.MasterKey, clients)
}

// initDispatcher builds the webhook dispatcher for the configured
// subscriptions; nil when there are none.
func initDispatcher(cfg *config.Config) *webhook.Dispatcher {
	if len(cfg.Webhooks.Subscriptions) == 0 {
		return nil
	}

	subs := make([]webhook.Subscription, 0, len(cfg.Webhooks.Subscriptions))
	for _, s := range cfg.Webhooks.Subscriptions {
		subs = append(subs, webhook.Subscription{
			ID:     s.ID,
			URL:    s.URL,
			Secret: s.Secret,
			Events: s.Events,
		})
	}

	return webhook.NewDispatcher(subs, nil, webhook.Config{
		MaxAttempts: cfg.Webhooks.MaxAttempts,
		BackoffBase: cfg.Webhooks.BackoffBase,
		BackoffCap:  cfg.Webhooks.BackoffCap,
		QueueSize:   cfg.Webhooks.QueueSize,
		EnqueueWait: cfg.Webhooks.EnqueueWait,
		OnAttempt:   observability.RecordWebhookAttempt,
		OnDropped:   observability.RecordWebhookDropped,
		OnFailed:    observability.RecordWebhookFailure,
	})
}

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Validate that at least one provider is configured
	if len(cfg.Providers) == 0 {
		slog.Error("at least one provider must be configured")
		os.Exit(1)
	}
	if len(cfg.Routing.Chain) == 0 {
		slog.Error("routing chain must name at least one provider")
		os.Exit(1)
	}

	// Persistence and cache backends
	st, err := initStore(cfg)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	respCache, err := initCache(cfg)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}

	// Instrument every adapter before any is built
	providers.SetGlobalHooks(observability.NewPrometheusHooks())

	// Sort provider names for deterministic initialization order
	providerNames := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		providerNames = append(providerNames, name)
	}
	sort.Strings(providerNames)

	adapters, err := providers.BuildAll(cfg.Providers)
	if err != nil {
		slog.Error("failed to initialize providers", "error", err)
		os.Exit(1)
	}
	for _, name := range providerNames {
		p, ok := adapters[name]
		if !ok {
			slog.Warn("provider skipped, no API key", "name", name)
			continue
		}
		slog.Info("provider initialized", "name", name, "capabilities", p.Capabilities().String())
	}
	if len(adapters) == 0 {
		slog.Error("no providers were successfully initialized")
		os.Exit(1)
	}

	// Resilience plane: error tracker plus the per-provider circuit breaker,
	// with the breaker's transitions mirrored into metrics via its observer
	// channel.
	tracker := resilience.NewTracker(resilience.TrackerConfig{
		Capacity:           cfg.Tracker.Capacity,
		ThrashingThreshold: cfg.Tracker.ThrashingThreshold,
		OnThrashing:        observability.RecordThrashing,
	})
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Threshold:    cfg.Circuit.Threshold,
		CooldownBase: cfg.Circuit.CooldownBase,
		CooldownMax:  cfg.Circuit.CooldownMax,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go observability.ObserveCircuits(ctx, breaker.Events())

	exec := executor.New(adapters, breaker, tracker, executor.Config{
		Chain:       cfg.Routing.Chain,
		CallTimeout: cfg.Routing.RequestTimeout,
	})

	costs := cost.NewTracker(st, cost.Config{
		OnUnknownModel: observability.RecordUnknownModel,
		OnUsage:        observability.RecordUsage,
	})

	dispatcher := initDispatcher(cfg)
	if dispatcher != nil {
		dispatcher.Start(ctx)
	}

	sessions := session.NewManager(st)
	reaper := session.NewReaper(st, session.ReaperConfig{
		Interval: cfg.Sessions.SweepInterval,
		Timeouts: session.Timeouts{
			store.KindCompletion:      cfg.Sessions.Timeouts.Completion,
			store.KindChat:            cfg.Sessions.Timeouts.Chat,
			store.KindRoundtable:      cfg.Sessions.Timeouts.Roundtable,
			store.KindImageGeneration: cfg.Sessions.Timeouts.ImageGeneration,
			store.KindAgent:           cfg.Sessions.Timeouts.Agent,
		},
		OnReaped: observability.RecordReaped,
	})
	reaper.Start(ctx)

	gw := gateway.New(gateway.Deps{
		Executor:   exec,
		Sessions:   sessions,
		Store:      st,
		Cache:      respCache,
		Injector:   initInjector(cfg),
		Costs:      costs,
		Dispatcher: dispatcher,
	}, gateway.Config{
		DefaultProvider: cfg.Routing.Chain[0],
		SessionKind:     store.KindCompletion,
		OnCacheHit:      observability.RecordCacheHit,
		OnCacheMiss:     observability.RecordCacheMiss,
	})

	srv := server.New(server.Deps{
		Gateway:   gw,
		Providers: adapters,
		Access:    initAccess(cfg),
	}, &server.Config{
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
	})

	addr := ":" + cfg.Server.Port
	slog.Info("starting server",
		"address", addr,
		"version", version.Info(),
		"chain", cfg.Routing.Chain,
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(addr)
	}()

	select {
	case err := <-errCh:
		slog.Error("server error", "error", err)
		os.Exit(1)
	case <-ctx.Done():
	}

	// Shutdown order: stop the background producers first, then drain the
	// listener.
	slog.Info("shutting down")
	reaper.Stop()
	if dispatcher != nil {
		dispatcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
