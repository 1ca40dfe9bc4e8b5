package cache

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"agenthub/internal/core"
)

// Backend stores completion results by fingerprint. A miss is (nil, false,
// nil); errors are backend failures, not misses.
type Backend interface {
	Get(ctx context.Context, key string) (*core.CompletionResult, bool, error)
	Set(ctx context.Context, key string, result *core.CompletionResult, ttl time.Duration) error
}

// Config is the cacheability policy plus retention settings. The policy is
// deliberately configuration, not code: what counts as "too hot to cache"
// varies per deployment.
type Config struct {
	Enabled           bool
	TTL               time.Duration
	Capacity          int
	TemperatureCutoff float64
}

// DefaultConfig returns the stock cache settings.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		TTL:               5 * time.Minute,
		Capacity:          1024,
		TemperatureCutoff: 0.7,
	}
}

// Cache coalesces concurrent builds per fingerprint over a storage backend.
type Cache struct {
	backend Backend
	cfg     Config
	group   singleflight.Group
}

// New creates a cache over the given backend.
func New(backend Backend, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Cache{backend: backend, cfg: cfg}
}

// Cacheable reports whether a request may touch the cache at all. Requests
// above the temperature cutoff want fresh sampling, and an explicit no_cache
// hint always wins.
func (c *Cache) Cacheable(req *core.CompletionRequest) bool {
	if !c.cfg.Enabled || req.NoCache {
		return false
	}
	return req.TemperatureOrDefault(0) <= c.cfg.TemperatureCutoff
}

// GetOrFill returns the entry for the fingerprint, producing it at most once
// across concurrent callers. The hit flag is true whenever this caller's
// request did not run the producer: a stored entry or a coalesced in-flight
// build. Truncated results are returned but never stored.
func (c *Cache) GetOrFill(ctx context.Context, fingerprint string, producer func(context.Context) (*core.CompletionResult, error)) (*core.CompletionResult, bool, error) {
	if result, ok, err := c.backend.Get(ctx, fingerprint); err != nil {
		slog.Warn("cache read failed", "component", "cache", "error", err)
	} else if ok {
		return result, true, nil
	}

	produced := false
	v, err, _ := c.group.Do(fingerprint, func() (any, error) {
		// A concurrent flight may have stored the entry after our miss.
		if result, ok, err := c.backend.Get(ctx, fingerprint); err == nil && ok {
			return result, nil
		}

		result, err := producer(ctx)
		if err != nil {
			return nil, err
		}
		produced = true

		if !result.Truncated() {
			if err := c.backend.Set(ctx, fingerprint, result, c.cfg.TTL); err != nil {
				slog.Warn("cache write failed", "component", "cache", "error", err)
			}
		}
		return result, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(*core.CompletionResult), !produced, nil
}
