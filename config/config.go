// Package config provides configuration management for the application.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Routing   RoutingConfig             `mapstructure:"routing"`
	Circuit   CircuitConfig             `mapstructure:"circuit"`
	Tracker   TrackerConfig             `mapstructure:"tracker"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Store     StoreConfig               `mapstructure:"store"`
	Memory    MemoryConfig              `mapstructure:"memory"`
	Sessions  SessionsConfig            `mapstructure:"sessions"`
	Clients   map[string]ClientConfig   `mapstructure:"clients"`
	Webhooks  WebhooksConfig            `mapstructure:"webhooks"`
	Metrics   MetricsConfig             `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port      string `mapstructure:"port"`
	MasterKey string `mapstructure:"master_key"` // Optional: empty disables master-key auth
}

// ProviderConfig holds generic provider configuration
type ProviderConfig struct {
	Type    string `mapstructure:"type"`     // e.g., "anthropic", "gemini", "openai"
	APIKey  string `mapstructure:"api_key"`  // API key for authentication
	BaseURL string `mapstructure:"base_url"` // Optional: override default base URL
}

// RoutingConfig holds provider-chain configuration
type RoutingConfig struct {
	// Chain is the ordered list of provider names tried on each request.
	Chain []string `mapstructure:"chain"`
	// RequestTimeout is the per-adapter-call deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CircuitConfig holds circuit-breaker configuration
type CircuitConfig struct {
	Threshold    int           `mapstructure:"threshold"`
	CooldownBase time.Duration `mapstructure:"cooldown_base"`
	CooldownMax  time.Duration `mapstructure:"cooldown_max"`
}

// TrackerConfig holds failure-pattern tracker configuration
type TrackerConfig struct {
	Capacity           int `mapstructure:"capacity"`
	ThrashingThreshold int `mapstructure:"thrashing_threshold"`
}

// CacheConfig holds response-cache configuration
type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Backend selects the cache storage: "memory" (default) or "redis"
	Backend           string        `mapstructure:"backend"`
	TTL               time.Duration `mapstructure:"ttl"`
	Capacity          int           `mapstructure:"capacity"`
	TemperatureCutoff float64       `mapstructure:"temperature_cutoff"`
	Redis             RedisConfig   `mapstructure:"redis"`
}

// StoreConfig holds session-store configuration
type StoreConfig struct {
	// Backend selects the store: "memory" (default) or "redis"
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis-specific configuration
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379")
	URL string `mapstructure:"url"`
	// Prefix namespaces every key written by this deployment
	Prefix string `mapstructure:"prefix"`
}

// MemoryConfig holds memory-injection configuration
type MemoryConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	BudgetEnabled      bool     `mapstructure:"budget_enabled"`
	TotalBudget        int      `mapstructure:"total_budget"`
	MandatesFraction   float64  `mapstructure:"mandates_fraction"`
	GuardrailsFraction float64  `mapstructure:"guardrails_fraction"`
	ReferenceFraction  float64  `mapstructure:"reference_fraction"`
	Variants           []string `mapstructure:"variants"`
	// SourceURL points at the HTTP memory service; empty keeps injection off.
	SourceURL string `mapstructure:"source_url"`
}

// SessionsConfig holds session-reaper configuration
type SessionsConfig struct {
	SweepInterval time.Duration  `mapstructure:"sweep_interval"`
	Timeouts      TimeoutsConfig `mapstructure:"timeouts"`
}

// TimeoutsConfig holds per-kind idle timeouts
type TimeoutsConfig struct {
	Completion      time.Duration `mapstructure:"completion"`
	Chat            time.Duration `mapstructure:"chat"`
	Roundtable      time.Duration `mapstructure:"roundtable"`
	ImageGeneration time.Duration `mapstructure:"image_generation"`
	Agent           time.Duration `mapstructure:"agent"`
}

// ClientConfig declares one API client
type ClientConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Disabled is the kill switch; KillReason is surfaced verbatim to the
	// blocked caller.
	Disabled      bool    `mapstructure:"disabled"`
	KillReason    string  `mapstructure:"kill_reason"`
	RatePerMinute float64 `mapstructure:"rate_per_minute"` // 0 = unlimited
	Burst         int     `mapstructure:"burst"`
}

// WebhooksConfig holds webhook delivery configuration
type WebhooksConfig struct {
	Subscriptions []SubscriptionConfig `mapstructure:"subscriptions"`
	MaxAttempts   int                  `mapstructure:"max_attempts"`
	BackoffBase   time.Duration        `mapstructure:"backoff_base"`
	BackoffCap    time.Duration        `mapstructure:"backoff_cap"`
	QueueSize     int                  `mapstructure:"queue_size"`
	EnqueueWait   time.Duration        `mapstructure:"enqueue_wait"`
}

// SubscriptionConfig declares one webhook endpoint
type SubscriptionConfig struct {
	ID     string   `mapstructure:"id"`
	URL    string   `mapstructure:"url"`
	Secret string   `mapstructure:"secret"`
	Events []string `mapstructure:"events"` // empty = all events
}

// MetricsConfig holds observability configuration for Prometheus metrics
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	// Load .env file directly into environment variables
	// This ensures os.Getenv works for variables defined in .env
	_ = godotenv.Load() // Ignore error (e.g., file not found)

	// Load .env file using Viper (optional, won't fail if not found)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if .env file doesn't exist

	setDefaults()

	// Enable automatic environment variable reading
	viper.AutomaticEnv()

	// Try to read config.yaml
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	var cfg Config

	// Read config file (optional, won't fail if not found)
	if err := viper.ReadInConfig(); err == nil {
		// Config file found, unmarshal it
		if err := viper.Unmarshal(&cfg); err != nil {
			return nil, err
		}
		// Expand environment variables in config values
		cfg = expandEnvVars(cfg)
		// Remove providers with unresolved environment variables
		cfg = removeEmptyProviders(cfg)
	} else {
		// No config file: unmarshal the defaults, then overlay the flat
		// environment variables (legacy support)
		if err := viper.Unmarshal(&cfg); err != nil {
			return nil, err
		}
		applyEnvFallback(&cfg)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("routing.chain", []string{"anthropic", "gemini"})
	viper.SetDefault("routing.request_timeout", "120s")
	viper.SetDefault("circuit.threshold", 2)
	viper.SetDefault("circuit.cooldown_base", "5s")
	viper.SetDefault("circuit.cooldown_max", "2m")
	viper.SetDefault("tracker.capacity", 10)
	viper.SetDefault("tracker.thrashing_threshold", 2)
	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.backend", "memory")
	viper.SetDefault("cache.ttl", "5m")
	viper.SetDefault("cache.capacity", 1024)
	viper.SetDefault("cache.temperature_cutoff", 0.7)
	viper.SetDefault("cache.redis.prefix", "agenthub:cache")
	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.redis.prefix", "agenthub:store")
	viper.SetDefault("memory.enabled", false)
	viper.SetDefault("memory.budget_enabled", true)
	viper.SetDefault("memory.total_budget", 2000)
	viper.SetDefault("memory.mandates_fraction", 0.50)
	viper.SetDefault("memory.guardrails_fraction", 0.30)
	viper.SetDefault("memory.reference_fraction", 0.20)
	viper.SetDefault("memory.variants", []string{"control"})
	viper.SetDefault("sessions.sweep_interval", "5m")
	viper.SetDefault("sessions.timeouts.completion", "10m")
	viper.SetDefault("sessions.timeouts.chat", "30m")
	viper.SetDefault("sessions.timeouts.roundtable", "45m")
	viper.SetDefault("sessions.timeouts.image_generation", "15m")
	viper.SetDefault("sessions.timeouts.agent", "60m")
	viper.SetDefault("webhooks.max_attempts", 5)
	viper.SetDefault("webhooks.backoff_base", "500ms")
	viper.SetDefault("webhooks.backoff_cap", "30s")
	viper.SetDefault("webhooks.queue_size", 64)
	viper.SetDefault("webhooks.enqueue_wait", "50ms")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.endpoint", "/metrics")
}

// applyEnvFallback overlays the flat environment variables recognized when no
// config file is present.
func applyEnvFallback(cfg *Config) {
	if port := viper.GetString("PORT"); port != "" {
		cfg.Server.Port = port
	}
	cfg.Server.MasterKey = viper.GetString("AGENTHUB_MASTER_KEY")

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ProviderConfig)
	}
	for name, envKey := range map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"openai":    "OPENAI_API_KEY",
	} {
		if apiKey := viper.GetString(envKey); apiKey != "" {
			cfg.Providers[name] = ProviderConfig{Type: name, APIKey: apiKey}
		}
	}

	if url := viper.GetString("REDIS_URL"); url != "" {
		cfg.Cache.Redis.URL = url
		cfg.Store.Redis.URL = url
	}
	if url := viper.GetString("MEMORY_SOURCE_URL"); url != "" {
		cfg.Memory.SourceURL = url
		cfg.Memory.Enabled = true
	}
}

// expandEnvVars expands environment variable references in configuration values
func expandEnvVars(cfg Config) Config {
	cfg.Server.Port = expandString(cfg.Server.Port)
	cfg.Server.MasterKey = expandString(cfg.Server.MasterKey)

	for name, pCfg := range cfg.Providers {
		pCfg.APIKey = expandString(pCfg.APIKey)
		pCfg.BaseURL = expandString(pCfg.BaseURL)
		cfg.Providers[name] = pCfg
	}

	cfg.Cache.Redis.URL = expandString(cfg.Cache.Redis.URL)
	cfg.Cache.Redis.Prefix = expandString(cfg.Cache.Redis.Prefix)
	cfg.Store.Redis.URL = expandString(cfg.Store.Redis.URL)
	cfg.Store.Redis.Prefix = expandString(cfg.Store.Redis.Prefix)

	cfg.Memory.SourceURL = expandString(cfg.Memory.SourceURL)

	for id, cCfg := range cfg.Clients {
		cCfg.APIKey = expandString(cCfg.APIKey)
		cfg.Clients[id] = cCfg
	}

	for i, sub := range cfg.Webhooks.Subscriptions {
		sub.URL = expandString(sub.URL)
		sub.Secret = expandString(sub.Secret)
		cfg.Webhooks.Subscriptions[i] = sub
	}

	cfg.Metrics.Endpoint = expandString(cfg.Metrics.Endpoint)

	return cfg
}

// expandString expands environment variable references like ${VAR_NAME} or ${VAR_NAME:-default} in a string
func expandString(s string) string {
	if s == "" {
		return s
	}
	return os.Expand(s, func(key string) string {
		// Check for default value syntax ${VAR:-default}
		varname := key
		defaultValue := ""
		hasDefault := false
		if strings.Contains(key, ":-") {
			parts := strings.SplitN(key, ":-", 2)
			varname = parts[0]
			defaultValue = parts[1]
			hasDefault = true
		}

		// Try to get from environment
		value := os.Getenv(varname)
		if value == "" {
			// If default syntax was used (even with empty default), return the default
			if hasDefault {
				return defaultValue
			}
			// If not in environment and no default syntax, return the original placeholder
			// This allows config to work with or without env vars
			return "${" + key + "}"
		}
		return value
	})
}

// removeEmptyProviders removes providers with empty API keys
func removeEmptyProviders(cfg Config) Config {
	filteredProviders := make(map[string]ProviderConfig)
	for name, pCfg := range cfg.Providers {
		// Keep provider only if API key doesn't contain unexpanded placeholders
		if pCfg.APIKey != "" && !strings.Contains(pCfg.APIKey, "${") {
			filteredProviders[name] = pCfg
		}
	}
	cfg.Providers = filteredProviders
	return cfg
}
