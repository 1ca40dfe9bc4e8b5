package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{"empty string", "", nil, ""},
		{"no placeholders", "simple-string", nil, "simple-string"},
		{"simple expansion", "${API_KEY}", map[string]string{"API_KEY": "sk-12345"}, "sk-12345"},
		{"embedded variable", "prefix-${API_KEY}-suffix", map[string]string{"API_KEY": "sk-12345"}, "prefix-sk-12345-suffix"},
		{"multiple variables", "${SCHEME}://${HOST}", map[string]string{"SCHEME": "https", "HOST": "api.example.com"}, "https://api.example.com"},
		{"default used when missing", "${API_KEY:-default-key}", nil, "default-key"},
		{"default ignored when set", "${API_KEY:-default-key}", map[string]string{"API_KEY": "sk-real"}, "sk-real"},
		{"default used when empty", "${API_KEY:-default-key}", map[string]string{"API_KEY": ""}, "default-key"},
		{"default with colon", "${URL:-http://localhost:6379}", nil, "http://localhost:6379"},
		{"empty default", "${AGENTHUB_MASTER_KEY:-}", nil, ""},
		{"unresolved keeps placeholder", "${MISSING_VAR}", nil, "${MISSING_VAR}"},
		{"partial resolution", "${RESOLVED}-${UNRESOLVED}", map[string]string{"RESOLVED": "value1"}, "value1-${UNRESOLVED}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandString(tt.input))
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-456")
	t.Setenv("REDIS_URL", "redis://cache.internal:6379")
	t.Setenv("MEMORY_URL", "http://memory.internal:9000")
	t.Setenv("CLIENT_KEY", "ck-123")
	t.Setenv("HOOK_SECRET", "whsec-789")

	cfg := Config{
		Server: ServerConfig{Port: "${PORT:-8080}", MasterKey: "${AGENTHUB_MASTER_KEY:-}"},
		Providers: map[string]ProviderConfig{
			"anthropic": {Type: "anthropic", APIKey: "${ANTHROPIC_API_KEY}"},
			"gemini":    {Type: "gemini", APIKey: "${GEMINI_API_KEY}"},
		},
		Cache:  CacheConfig{Redis: RedisConfig{URL: "${REDIS_URL}"}},
		Store:  StoreConfig{Redis: RedisConfig{URL: "${REDIS_URL}"}},
		Memory: MemoryConfig{SourceURL: "${MEMORY_URL}"},
		Clients: map[string]ClientConfig{
			"cli": {APIKey: "${CLIENT_KEY}"},
		},
		Webhooks: WebhooksConfig{
			Subscriptions: []SubscriptionConfig{
				{ID: "audit", URL: "https://hooks.example.com/audit", Secret: "${HOOK_SECRET}"},
			},
		},
	}

	out := expandEnvVars(cfg)

	assert.Equal(t, "8080", out.Server.Port)
	assert.Equal(t, "", out.Server.MasterKey)
	assert.Equal(t, "sk-ant-456", out.Providers["anthropic"].APIKey)
	assert.Equal(t, "${GEMINI_API_KEY}", out.Providers["gemini"].APIKey, "unresolved placeholder survives for the filter pass")
	assert.Equal(t, "redis://cache.internal:6379", out.Cache.Redis.URL)
	assert.Equal(t, "redis://cache.internal:6379", out.Store.Redis.URL)
	assert.Equal(t, "http://memory.internal:9000", out.Memory.SourceURL)
	assert.Equal(t, "ck-123", out.Clients["cli"].APIKey)
	assert.Equal(t, "whsec-789", out.Webhooks.Subscriptions[0].Secret)
}

func TestExpandEnvVars_MasterKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envValue string
		setEnv   bool
		expected string
	}{
		{"unset with empty default is empty", "${AGENTHUB_MASTER_KEY:-}", "", false, ""},
		{"set uses the value", "${AGENTHUB_MASTER_KEY:-}", "my-secret-key", true, "my-secret-key"},
		{"unset without default keeps placeholder", "${AGENTHUB_MASTER_KEY}", "", false, "${AGENTHUB_MASTER_KEY}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv("AGENTHUB_MASTER_KEY", tt.envValue)
			}
			out := expandEnvVars(Config{Server: ServerConfig{MasterKey: tt.input}})
			assert.Equal(t, tt.expected, out.Server.MasterKey)
		})
	}
}

func TestRemoveEmptyProviders(t *testing.T) {
	cfg := Config{
		Providers: map[string]ProviderConfig{
			"anthropic": {Type: "anthropic", APIKey: "sk-ant-valid"},
			"gemini":    {Type: "gemini", APIKey: "${GEMINI_API_KEY}"},
			"openai":    {Type: "openai", APIKey: ""},
			"partial":   {Type: "openai", APIKey: "prefix-${UNRESOLVED}"},
		},
	}

	out := removeEmptyProviders(cfg)

	require.Len(t, out.Providers, 1)
	assert.Equal(t, "sk-ant-valid", out.Providers["anthropic"].APIKey)
}

func TestDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()

	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, []string{"anthropic", "gemini"}, cfg.Routing.Chain)
	assert.Equal(t, 120*time.Second, cfg.Routing.RequestTimeout)

	assert.Equal(t, 2, cfg.Circuit.Threshold)
	assert.Equal(t, 5*time.Second, cfg.Circuit.CooldownBase)
	assert.Equal(t, 2*time.Minute, cfg.Circuit.CooldownMax)
	assert.Equal(t, 10, cfg.Tracker.Capacity)
	assert.Equal(t, 2, cfg.Tracker.ThrashingThreshold)

	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1024, cfg.Cache.Capacity)
	assert.InDelta(t, 0.7, cfg.Cache.TemperatureCutoff, 0.0001)
	assert.Equal(t, "agenthub:cache", cfg.Cache.Redis.Prefix)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "agenthub:store", cfg.Store.Redis.Prefix)

	assert.False(t, cfg.Memory.Enabled)
	assert.True(t, cfg.Memory.BudgetEnabled)
	assert.Equal(t, 2000, cfg.Memory.TotalBudget)
	assert.InDelta(t, 0.50, cfg.Memory.MandatesFraction, 0.0001)
	assert.InDelta(t, 0.30, cfg.Memory.GuardrailsFraction, 0.0001)
	assert.InDelta(t, 0.20, cfg.Memory.ReferenceFraction, 0.0001)
	assert.Equal(t, []string{"control"}, cfg.Memory.Variants)

	assert.Equal(t, 5*time.Minute, cfg.Sessions.SweepInterval)
	assert.Equal(t, 10*time.Minute, cfg.Sessions.Timeouts.Completion)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.Timeouts.Chat)
	assert.Equal(t, 45*time.Minute, cfg.Sessions.Timeouts.Roundtable)
	assert.Equal(t, 15*time.Minute, cfg.Sessions.Timeouts.ImageGeneration)
	assert.Equal(t, 60*time.Minute, cfg.Sessions.Timeouts.Agent)

	assert.Equal(t, 5, cfg.Webhooks.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Webhooks.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Webhooks.BackoffCap)
	assert.Equal(t, 64, cfg.Webhooks.QueueSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Webhooks.EnqueueWait)

	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/metrics", cfg.Metrics.Endpoint)
}

func TestApplyEnvFallback(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	setDefaults()
	viper.AutomaticEnv()

	t.Setenv("PORT", "9090")
	t.Setenv("AGENTHUB_MASTER_KEY", "mk-1")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-1")
	t.Setenv("MEMORY_SOURCE_URL", "http://memory.internal:9000")

	var cfg Config
	require.NoError(t, viper.Unmarshal(&cfg))
	applyEnvFallback(&cfg)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "mk-1", cfg.Server.MasterKey)
	require.Contains(t, cfg.Providers, "anthropic")
	assert.Equal(t, "anthropic", cfg.Providers["anthropic"].Type)
	assert.Equal(t, "sk-ant-1", cfg.Providers["anthropic"].APIKey)
	assert.NotContains(t, cfg.Providers, "gemini", "no key means no provider entry")
	assert.Equal(t, "http://memory.internal:9000", cfg.Memory.SourceURL)
	assert.True(t, cfg.Memory.Enabled)
}
