package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agenthub/internal/core"
)

func testResult(content string) *core.CompletionResult {
	return &core.CompletionResult{
		Content:      content,
		FinishReason: core.FinishStop,
		InputTokens:  10,
		OutputTokens: 20,
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-5",
	}
}

func TestCacheable(t *testing.T) {
	hot := 0.9
	cool := 0.5
	exact := 0.7

	tests := []struct {
		name string
		cfg  Config
		req  *core.CompletionRequest
		want bool
	}{
		{
			name: "default request",
			cfg:  DefaultConfig(),
			req:  &core.CompletionRequest{},
			want: true,
		},
		{
			name: "disabled cache",
			cfg:  Config{Enabled: false, TemperatureCutoff: 0.7},
			req:  &core.CompletionRequest{},
			want: false,
		},
		{
			name: "no_cache hint",
			cfg:  DefaultConfig(),
			req:  &core.CompletionRequest{NoCache: true},
			want: false,
		},
		{
			name: "temperature above cutoff",
			cfg:  DefaultConfig(),
			req:  &core.CompletionRequest{Temperature: &hot},
			want: false,
		},
		{
			name: "temperature below cutoff",
			cfg:  DefaultConfig(),
			req:  &core.CompletionRequest{Temperature: &cool},
			want: true,
		},
		{
			name: "temperature at cutoff",
			cfg:  DefaultConfig(),
			req:  &core.CompletionRequest{Temperature: &exact},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(NewMemoryBackend(8), tt.cfg)
			if got := c.Cacheable(tt.req); got != tt.want {
				t.Errorf("Cacheable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetOrFill_MissThenHit(t *testing.T) {
	c := New(NewMemoryBackend(8), DefaultConfig())
	calls := 0
	producer := func(context.Context) (*core.CompletionResult, error) {
		calls++
		return testResult("fresh"), nil
	}

	result, hit, err := c.GetOrFill(context.Background(), "fp-1", producer)
	if err != nil {
		t.Fatalf("GetOrFill() error = %v", err)
	}
	if hit {
		t.Error("first fill reported as hit")
	}
	if result.Content != "fresh" {
		t.Errorf("Content = %q, want %q", result.Content, "fresh")
	}

	result, hit, err = c.GetOrFill(context.Background(), "fp-1", producer)
	if err != nil {
		t.Fatalf("GetOrFill() error = %v", err)
	}
	if !hit {
		t.Error("second lookup missed")
	}
	if result.Content != "fresh" {
		t.Errorf("cached Content = %q, want %q", result.Content, "fresh")
	}
	if calls != 1 {
		t.Errorf("producer ran %d times, want 1", calls)
	}
}

func TestGetOrFill_CoalescesConcurrentBuilds(t *testing.T) {
	c := New(NewMemoryBackend(8), DefaultConfig())

	var producerRuns atomic.Int32
	release := make(chan struct{})
	producer := func(context.Context) (*core.CompletionResult, error) {
		producerRuns.Add(1)
		<-release
		return testResult("built once"), nil
	}

	const callers = 16
	var wg sync.WaitGroup
	var misses atomic.Int32
	started := make(chan struct{}, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started <- struct{}{}
			result, hit, err := c.GetOrFill(context.Background(), "fp-shared", producer)
			if err != nil {
				t.Errorf("GetOrFill() error = %v", err)
				return
			}
			if result.Content != "built once" {
				t.Errorf("Content = %q, want %q", result.Content, "built once")
			}
			if !hit {
				misses.Add(1)
			}
		}()
	}

	for i := 0; i < callers; i++ {
		<-started
	}
	// Callers have entered GetOrFill; let the single build finish.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := producerRuns.Load(); got != 1 {
		t.Errorf("producer ran %d times, want 1", got)
	}
	if got := misses.Load(); got != 1 {
		t.Errorf("%d callers reported a miss, want exactly 1", got)
	}
}

func TestGetOrFill_TruncatedNotStored(t *testing.T) {
	backend := NewMemoryBackend(8)
	c := New(backend, DefaultConfig())

	truncated := testResult("cut off")
	truncated.FinishReason = core.FinishLength
	calls := 0
	producer := func(context.Context) (*core.CompletionResult, error) {
		calls++
		return truncated, nil
	}

	result, hit, err := c.GetOrFill(context.Background(), "fp-trunc", producer)
	if err != nil {
		t.Fatalf("GetOrFill() error = %v", err)
	}
	if hit {
		t.Error("truncated build reported as hit")
	}
	if result.Content != "cut off" {
		t.Errorf("Content = %q, want %q", result.Content, "cut off")
	}
	if backend.Len() != 0 {
		t.Errorf("backend holds %d entries after truncated result, want 0", backend.Len())
	}

	if _, _, err := c.GetOrFill(context.Background(), "fp-trunc", producer); err != nil {
		t.Fatalf("GetOrFill() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("producer ran %d times, want 2 (truncated results rebuild)", calls)
	}
}

func TestGetOrFill_ProducerErrorNotCached(t *testing.T) {
	c := New(NewMemoryBackend(8), DefaultConfig())

	boom := errors.New("upstream down")
	calls := 0
	if _, _, err := c.GetOrFill(context.Background(), "fp-err", func(context.Context) (*core.CompletionResult, error) {
		calls++
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("GetOrFill() error = %v, want %v", err, boom)
	}

	result, hit, err := c.GetOrFill(context.Background(), "fp-err", func(context.Context) (*core.CompletionResult, error) {
		calls++
		return testResult("recovered"), nil
	})
	if err != nil {
		t.Fatalf("GetOrFill() error = %v", err)
	}
	if hit {
		t.Error("rebuild after error reported as hit")
	}
	if result.Content != "recovered" {
		t.Errorf("Content = %q, want %q", result.Content, "recovered")
	}
	if calls != 2 {
		t.Errorf("producer ran %d times, want 2", calls)
	}
}

func TestMemoryBackend_TTLExpiry(t *testing.T) {
	backend := NewMemoryBackend(8)
	now := time.Now()
	backend.now = func() time.Time { return now }

	ctx := context.Background()
	if err := backend.Set(ctx, "fp-ttl", testResult("perishable"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok, _ := backend.Get(ctx, "fp-ttl"); !ok {
		t.Fatal("entry missing before expiry")
	}

	now = now.Add(time.Minute + time.Second)
	if _, ok, _ := backend.Get(ctx, "fp-ttl"); ok {
		t.Error("entry survived past its TTL")
	}
	if backend.Len() != 0 {
		t.Errorf("expired entry not evicted on read, Len() = %d", backend.Len())
	}
}

func TestMemoryBackend_LRUEviction(t *testing.T) {
	backend := NewMemoryBackend(2)
	ctx := context.Background()

	if err := backend.Set(ctx, "a", testResult("a"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := backend.Set(ctx, "b", testResult("b"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Touch "a" so "b" becomes the eviction candidate.
	if _, ok, _ := backend.Get(ctx, "a"); !ok {
		t.Fatal("entry a missing")
	}
	if err := backend.Set(ctx, "c", testResult("c"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok, _ := backend.Get(ctx, "b"); ok {
		t.Error("least recently used entry b survived eviction")
	}
	if _, ok, _ := backend.Get(ctx, "a"); !ok {
		t.Error("recently used entry a was evicted")
	}
	if _, ok, _ := backend.Get(ctx, "c"); !ok {
		t.Error("newest entry c missing")
	}
}

func TestMemoryBackend_SetOverwrites(t *testing.T) {
	backend := NewMemoryBackend(2)
	ctx := context.Background()

	if err := backend.Set(ctx, "k", testResult("v1"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := backend.Set(ctx, "k", testResult("v2"), time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	result, ok, _ := backend.Get(ctx, "k")
	if !ok {
		t.Fatal("entry missing after overwrite")
	}
	if result.Content != "v2" {
		t.Errorf("Content = %q, want %q", result.Content, "v2")
	}
	if backend.Len() != 1 {
		t.Errorf("Len() = %d after overwrite, want 1", backend.Len())
	}
}
