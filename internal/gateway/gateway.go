// Package gateway threads a completion request through the routing pipeline:
// session resolution, tier classification, cache lookup, memory injection,
// chain execution, cost accounting, message persistence, and event fan-out.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"agenthub/internal/cache"
	"agenthub/internal/core"
	"agenthub/internal/cost"
	"agenthub/internal/executor"
	"agenthub/internal/memory"
	"agenthub/internal/session"
	"agenthub/internal/store"
	"agenthub/internal/tier"
	"agenthub/internal/webhook"
)

// Config holds the gateway's routing options.
type Config struct {
	// DefaultProvider selects the tier model table used when a request
	// carries no explicit model.
	DefaultProvider string
	// SessionKind is recorded for sessions minted by the gateway.
	SessionKind store.SessionKind

	// Metric hooks, fired per cacheable request.
	OnCacheHit  func()
	OnCacheMiss func()
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		DefaultProvider: "anthropic",
		SessionKind:     store.KindCompletion,
	}
}

// Response is the outbound completion shape.
type Response struct {
	Content      string     `json:"content"`
	Thinking     string     `json:"thinking,omitempty"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	Usage        core.Usage `json:"usage"`
	SessionID    string     `json:"session_id"`
	FinishReason string     `json:"finish_reason"`
	Tier         string     `json:"tier,omitempty"`
	Cached       bool       `json:"cached,omitempty"`
}

// Deps are the pipeline collaborators, wired once at startup. Executor,
// Sessions, and Store are required; a nil Cache, Injector, Costs, or
// Dispatcher disables that stage.
type Deps struct {
	Executor   *executor.Executor
	Sessions   *session.Manager
	Store      store.Store
	Cache      *cache.Cache
	Injector   *memory.Injector
	Costs      *cost.Tracker
	Dispatcher *webhook.Dispatcher
}

// Gateway owns the request-scoped pipeline. All collaborators are injected
// at construction; the gateway itself holds no mutable state beyond them.
type Gateway struct {
	cfg        Config
	exec       *executor.Executor
	cache      *cache.Cache
	injector   *memory.Injector
	costs      *cost.Tracker
	sessions   *session.Manager
	store      store.Store
	dispatcher *webhook.Dispatcher
}

// New wires the pipeline from its collaborators.
func New(deps Deps, cfg Config) *Gateway {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.SessionKind == "" {
		cfg.SessionKind = store.KindCompletion
	}
	return &Gateway{
		cfg:        cfg,
		exec:       deps.Executor,
		cache:      deps.Cache,
		injector:   deps.Injector,
		costs:      deps.Costs,
		sessions:   deps.Sessions,
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
	}
}

// Complete runs one request through the pipeline. Requests on the same
// session are serialized so their message appends never interleave; requests
// on distinct sessions proceed in parallel.
func (g *Gateway) Complete(ctx context.Context, req *core.CompletionRequest) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, core.NewInvalidRequestError("messages must not be empty", nil)
	}
	if !req.ThinkingLevel.Valid() {
		return nil, core.NewInvalidRequestError(fmt.Sprintf("unknown thinking level %q", req.ThinkingLevel), nil)
	}

	res, err := g.sessions.Resolve(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	unlock := g.sessions.Lock(res.ID)
	defer unlock()

	sel := tier.Resolve(req, g.cfg.DefaultProvider)

	history, err := g.sessions.History(ctx, res)
	if err != nil {
		return nil, err
	}

	// The prompt the provider sees is history plus the request's messages;
	// the fingerprint covers the same so replays across sessions are safe.
	prompt := req.Messages
	if len(history) > 0 {
		prompt = make([]core.Message, 0, len(history)+len(req.Messages))
		prompt = append(prompt, history...)
		prompt = append(prompt, req.Messages...)
	}

	externalID := ""
	if res.Session != nil {
		externalID = res.Session.ExternalID
	}

	produce := func(ctx context.Context) (*core.CompletionResult, error) {
		return g.produce(ctx, req, res.ID, sel.Model, prompt, externalID)
	}

	result, hit, err := g.lookupOrProduce(ctx, req, sel.Model, prompt, produce)
	if err != nil {
		return nil, err
	}

	if err := g.persistTurn(ctx, res, req, result); err != nil {
		return nil, err
	}

	g.emitFinished(res.ID, result, hit)

	return &Response{
		Content:      result.Content,
		Thinking:     result.Thinking,
		Model:        result.Model,
		Provider:     result.Provider,
		Usage:        result.Usage(),
		SessionID:    res.ID,
		FinishReason: result.FinishReason,
		Tier:         sel.Tier.String(),
		Cached:       hit,
	}, nil
}

// lookupOrProduce consults the cache when the request is cacheable,
// coalescing concurrent identical requests, and falls back to a direct
// provider call otherwise. Cache machinery failures degrade to the direct
// path rather than failing the request.
func (g *Gateway) lookupOrProduce(ctx context.Context, req *core.CompletionRequest, model string, prompt []core.Message, produce func(context.Context) (*core.CompletionResult, error)) (*core.CompletionResult, bool, error) {
	if g.cache == nil || !g.cache.Cacheable(req) {
		result, err := produce(ctx)
		return result, false, err
	}

	keyed := *req
	keyed.Messages = prompt
	fingerprint, err := cache.Fingerprint(&keyed, model)
	if err != nil {
		slog.Warn("Failed to fingerprint request, bypassing cache", "error", err)
		result, err := produce(ctx)
		return result, false, err
	}

	result, hit, err := g.cache.GetOrFill(ctx, fingerprint, produce)
	if err != nil {
		return nil, false, err
	}
	if hit {
		if g.cfg.OnCacheHit != nil {
			g.cfg.OnCacheHit()
		}
	} else if g.cfg.OnCacheMiss != nil {
		g.cfg.OnCacheMiss()
	}
	return result, hit, nil
}

// produce is the cache-miss path: inject memory, execute the provider
// chain, and account cost. Exactly one cost record is written per provider
// call, so coalesced callers never double-charge.
func (g *Gateway) produce(ctx context.Context, req *core.CompletionRequest, sessionID, model string, prompt []core.Message, externalID string) (*core.CompletionResult, error) {
	messages := prompt
	if g.injector != nil {
		if inj := g.injector.Inject(ctx, req.LastUserMessage(), req.ProjectID, externalID); !inj.Empty() {
			messages = make([]core.Message, 0, len(prompt)+1)
			messages = append(messages, core.Message{Role: core.RoleSystem, Content: core.Text(inj.Content)})
			messages = append(messages, prompt...)
		}
	}

	call := *req
	call.Model = model
	call.Messages = messages

	result, err := g.exec.Execute(ctx, &call)
	if err != nil {
		return nil, err
	}

	if g.costs != nil {
		if _, err := g.costs.Record(ctx, sessionID, result); err != nil {
			slog.Error("Failed to record completion cost",
				"session_id", sessionID,
				"model", result.Model,
				"error", err,
			)
		}
	}
	return result, nil
}

// persistTurn creates a minted session on its first successful completion,
// then appends the request's conversational messages and the assistant
// reply. Append failures fail the request, otherwise the reply would be
// lost from the session log.
func (g *Gateway) persistTurn(ctx context.Context, res *session.Resolution, req *core.CompletionRequest, result *core.CompletionResult) error {
	if err := g.sessions.EnsureCreated(ctx, res, req.ProjectID, g.cfg.SessionKind); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			continue
		}
		stored := store.Message{Role: msg.Role, Content: msg.Content}
		if _, err := g.store.AppendMessage(ctx, res.ID, &stored); err != nil {
			return fmt.Errorf("failed to append %s message: %w", msg.Role, err)
		}
	}

	assistant := store.Message{
		Role:     core.RoleAssistant,
		Content:  core.Text(result.Content),
		Provider: result.Provider,
		Model:    result.Model,
	}
	if _, err := g.store.AppendMessage(ctx, res.ID, &assistant); err != nil {
		return fmt.Errorf("failed to append assistant message: %w", err)
	}
	return nil
}

// emitFinished fans the completion out to webhook subscribers. Delivery is
// asynchronous and never affects the reply.
func (g *Gateway) emitFinished(sessionID string, result *core.CompletionResult, cached bool) {
	if g.dispatcher == nil {
		return
	}
	g.dispatcher.Dispatch(webhook.Event{
		ID:        uuid.NewString(),
		Type:      webhook.EventCompletionFinished,
		CreatedAt: time.Now(),
		Data: map[string]any{
			"session_id":    sessionID,
			"provider":      result.Provider,
			"model":         result.Model,
			"finish_reason": result.FinishReason,
			"input_tokens":  result.InputTokens,
			"output_tokens": result.OutputTokens,
			"cached":        cached,
		},
	})
}
