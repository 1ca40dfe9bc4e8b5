// Package openai reserves the OpenAI provider slot. The adapter carries
// credentials and answers health checks but does not serve completions yet.
package openai

import (
	"context"
	"net/http"

	"agenthub/internal/core"
	"agenthub/internal/llmclient"
	"agenthub/internal/providers"
)

const defaultBaseURL = "https://api.openai.com/v1"

func init() {
	// Self-register with the factory
	providers.RegisterProvider("openai", New)
}

// Provider implements the core.Provider interface for OpenAI
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new OpenAI provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig("openai", defaultBaseURL)
	cfg.Hooks = providers.GetGlobalHooks()
	p.client = llmclient.New(cfg, p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new OpenAI provider with a custom HTTP client
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig("openai", defaultBaseURL)
	cfg.Hooks = providers.GetGlobalHooks()
	p.client = llmclient.NewWithHTTPClient(httpClient, cfg, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for OpenAI API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "openai" }

// Capabilities implements core.Provider. Completion support is not announced
// until the adapter grows a real Complete.
func (p *Provider) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapHealthCheck)
}

// Complete implements core.Provider.
func (p *Provider) Complete(ctx context.Context, req *core.CompletionRequest) (*core.CompletionResult, error) {
	return nil, core.NewNotSupportedError("openai", "completions")
}

// HealthCheck implements core.Provider.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}
