// Package gemini adapts the Google Gemini generateContent API to the
// gateway's provider contract.
package gemini

import (
	"context"
	"net/http"
	"strings"

	"agenthub/internal/core"
	"agenthub/internal/llmclient"
	"agenthub/internal/providers"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Thinking budgets per requested level, passed through thinkingConfig.
var thinkingBudgets = map[core.ThinkingLevel]int{
	core.ThinkingLow:    2048,
	core.ThinkingMedium: 8192,
	core.ThinkingHigh:   16384,
}

func init() {
	// Self-register with the factory
	providers.RegisterProvider("gemini", New)
}

// Provider implements the core.Provider interface for Google Gemini
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Gemini provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig("gemini", defaultBaseURL)
	cfg.Hooks = providers.GetGlobalHooks()
	p.client = llmclient.New(cfg, p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new Gemini provider with a custom HTTP client
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig("gemini", defaultBaseURL)
	cfg.Hooks = providers.GetGlobalHooks()
	p.client = llmclient.NewWithHTTPClient(httpClient, cfg, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for Gemini API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "gemini" }

// Capabilities implements core.Provider.
func (p *Provider) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapComplete, core.CapHealthCheck)
}

// generateRequest is the native generateContent request body.
type generateRequest struct {
	Contents          []wireContent     `json:"contents"`
	SystemInstruction *wireContent      `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

// wireContent is a turn in Gemini's format. Roles are "user" and "model".
type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	MaxOutputTokens int             `json:"maxOutputTokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	ThinkingConfig  *thinkingConfig `json:"thinkingConfig,omitempty"`
}

type thinkingConfig struct {
	ThinkingBudget  int  `json:"thinkingBudget"`
	IncludeThoughts bool `json:"includeThoughts"`
}

type generateResponse struct {
	Candidates    []candidate   `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
	ModelVersion  string        `json:"modelVersion"`
}

type candidate struct {
	Content      wireContent `json:"content"`
	FinishReason string      `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount        int `json:"promptTokenCount"`
	CandidatesTokenCount    int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
	ThoughtsTokenCount      int `json:"thoughtsTokenCount"`
}

// buildRequest converts the gateway request to Gemini format. System messages
// move to systemInstruction; the assistant role becomes "model".
func buildRequest(req *core.CompletionRequest) *generateRequest {
	out := &generateRequest{
		Contents: make([]wireContent, 0, len(req.Messages)),
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Content.PlainText())
			continue
		}
		role := "user"
		if msg.Role == core.RoleAssistant {
			role = "model"
		}
		out.Contents = append(out.Contents, wireContent{
			Role:  role,
			Parts: wireParts(msg.Content),
		})
	}
	if len(system) > 0 {
		out.SystemInstruction = &wireContent{
			Parts: []wirePart{{Text: strings.Join(system, "\n\n")}},
		}
	}

	cfg := &generationConfig{
		MaxOutputTokens: req.MaxTokens,
		Temperature:     req.Temperature,
	}
	if budget, ok := thinkingBudgets[req.ThinkingLevel]; ok {
		cfg.ThinkingConfig = &thinkingConfig{ThinkingBudget: budget, IncludeThoughts: true}
	}
	if cfg.MaxOutputTokens != 0 || cfg.Temperature != nil || cfg.ThinkingConfig != nil {
		out.GenerationConfig = cfg
	}

	return out
}

func wireParts(content core.Content) []wirePart {
	if !content.IsBlocks() {
		return []wirePart{{Text: content.PlainText()}}
	}
	parts := make([]wirePart, 0, len(content.BlockList()))
	for _, b := range content.BlockList() {
		switch b.Type {
		case core.BlockImage:
			parts = append(parts, wirePart{
				InlineData: &inlineData{MimeType: b.MediaType, Data: b.Data},
			})
		case core.BlockText:
			parts = append(parts, wirePart{Text: b.Text})
		default:
			if b.Text != "" {
				parts = append(parts, wirePart{Text: b.Text})
			}
		}
	}
	return parts
}

// mapFinishReason normalizes Gemini finish reasons onto the gateway's finish
// reasons.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return core.FinishStop
	case "MAX_TOKENS":
		return core.FinishLength
	case "SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST", "RECITATION":
		return core.FinishContentFilter
	}
	return strings.ToLower(reason)
}

// Complete implements core.Provider.
func (p *Provider) Complete(ctx context.Context, req *core.CompletionRequest) (*core.CompletionResult, error) {
	body := buildRequest(req)

	var resp generateResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + req.Model + ":generateContent",
		Model:    req.Model,
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	var text, thinking []string
	finish := core.FinishStop
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		finish = mapFinishReason(cand.FinishReason)
		for _, part := range cand.Content.Parts {
			if part.Text == "" {
				continue
			}
			if part.Thought {
				thinking = append(thinking, part.Text)
			} else {
				text = append(text, part.Text)
			}
		}
	}

	servedModel := resp.ModelVersion
	if servedModel == "" {
		servedModel = req.Model
	}

	// Thought tokens bill as output.
	return &core.CompletionResult{
		Content:           strings.Join(text, ""),
		Thinking:          strings.Join(thinking, "\n"),
		FinishReason:      finish,
		InputTokens:       resp.UsageMetadata.PromptTokenCount,
		OutputTokens:      resp.UsageMetadata.CandidatesTokenCount + resp.UsageMetadata.ThoughtsTokenCount,
		CachedInputTokens: resp.UsageMetadata.CachedContentTokenCount,
		Provider:          "gemini",
		Model:             servedModel,
	}, nil
}

// HealthCheck implements core.Provider.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}
