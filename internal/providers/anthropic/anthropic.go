// Package anthropic adapts the Anthropic Messages API to the gateway's
// provider contract.
package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"agenthub/internal/core"
	"agenthub/internal/llmclient"
	"agenthub/internal/providers"
)

const (
	defaultBaseURL      = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	defaultMaxTokens    = 4096
)

// Extended-thinking budgets per requested level. The output cap must exceed
// the budget or the API rejects the request.
var thinkingBudgets = map[core.ThinkingLevel]int{
	core.ThinkingLow:    2048,
	core.ThinkingMedium: 8192,
	core.ThinkingHigh:   16384,
}

func init() {
	// Self-register with the factory
	providers.RegisterProvider("anthropic", New)
}

// Provider implements the core.Provider interface for Anthropic
type Provider struct {
	client *llmclient.Client
	apiKey string
}

// New creates a new Anthropic provider
func New(apiKey string) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig("anthropic", defaultBaseURL)
	cfg.Hooks = providers.GetGlobalHooks()
	p.client = llmclient.New(cfg, p.setHeaders)
	return p
}

// NewWithHTTPClient creates a new Anthropic provider with a custom HTTP client
func NewWithHTTPClient(apiKey string, httpClient *http.Client) *Provider {
	p := &Provider{apiKey: apiKey}
	cfg := llmclient.DefaultConfig("anthropic", defaultBaseURL)
	cfg.Hooks = providers.GetGlobalHooks()
	p.client = llmclient.NewWithHTTPClient(httpClient, cfg, p.setHeaders)
	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(url)
}

// setHeaders sets the required headers for Anthropic API requests
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

// Name implements core.Provider.
func (p *Provider) Name() string { return "anthropic" }

// Capabilities implements core.Provider.
func (p *Provider) Capabilities() core.CapabilitySet {
	return core.NewCapabilitySet(core.CapComplete, core.CapHealthCheck)
}

// messagesRequest represents the Anthropic API request format
type messagesRequest struct {
	Model       string         `json:"model"`
	Messages    []wireMessage  `json:"messages"`
	MaxTokens   int            `json:"max_tokens"`
	Temperature *float64       `json:"temperature,omitempty"`
	System      string         `json:"system,omitempty"`
	Thinking    *thinkingParam `json:"thinking,omitempty"`
}

// wireMessage carries either a plain string or a block array as content.
type wireMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type thinkingParam struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// contentBlock is the Anthropic block shape. It matches the gateway's block
// variant except for images, which nest their payload under source.
type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *imageSource    `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// messagesResponse represents the Anthropic API response format
type messagesResponse struct {
	ID         string          `json:"id"`
	Content    []responseBlock `json:"content"`
	Model      string          `json:"model"`
	StopReason string          `json:"stop_reason"`
	Usage      responseUsage   `json:"usage"`
}

type responseBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Thinking string `json:"thinking,omitempty"`
}

type responseUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens"`
}

// buildRequest converts the gateway request to Anthropic format. System
// messages move to the dedicated system slot.
func buildRequest(req *core.CompletionRequest) *messagesRequest {
	out := &messagesRequest{
		Model:       req.Model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = defaultMaxTokens
	}

	var system []string
	for _, msg := range req.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg.Content.PlainText())
			continue
		}
		out.Messages = append(out.Messages, wireMessage{
			Role:    msg.Role,
			Content: wireContent(msg.Content),
		})
	}
	out.System = strings.Join(system, "\n\n")

	if budget, ok := thinkingBudgets[req.ThinkingLevel]; ok {
		out.Thinking = &thinkingParam{Type: "enabled", BudgetTokens: budget}
		if out.MaxTokens <= budget {
			out.MaxTokens = budget + defaultMaxTokens
		}
		// Extended thinking requires the default temperature.
		out.Temperature = nil
	}

	return out
}

func wireContent(content core.Content) any {
	if !content.IsBlocks() {
		return content.PlainText()
	}
	blocks := make([]contentBlock, 0, len(content.BlockList()))
	for _, b := range content.BlockList() {
		switch b.Type {
		case core.BlockImage:
			blocks = append(blocks, contentBlock{
				Type:   core.BlockImage,
				Source: &imageSource{Type: "base64", MediaType: b.MediaType, Data: b.Data},
			})
		default:
			blocks = append(blocks, contentBlock{
				Type:      b.Type,
				Text:      b.Text,
				ID:        b.ID,
				Name:      b.Name,
				Input:     b.Input,
				ToolUseID: b.ToolUseID,
				Content:   b.Content,
				IsError:   b.IsError,
			})
		}
	}
	return blocks
}

// mapStopReason normalizes Anthropic stop reasons onto the gateway's finish
// reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return core.FinishStop
	case "max_tokens":
		return core.FinishLength
	case "tool_use":
		return core.FinishToolUse
	case "refusal":
		return core.FinishContentFilter
	}
	return reason
}

// Complete implements core.Provider.
func (p *Provider) Complete(ctx context.Context, req *core.CompletionRequest) (*core.CompletionResult, error) {
	body := buildRequest(req)

	var resp messagesResponse
	err := p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/messages",
		Model:    req.Model,
		Body:     body,
	}, &resp)
	if err != nil {
		return nil, err
	}

	var text, thinking []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "thinking":
			thinking = append(thinking, block.Thinking)
		}
	}

	servedModel := resp.Model
	if servedModel == "" {
		servedModel = req.Model
	}

	return &core.CompletionResult{
		Content:           strings.Join(text, ""),
		Thinking:          strings.Join(thinking, "\n"),
		FinishReason:      mapStopReason(resp.StopReason),
		InputTokens:       resp.Usage.InputTokens,
		OutputTokens:      resp.Usage.OutputTokens,
		CachedInputTokens: resp.Usage.CacheReadInputTokens,
		Provider:          "anthropic",
		Model:             servedModel,
	}, nil
}

// HealthCheck implements core.Provider. The models listing is the cheapest
// authenticated call the API offers.
func (p *Provider) HealthCheck(ctx context.Context) error {
	return p.client.Do(ctx, llmclient.Request{
		Method:   http.MethodGet,
		Endpoint: "/models",
	}, nil)
}
