// Package llmclient provides the base HTTP client shared by provider
// adapters:
// - Request building and JSON marshaling/unmarshaling
// - Exhaustive upstream error parsing into the gateway taxonomy
// - Observability hooks for request lifecycle events
//
// It performs exactly one attempt per call. Fallback across providers and
// circuit breaking belong to the chain executor, which needs to see each
// failure to account for provider health.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"agenthub/internal/core"
	"agenthub/internal/httpclient"
)

// RequestInfo contains metadata about a request for observability hooks
type RequestInfo struct {
	Provider string // Provider name (e.g., "anthropic", "gemini")
	Model    string // Model name (e.g., "claude-sonnet-4-5")
	Endpoint string // API endpoint (e.g., "/messages")
	Method   string // HTTP method (e.g., "POST", "GET")
}

// ResponseInfo contains metadata about a response for observability hooks
type ResponseInfo struct {
	Provider   string        // Provider name
	Model      string        // Model name
	Endpoint   string        // API endpoint
	StatusCode int           // HTTP status code (0 if network error)
	Duration   time.Duration // Request duration
	Error      error         // Error if request failed (nil on success)
}

// Hooks defines observability callbacks for request lifecycle events.
// These hooks enable instrumentation without polluting business logic.
type Hooks struct {
	// OnRequestStart is called before a request is sent.
	// The returned context can be used to propagate trace spans or request IDs.
	OnRequestStart func(ctx context.Context, info RequestInfo) context.Context

	// OnRequestEnd is called after a request completes (success or failure).
	OnRequestEnd func(ctx context.Context, info ResponseInfo)
}

// Config holds configuration for the LLM client
type Config struct {
	// ProviderName identifies the provider for error attribution
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Hooks for observability (metrics, tracing, logging)
	Hooks Hooks
}

// DefaultConfig returns default client configuration
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName: providerName,
		BaseURL:      baseURL,
	}
}

// HeaderSetter is a function that sets headers on an HTTP request
type HeaderSetter func(req *http.Request)

// Client is a base HTTP client for LLM providers
type Client struct {
	mu           sync.RWMutex
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
}

// New creates a new LLM client with the given configuration
func New(config Config, headerSetter HeaderSetter) *Client {
	return &Client{
		httpClient:   httpclient.NewDefaultHTTPClient(),
		config:       config,
		headerSetter: headerSetter,
	}
}

// NewWithHTTPClient creates a new LLM client with a custom HTTP client
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
	}
}

// SetBaseURL updates the base URL (thread-safe)
func (c *Client) SetBaseURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.BaseURL = url
}

// BaseURL returns the current base URL (thread-safe)
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.BaseURL
}

// Request represents an HTTP request to be made
type Request struct {
	Method   string
	Endpoint string
	// Model is the model named in the body, surfaced to observability hooks.
	Model   string
	Body    interface{} // Will be JSON marshaled if not nil
	Headers map[string]string
}

// Response represents an HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do executes a request and unmarshals the response body into result.
func (c *Client) Do(ctx context.Context, req Request, result interface{}) error {
	resp, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(resp.Body, result); err != nil {
			return core.NewProviderError(c.config.ProviderName, http.StatusBadGateway, "failed to unmarshal response: "+err.Error(), err)
		}
	}

	return nil
}

// DoRaw executes a single request, returning the raw response.
//
// Hooks are called exactly once per call: OnRequestStart before the send,
// OnRequestEnd with the final status (0 for network failures) and total
// duration. Non-2xx responses are parsed into the gateway error taxonomy
// with the response headers available for Retry-After extraction; the caller
// decides what a failure means for provider health.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	modelName := req.Model
	if modelName == "" {
		modelName = "unknown"
	}

	reqInfo := RequestInfo{
		Provider: c.config.ProviderName,
		Model:    modelName,
		Endpoint: req.Endpoint,
		Method:   req.Method,
	}

	if c.config.Hooks.OnRequestStart != nil {
		ctx = c.config.Hooks.OnRequestStart(ctx, reqInfo)
	}

	callEndHook := func(statusCode int, err error) {
		if c.config.Hooks.OnRequestEnd != nil {
			c.config.Hooks.OnRequestEnd(ctx, ResponseInfo{
				Provider:   c.config.ProviderName,
				Model:      modelName,
				Endpoint:   req.Endpoint,
				StatusCode: statusCode,
				Duration:   time.Since(start),
				Error:      err,
			})
		}
	}

	resp, err := c.doRequest(ctx, req)
	if err != nil {
		callEndHook(extractStatusCode(err), err)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		parsedErr := core.ParseProviderError(c.config.ProviderName, resp.StatusCode, resp.Body, resp.Header)
		callEndHook(resp.StatusCode, parsedErr)
		return nil, parsedErr
	}

	callEndHook(resp.StatusCode, nil)
	return resp, nil
}

// extractStatusCode tries to extract HTTP status code from an error
func extractStatusCode(err error) int {
	if gw := core.AsGatewayError(err); gw != nil {
		return gw.StatusCode
	}
	// Network or unknown error
	return 0
}

// doRequest executes a single HTTP request.
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, 0, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, 0, "failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	// Validate request
	if req.Method == "" {
		return nil, core.NewInvalidRequestError("HTTP method is required", nil)
	}
	if req.Endpoint == "" {
		return nil, core.NewInvalidRequestError("endpoint is required", nil)
	}

	// Validate HTTP method
	switch req.Method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions:
		// Valid methods
	default:
		return nil, core.NewInvalidRequestError(fmt.Sprintf("invalid HTTP method: %s", req.Method), nil)
	}

	url := c.BaseURL() + req.Endpoint

	var bodyReader io.Reader
	if req.Body != nil {
		bodyBytes, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInvalidRequestError("failed to marshal request", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, bodyReader)
	if err != nil {
		return nil, core.NewInvalidRequestError("failed to create request", err)
	}

	// Set default content type for requests with body
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	// Apply provider-specific headers
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}

	// Apply request-specific headers
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}
