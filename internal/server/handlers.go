package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"agenthub/internal/core"
	"agenthub/internal/gateway"
	"agenthub/internal/tier"
)

// healthTimeout bounds the adapter fan-in on /health.
const healthTimeout = 5 * time.Second

// Handler serves the gateway endpoints.
type Handler struct {
	gateway   *gateway.Gateway
	providers map[string]core.Provider
}

// NewHandler creates a new Handler
func NewHandler(gw *gateway.Gateway, providers map[string]core.Provider) *Handler {
	return &Handler{gateway: gw, providers: providers}
}

// Completion handles POST /v1/completions
func (h *Handler) Completion(c echo.Context) error {
	var req core.CompletionRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, core.NewInvalidRequestError("malformed request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, core.NewInvalidRequestError(err.Error(), err))
	}

	resp, err := h.gateway.Complete(c.Request().Context(), &req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Models handles GET /v1/models. It serves the tier tables, keyed by
// provider then tier, plus each provider's default model.
func (h *Handler) Models(c echo.Context) error {
	models := tier.Models()
	defaults := make(map[string]string, len(models))
	for provider := range models {
		defaults[provider] = tier.DefaultModel(provider)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"models":   models,
		"defaults": defaults,
	})
}

// Health handles GET /health. Adapters are probed concurrently; the endpoint
// reports degraded when some fail and 503 when all do.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	type probe struct {
		name string
		err  error
	}
	results := make(chan probe, len(h.providers))
	var wg sync.WaitGroup
	for name, p := range h.providers {
		if !p.Capabilities().Has(core.CapHealthCheck) {
			continue
		}
		wg.Add(1)
		go func(name string, p core.Provider) {
			defer wg.Done()
			results <- probe{name: name, err: p.HealthCheck(ctx)}
		}(name, p)
	}
	wg.Wait()
	close(results)

	providers := make(map[string]string)
	checked, healthy := 0, 0
	for r := range results {
		checked++
		if r.err != nil {
			providers[r.name] = r.err.Error()
			continue
		}
		providers[r.name] = "ok"
		healthy++
	}

	status, code := "ok", http.StatusOK
	switch {
	case checked > 0 && healthy == 0:
		status, code = "down", http.StatusServiceUnavailable
	case healthy < checked:
		status = "degraded"
	}
	return c.JSON(code, map[string]any{
		"status":    status,
		"providers": providers,
	})
}

// writeError renders the outbound error envelope. The status code comes
// solely from GatewayError.HTTPStatus; RetryAfter travels as a header,
// including the -1 dormant sentinel for kill-switched clients.
func writeError(c echo.Context, err error) error {
	gw := core.AsGatewayError(err)
	if gw == nil {
		slog.Error("Unclassified handler error", "error", err)
		gw = &core.GatewayError{Kind: "internal", Message: "internal error"}
	}

	if gw.RetryAfter != 0 {
		c.Response().Header().Set("Retry-After", strconv.Itoa(gw.RetryAfter))
	}

	body := map[string]any{
		"type":    string(gw.Kind),
		"message": gw.Message,
	}
	if gw.Provider != "" {
		body["provider"] = gw.Provider
	}
	if gw.RetryAfter != 0 {
		body["retry_after"] = gw.RetryAfter
	}
	return c.JSON(gw.HTTPStatus(), map[string]any{"error": body})
}
