// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"agenthub/internal/access"
	"agenthub/internal/core"
	"agenthub/internal/gateway"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
}

// Deps are the server's collaborators. A nil Access controller disables
// authentication entirely (unsafe mode).
type Deps struct {
	Gateway   *gateway.Gateway
	Providers map[string]core.Provider
	Access    *access.Controller
}

// requestValidator adapts go-playground/validator to Echo's Validator hook.
type requestValidator struct {
	validate *validator.Validate
}

func (v *requestValidator) Validate(i any) error {
	return v.validate.Struct(i)
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validate: validator.New()}

	// Global middleware (applies to all routes)
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "HTTP request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	handler := NewHandler(deps.Gateway, deps.Providers)

	// Public routes (no authentication required)
	// These must be registered BEFORE auth middleware is applied
	e.GET("/health", handler.Health)

	// Conditionally register metrics endpoint (public, no auth)
	if cfg != nil && cfg.MetricsEnabled {
		metricsPath := cfg.MetricsEndpoint
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		// Normalize path to prevent traversal attacks (e.g., /v1/../admin -> /admin)
		// and then validate it doesn't shadow protected API routes
		metricsPath = path.Clean(metricsPath)
		if metricsPath == "/v1" || strings.HasPrefix(metricsPath, "/v1/") {
			slog.Warn("metrics endpoint path conflicts with API routes, using /metrics instead",
				"configured_path", cfg.MetricsEndpoint,
				"normalized_path", metricsPath)
			metricsPath = "/metrics"
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// API routes group with authentication and body size limit
	api := e.Group("/v1")

	// Add body size limit to prevent DoS (10MB max)
	api.Use(middleware.BodyLimit("10M"))

	// Add authentication middleware if an access controller is configured
	if deps.Access != nil {
		api.Use(AuthMiddleware(deps.Access))
	}

	api.GET("/models", handler.Models)
	api.POST("/completions", handler.Completion)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
