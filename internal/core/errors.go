package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind classifies a GatewayError. Kinds are ordered here by decreasing
// locality of recovery: circuit-open and rate-limit errors are absorbed by
// the provider chain, validation errors fast-fail at the router boundary.
type ErrorKind string

const (
	KindRateLimit          ErrorKind = "rate_limit"
	KindAuthentication     ErrorKind = "authentication"
	KindProvider           ErrorKind = "provider"
	KindCircuitOpen        ErrorKind = "circuit_open"
	KindProvidersExhausted ErrorKind = "providers_exhausted"
	KindInvalidRequest     ErrorKind = "invalid_request"
	KindSessionClosed      ErrorKind = "session_closed"
	KindClientBlocked      ErrorKind = "client_blocked"
	KindQuotaExceeded      ErrorKind = "quota_exceeded"
	KindNotSupported       ErrorKind = "not_supported"
)

// DormantRetryAfter is the Retry-After sentinel that tells SDK clients to
// stop retrying entirely and enter dormant mode.
const DormantRetryAfter = -1

// GatewayError is the single error type crossing component boundaries.
// Fields beyond Kind and Message are populated only where they apply:
// StatusCode carries the upstream HTTP status, RetryAfter the advisory wait
// in seconds (DormantRetryAfter for the kill-switch sentinel), CooldownUntil
// the earliest next attempt for circuit-open errors.
type GatewayError struct {
	Kind          ErrorKind
	Provider      string
	StatusCode    int
	Message       string
	Retriable     bool
	RetryAfter    int
	CooldownUntil time.Time
	Cause         error
}

func (e *GatewayError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error onto the gateway's outbound status contract.
// The HTTP layer consults only this; it never inspects kinds itself.
func (e *GatewayError) HTTPStatus() int {
	switch e.Kind {
	case KindRateLimit, KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindInvalidRequest:
		return http.StatusUnprocessableEntity
	case KindCircuitOpen, KindProvidersExhausted:
		return http.StatusServiceUnavailable
	case KindClientBlocked:
		return http.StatusForbidden
	case KindSessionClosed:
		return http.StatusConflict
	case KindNotSupported:
		return http.StatusNotImplemented
	case KindProvider:
		if e.StatusCode > 0 {
			return http.StatusBadGateway
		}
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidRequestError reports a request rejected at the validation
// boundary.
func NewInvalidRequestError(message string, cause error) *GatewayError {
	return &GatewayError{Kind: KindInvalidRequest, Message: message, Cause: cause}
}

// NewProviderError reports an upstream failure. Retriability is derived from
// the status code: 408, 429 and 5xx-class failures are transient, other 4xx
// are caller or configuration problems. statusCode 0 means the request never
// produced a response (network error, config problem) and is retriable only
// when a cause is present.
func NewProviderError(provider string, statusCode int, message string, cause error) *GatewayError {
	return &GatewayError{
		Kind:       KindProvider,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Retriable:  retriableStatus(statusCode) || (statusCode == 0 && cause != nil),
		Cause:      cause,
	}
}

// NewConfigError reports a non-retriable configuration problem (unknown
// provider, missing key). The chain skips these for health accounting.
func NewConfigError(provider, message string) *GatewayError {
	return &GatewayError{Kind: KindProvider, Provider: provider, Message: message}
}

// NewRateLimitError reports an upstream rate limit. retryAfter is advisory
// seconds, 0 when the vendor gave none.
func NewRateLimitError(provider string, retryAfter int, message string) *GatewayError {
	return &GatewayError{
		Kind:       KindRateLimit,
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Retriable:  true,
		RetryAfter: retryAfter,
	}
}

// NewAuthenticationError reports rejected provider credentials.
func NewAuthenticationError(provider string, statusCode int, message string) *GatewayError {
	return &GatewayError{
		Kind:       KindAuthentication,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewCircuitOpenError reports a provider skipped because its circuit is
// open. The cooldown deadline travels with the error so callers can surface
// a Retry-After.
func NewCircuitOpenError(provider string, cooldownUntil time.Time) *GatewayError {
	retryAfter := int(time.Until(cooldownUntil).Seconds())
	if retryAfter < 1 {
		retryAfter = 1
	}
	return &GatewayError{
		Kind:          KindCircuitOpen,
		Provider:      provider,
		Message:       fmt.Sprintf("circuit open until %s", cooldownUntil.UTC().Format(time.RFC3339)),
		Retriable:     true,
		RetryAfter:    retryAfter,
		CooldownUntil: cooldownUntil,
	}
}

// NewProvidersExhaustedError reports that every provider in the chain
// failed. The last provider error travels as the cause.
func NewProvidersExhaustedError(attempts int, last error) *GatewayError {
	msg := fmt.Sprintf("all %d providers failed", attempts)
	if last != nil {
		msg += ": " + last.Error()
	}
	return &GatewayError{Kind: KindProvidersExhausted, Message: msg, Cause: last}
}

// NewSessionClosedError reports a completion against a non-active session.
func NewSessionClosedError(sessionID, status string) *GatewayError {
	return &GatewayError{
		Kind:    KindSessionClosed,
		Message: fmt.Sprintf("session %s is %s", sessionID, status),
	}
}

// NewClientBlockedError reports a kill-switched client. The reason is
// surfaced verbatim and RetryAfter carries the dormant sentinel.
func NewClientBlockedError(reason string) *GatewayError {
	if reason == "" {
		reason = "client disabled"
	}
	return &GatewayError{
		Kind:       KindClientBlocked,
		Message:    reason,
		RetryAfter: DormantRetryAfter,
	}
}

// NewQuotaExceededError reports a client over its request quota.
func NewQuotaExceededError(clientID string, retryAfter int) *GatewayError {
	return &GatewayError{
		Kind:       KindQuotaExceeded,
		Message:    fmt.Sprintf("client %s exceeded request quota", clientID),
		Retriable:  true,
		RetryAfter: retryAfter,
	}
}

// NewNotSupportedError reports an adapter capability that is not
// implemented.
func NewNotSupportedError(provider, what string) *GatewayError {
	return &GatewayError{
		Kind:     KindNotSupported,
		Provider: provider,
		Message:  fmt.Sprintf("%s is not supported by provider %s", what, provider),
	}
}

// AsGatewayError unwraps err to a *GatewayError, or nil.
func AsGatewayError(err error) *GatewayError {
	var gw *GatewayError
	if errors.As(err, &gw) {
		return gw
	}
	return nil
}

// KindOf returns the error's kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	if gw := AsGatewayError(err); gw != nil {
		return gw.Kind
	}
	return ""
}

// IsRateLimit reports whether err is an upstream rate limit.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }

// IsAuthentication reports whether err is a credentials failure.
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }

// IsCircuitOpen reports whether err is a circuit rejection.
func IsCircuitOpen(err error) bool { return KindOf(err) == KindCircuitOpen }

// IsRetriable reports whether trying another provider could plausibly
// succeed. Foreign errors (network, deadline) count as retriable.
func IsRetriable(err error) bool {
	if gw := AsGatewayError(err); gw != nil {
		return gw.Retriable
	}
	return err != nil
}

func retriableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout ||
		statusCode == http.StatusTooManyRequests ||
		statusCode >= 500
}

// vendorErrorBody matches the common {"error": {...}} envelope used by the
// supported vendors. Gemini adds a "status" field, Anthropic a "type".
type vendorErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Status  string `json:"status"`
		Code    any    `json:"code"`
	} `json:"error"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ParseProviderError maps a vendor HTTP error response onto the gateway
// taxonomy. The mapping is exhaustive: 429 becomes a rate limit with the
// Retry-After header honored, 401/403 an authentication error, 408 and 5xx a
// retriable provider error, any other status a non-retriable provider error.
func ParseProviderError(provider string, statusCode int, body []byte, header http.Header) *GatewayError {
	message := extractVendorMessage(body)
	if message == "" {
		message = fmt.Sprintf("upstream returned status %d", statusCode)
	}

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, parseRetryAfter(header), message)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden:
		return NewAuthenticationError(provider, statusCode, message)
	default:
		return NewProviderError(provider, statusCode, message, nil)
	}
}

// extractVendorMessage pulls a human-readable message out of a vendor error
// body, tolerating both the nested envelope and a bare string "error" field.
func extractVendorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var envelope vendorErrorBody
	if err := json.Unmarshal(body, &envelope); err == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Message != "" {
			return envelope.Message
		}
	}

	// Some vendors return {"error": "plain string"}.
	var loose map[string]any
	if err := json.Unmarshal(body, &loose); err == nil {
		if s, ok := loose["error"].(string); ok && s != "" {
			return s
		}
	}

	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func parseRetryAfter(header http.Header) int {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return secs
	}
	// HTTP-date form: convert to a delta.
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Seconds())
		}
	}
	return 0
}
