// Package access decides whether a caller may use the gateway at all:
// API-key authentication, per-client kill switches, and request quotas.
package access

import (
	"crypto/subtle"
	"math"
	"sync"

	"golang.org/x/time/rate"

	"agenthub/internal/core"
)

// ClientConfig declares one API client.
type ClientConfig struct {
	ID             string
	APIKey         string
	Disabled       bool
	DisabledReason string
	// RateLimit is in requests per second; 0 means unlimited.
	RateLimit float64
	Burst     int
}

// Client is an authorized caller identity.
type Client struct {
	ID string
}

type clientState struct {
	id       string
	key      []byte
	disabled bool
	reason   string
	limiter  *rate.Limiter
}

// Controller authorizes requests against the configured client registry. The
// master key, when set, always authorizes and is never limited or disabled.
type Controller struct {
	masterKey []byte

	mu      sync.RWMutex
	clients []*clientState
}

// NewController builds the registry. Clients with a zero rate limit are
// unlimited.
func NewController(masterKey string, clients []ClientConfig) *Controller {
	c := &Controller{}
	if masterKey != "" {
		c.masterKey = []byte(masterKey)
	}
	for _, cfg := range clients {
		state := &clientState{
			id:       cfg.ID,
			key:      []byte(cfg.APIKey),
			disabled: cfg.Disabled,
			reason:   cfg.DisabledReason,
		}
		if cfg.RateLimit > 0 {
			burst := cfg.Burst
			if burst <= 0 {
				burst = 1
			}
			state.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
		}
		c.clients = append(c.clients, state)
	}
	return c
}

// Authorize resolves an API key to a client and enforces its kill switch and
// quota. Key comparison is constant-time per candidate.
func (c *Controller) Authorize(key string) (*Client, error) {
	raw := []byte(key)
	if len(c.masterKey) > 0 && subtle.ConstantTimeCompare(raw, c.masterKey) == 1 {
		return &Client{ID: "master"}, nil
	}

	c.mu.RLock()
	var match *clientState
	for _, state := range c.clients {
		if subtle.ConstantTimeCompare(raw, state.key) == 1 {
			match = state
		}
	}
	c.mu.RUnlock()

	if match == nil {
		return nil, core.NewAuthenticationError("gateway", 0, "unknown API key")
	}

	c.mu.RLock()
	disabled, reason := match.disabled, match.reason
	c.mu.RUnlock()
	if disabled {
		if reason == "" {
			reason = "client disabled"
		}
		return nil, core.NewClientBlockedError(reason)
	}

	if match.limiter != nil {
		rsv := match.limiter.Reserve()
		if delay := rsv.Delay(); delay > 0 {
			rsv.Cancel()
			retryAfter := int(math.Ceil(delay.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			return nil, core.NewQuotaExceededError(match.id, retryAfter)
		}
	}
	return &Client{ID: match.id}, nil
}

// SetDisabled flips a client's kill switch at runtime. Unknown ids are
// ignored.
func (c *Controller) SetDisabled(clientID string, disabled bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, state := range c.clients {
		if state.id == clientID {
			state.disabled = disabled
			state.reason = reason
		}
	}
}
