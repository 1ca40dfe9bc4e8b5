package httpclient

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultConfig_CoversAdapterDeadline(t *testing.T) {
	config := DefaultConfig()

	// The per-call context deadline is 120s; the client-level limits must sit
	// above it or the transport would cut extended-thinking calls short.
	if config.Timeout <= 120*time.Second {
		t.Errorf("Expected Timeout above 120s, got %v", config.Timeout)
	}
	if config.ResponseHeaderTimeout <= 120*time.Second {
		t.Errorf("Expected ResponseHeaderTimeout above 120s, got %v", config.ResponseHeaderTimeout)
	}
	if config.MaxIdleConnsPerHost != 100 {
		t.Errorf("Expected MaxIdleConnsPerHost to be 100, got %d", config.MaxIdleConnsPerHost)
	}
}

func TestShortConfig_FailsFast(t *testing.T) {
	config := ShortConfig()

	if config.Timeout != 15*time.Second {
		t.Errorf("Expected Timeout to be 15s, got %v", config.Timeout)
	}
	if config.DialTimeout != 5*time.Second {
		t.Errorf("Expected DialTimeout to be 5s, got %v", config.DialTimeout)
	}
	if config.Timeout >= DefaultConfig().Timeout {
		t.Error("Expected control-plane timeout to be shorter than the provider one")
	}
}

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name   string
		config *ClientConfig
	}{
		{
			name:   "nil config uses defaults",
			config: nil,
		},
		{
			name: "custom config",
			config: &ClientConfig{
				MaxIdleConns:          50,
				MaxIdleConnsPerHost:   25,
				IdleConnTimeout:       60 * time.Second,
				Timeout:               15 * time.Second,
				DialTimeout:           10 * time.Second,
				KeepAlive:             15 * time.Second,
				TLSHandshakeTimeout:   5 * time.Second,
				ResponseHeaderTimeout: 5 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewHTTPClient(tt.config)

			if client == nil {
				t.Fatal("Expected client to be non-nil")
			}

			transport, ok := client.Transport.(*http.Transport)
			if !ok {
				t.Fatal("Expected transport to be *http.Transport")
			}

			expectedConfig := tt.config
			if expectedConfig == nil {
				cfg := DefaultConfig()
				expectedConfig = &cfg
			}

			if transport.MaxIdleConns != expectedConfig.MaxIdleConns {
				t.Errorf("Expected MaxIdleConns to be %d, got %d", expectedConfig.MaxIdleConns, transport.MaxIdleConns)
			}
			if transport.IdleConnTimeout != expectedConfig.IdleConnTimeout {
				t.Errorf("Expected IdleConnTimeout to be %v, got %v", expectedConfig.IdleConnTimeout, transport.IdleConnTimeout)
			}
			if client.Timeout != expectedConfig.Timeout {
				t.Errorf("Expected client Timeout to be %v, got %v", expectedConfig.Timeout, client.Timeout)
			}
			if transport.ResponseHeaderTimeout != expectedConfig.ResponseHeaderTimeout {
				t.Errorf("Expected ResponseHeaderTimeout to be %v, got %v", expectedConfig.ResponseHeaderTimeout, transport.ResponseHeaderTimeout)
			}
			if !transport.ForceAttemptHTTP2 {
				t.Error("Expected ForceAttemptHTTP2 to be enabled")
			}
			if transport.Proxy == nil {
				t.Error("Expected Proxy to be set")
			}
		})
	}
}

func TestNewShortHTTPClient(t *testing.T) {
	client := NewShortHTTPClient()

	if client.Timeout != ShortConfig().Timeout {
		t.Errorf("Expected control-plane Timeout, got %v", client.Timeout)
	}
}

func TestHTTPClientIsReusable(t *testing.T) {
	// Multiple calls return distinct instances with the same configuration.
	client1 := NewDefaultHTTPClient()
	client2 := NewDefaultHTTPClient()

	if client1 == client2 {
		t.Error("Expected different client instances")
	}

	transport1 := client1.Transport.(*http.Transport)
	transport2 := client2.Transport.(*http.Transport)

	if transport1.MaxIdleConns != transport2.MaxIdleConns {
		t.Error("Expected same MaxIdleConns configuration")
	}
	if client1.Timeout != client2.Timeout {
		t.Error("Expected same Timeout configuration")
	}
}

func TestClientConfigZeroValues(t *testing.T) {
	// Zero values in an explicit config are applied as-is, not replaced.
	config := &ClientConfig{}

	client := NewHTTPClient(config)
	transport := client.Transport.(*http.Transport)

	if transport.MaxIdleConns != 0 {
		t.Errorf("Expected MaxIdleConns to be 0, got %d", transport.MaxIdleConns)
	}
	if client.Timeout != 0 {
		t.Errorf("Expected Timeout to be 0, got %v", client.Timeout)
	}
}
