package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"agenthub/internal/httpclient"
)

// HTTPSource queries an external memory service over HTTP. The service
// exposes a single POST /query endpoint returning ranked items per tier.
type HTTPSource struct {
	client  *http.Client
	baseURL string
}

// NewHTTPSource creates a source for the given service endpoint. A nil client
// falls back to the short-deadline control-plane client.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = httpclient.NewShortHTTPClient()
	}
	return &HTTPSource{client: client, baseURL: baseURL}
}

type queryRequest struct {
	Query     string `json:"query"`
	ProjectID string `json:"project_id,omitempty"`
	Tier      string `json:"tier"`
}

type queryResponse struct {
	Items []Item `json:"items"`
}

func (s *HTTPSource) Fetch(ctx context.Context, query, projectID string, tier Tier) ([]Item, error) {
	body, err := json.Marshal(queryRequest{Query: query, ProjectID: projectID, Tier: string(tier)})
	if err != nil {
		return nil, fmt.Errorf("failed to encode memory query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create memory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("memory service request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read memory response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("memory service returned status %d: %s", resp.StatusCode, truncate(raw, 200))
	}

	var decoded queryResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode memory response: %w", err)
	}
	return decoded.Items, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
