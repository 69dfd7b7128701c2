// Package vectorindex provides a minimal HTTP client for the external
// vector index. Namespaces partition the index (chunks vs content); the
// caller always supplies the query embedding.
package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civicmesh/civicmesh/internal/observability"
)

// Match is one nearest-neighbor hit.
type Match struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Vector is one point to upsert.
type Vector struct {
	ID       string                 `json:"id"`
	Values   []float32              `json:"values"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Config controls the index client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Client talks to the vector index over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     observability.Logger
}

// NewClient creates a vector index client
func NewClient(config Config, logger observability.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("vector index endpoint is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: logger.WithPrefix("vectorindex"),
	}, nil
}

type queryRequest struct {
	Vector          []float32              `json:"vector"`
	TopK            int                    `json:"topK"`
	Namespace       string                 `json:"namespace"`
	Filter          map[string]interface{} `json:"filter,omitempty"`
	IncludeMetadata bool                   `json:"includeMetadata"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

type upsertRequest struct {
	Vectors   []Vector `json:"vectors"`
	Namespace string   `json:"namespace"`
}

// Query returns the top-K nearest neighbors in the given namespace.
// Scores follow the index's metric (cosine similarity, higher is better).
func (c *Client) Query(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]interface{}) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	reqBody := queryRequest{
		Vector:          embedding,
		TopK:            topK,
		Namespace:       namespace,
		Filter:          filter,
		IncludeMetadata: true,
	}

	var parsed queryResponse
	if err := c.post(ctx, "/query", reqBody, &parsed); err != nil {
		return nil, fmt.Errorf("vector query failed in namespace %q: %w", namespace, err)
	}
	return parsed.Matches, nil
}

// Upsert writes vectors into the given namespace.
func (c *Client) Upsert(ctx context.Context, namespace string, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	reqBody := upsertRequest{Vectors: vectors, Namespace: namespace}
	if err := c.post(ctx, "/vectors/upsert", reqBody, nil); err != nil {
		return fmt.Errorf("vector upsert failed in namespace %q: %w", namespace, err)
	}
	return nil
}

// Delete removes points by id from the given namespace.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	payload := map[string]interface{}{
		"ids":       ids,
		"namespace": namespace,
	}
	if err := c.post(ctx, "/vectors/delete", payload, nil); err != nil {
		return fmt.Errorf("vector delete failed in namespace %q: %w", namespace, err)
	}
	return nil
}

// post performs one JSON POST against the index
func (c *Client) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.Endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Api-Key", c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("index returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
