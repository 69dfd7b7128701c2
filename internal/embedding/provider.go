package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrProvider wraps any failure talking to the embedding provider so callers
// can fall back to lexical-only retrieval.
var ErrProvider = errors.New("embedding provider error")

// Provider generates fixed-dimension vectors for text.
type Provider interface {
	// GenerateEmbeddings embeds up to one provider-batch of texts and returns
	// vectors in input order.
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, *Usage, error)

	// Dimensions returns the output vector dimension.
	Dimensions() int

	// Model returns the provider model identifier.
	Model() string
}

// Usage reports provider token consumption for one call.
type Usage struct {
	PromptTokens int
	TotalTokens  int
}

// ProviderConfig configures the HTTP embedding provider.
type ProviderConfig struct {
	APIKey         string
	Endpoint       string
	Model          string
	Dimensions     int
	RequestTimeout time.Duration
	MaxRetries     int
}

// OpenAIProvider implements Provider against an OpenAI-compatible
// embeddings endpoint.
type OpenAIProvider struct {
	config     ProviderConfig
	httpClient *http.Client
}

type openAIRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions *int     `json:"dimensions,omitempty"`
}

type openAIResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIProvider creates a new OpenAI-compatible embedding provider
func NewOpenAIProvider(config ProviderConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if config.Endpoint == "" {
		config.Endpoint = "https://api.openai.com/v1"
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimensions == 0 {
		config.Dimensions = 1536
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	return &OpenAIProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// Dimensions returns the configured output dimension
func (p *OpenAIProvider) Dimensions() int { return p.config.Dimensions }

// Model returns the configured model name
func (p *OpenAIProvider) Model() string { return p.config.Model }

// GenerateEmbeddings embeds a batch of texts. The provider may return items
// in any order; results are reassembled by the returned index.
func (p *OpenAIProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, *Usage, error) {
	if len(texts) == 0 {
		return nil, &Usage{}, nil
	}

	reqBody := openAIRequest{
		Input:      texts,
		Model:      p.config.Model,
		Dimensions: &p.config.Dimensions,
	}

	var parsed openAIResponse
	operation := func() error {
		resp, err := p.doRequest(ctx, reqBody)
		if err != nil {
			return err
		}
		parsed = *resp
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.config.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	if len(parsed.Data) != len(texts) {
		return nil, nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			ErrProvider, len(texts), len(parsed.Data))
	}

	// Reassemble by index so output order matches input order
	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, nil, fmt.Errorf("%w: embedding index %d out of range", ErrProvider, item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	for i, v := range vectors {
		if v == nil {
			return nil, nil, fmt.Errorf("%w: missing embedding for input %d", ErrProvider, i)
		}
		if len(v) != p.config.Dimensions {
			return nil, nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d",
				ErrProvider, i, len(v), p.config.Dimensions)
		}
	}

	usage := &Usage{
		PromptTokens: parsed.Usage.PromptTokens,
		TotalTokens:  parsed.Usage.TotalTokens,
	}
	return vectors, usage, nil
}

// doRequest performs one HTTP call to the embeddings endpoint
func (p *OpenAIProvider) doRequest(ctx context.Context, reqBody openAIRequest) (*openAIResponse, error) {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.config.Endpoint+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openAIErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("provider returned %d: %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			err = fmt.Errorf("provider returned %d", resp.StatusCode)
		}
		// Client errors other than rate limiting will not succeed on retry
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}
	return &parsed, nil
}
