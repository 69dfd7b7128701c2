package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/civicmesh/civicmesh/internal/observability"
)

// UsageSink receives provider token usage for cost accounting.
// Implementations must not block.
type UsageSink interface {
	RecordEmbedding(tenantID, model string, usage Usage)
}

// Client is the embedding client used by retrieval and ingestion. Single-text
// embeds go through the process-local cache; batches bypass it to avoid
// partial-hit complexity.
type Client struct {
	provider  Provider
	cache     *Cache
	batchSize int
	usage     UsageSink
	logger    observability.Logger
}

// NewClient creates an embedding client over the given provider and cache.
func NewClient(provider Provider, cache *Cache, batchSize int, usage UsageSink, logger observability.Logger) *Client {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Client{
		provider:  provider,
		cache:     cache,
		batchSize: batchSize,
		usage:     usage,
		logger:    logger.WithPrefix("embedding"),
	}
}

// Dimensions returns the provider's output dimension.
func (c *Client) Dimensions() int { return c.provider.Dimensions() }

// Embed returns the vector for a single text, serving from cache when a
// fresh entry exists.
func (c *Client) Embed(ctx context.Context, tenantID, text string) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	if vector, ok := c.cache.Get(trimmed); ok {
		return vector, nil
	}

	vectors, usage, err := c.provider.GenerateEmbeddings(ctx, []string{trimmed})
	if err != nil {
		return nil, err
	}
	if usage != nil && c.usage != nil {
		c.usage.RecordEmbedding(tenantID, c.provider.Model(), *usage)
	}

	c.cache.Put(trimmed, vectors[0])
	return vectors[0], nil
}

// EmbedBatch returns vectors for texts in input order, splitting inputs
// larger than the provider batch limit. An empty input returns an empty
// output without a provider call.
func (c *Client) EmbedBatch(ctx context.Context, tenantID string, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	trimmed := make([]string, len(texts))
	for i, text := range texts {
		trimmed[i] = strings.TrimSpace(text)
		if trimmed[i] == "" {
			return nil, fmt.Errorf("cannot embed empty text at index %d", i)
		}
	}

	results := make([][]float32, 0, len(trimmed))
	for start := 0; start < len(trimmed); start += c.batchSize {
		end := start + c.batchSize
		if end > len(trimmed) {
			end = len(trimmed)
		}

		vectors, usage, err := c.provider.GenerateEmbeddings(ctx, trimmed[start:end])
		if err != nil {
			return nil, err
		}
		if usage != nil && c.usage != nil {
			c.usage.RecordEmbedding(tenantID, c.provider.Model(), *usage)
		}
		results = append(results, vectors...)
	}

	return results, nil
}

// CacheStats exposes the cache snapshot for the health endpoint.
func (c *Client) CacheStats() CacheStats { return c.cache.Stats() }

// ClearCache removes all cached vectors.
func (c *Client) ClearCache() { c.cache.Clear() }
