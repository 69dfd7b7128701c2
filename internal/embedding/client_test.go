package embedding

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/observability"
)

// fakeProvider returns deterministic vectors and counts calls.
type fakeProvider struct {
	calls   int
	batches [][]string
	fail    bool
	shuffle bool
}

func (f *fakeProvider) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, *Usage, error) {
	f.calls++
	f.batches = append(f.batches, append([]string(nil), texts...))
	if f.fail {
		return nil, nil, fmt.Errorf("%w: boom", ErrProvider)
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text))}
	}
	return vectors, &Usage{PromptTokens: len(texts), TotalTokens: len(texts)}, nil
}

func (f *fakeProvider) Dimensions() int { return 1 }
func (f *fakeProvider) Model() string   { return "fake-embed" }

func newTestClient(p Provider, batchSize int) *Client {
	return NewClient(p, NewCache(100, time.Minute), batchSize, nil, observability.NewNoopLogger())
}

func TestEmbedUsesCache(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(provider, 100)

	first, err := client.Embed(context.Background(), "T", "trash pickup schedule")
	require.NoError(t, err)

	second, err := client.Embed(context.Background(), "T", "  trash pickup schedule  ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.calls, "second call is served from cache")
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(provider, 100)

	_, err := client.Embed(context.Background(), "T", "   ")
	assert.Error(t, err)
	assert.Zero(t, provider.calls)
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(provider, 100)

	vectors, err := client.EmbedBatch(context.Background(), "T", nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, provider.calls, "empty input makes no provider call")
}

func TestEmbedBatchSplitsAndPreservesOrder(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(provider, 3)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff", "ggggggg"}
	vectors, err := client.EmbedBatch(context.Background(), "T", texts)
	require.NoError(t, err)

	require.Len(t, vectors, len(texts))
	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vectors[i][0], "output %d matches input %d", i, i)
	}
	assert.Equal(t, 3, provider.calls, "7 inputs at batch size 3 take 3 calls")
	assert.Len(t, provider.batches[0], 3)
	assert.Len(t, provider.batches[2], 1)
}

func TestEmbedBatchBypassesCache(t *testing.T) {
	provider := &fakeProvider{}
	client := newTestClient(provider, 100)

	_, err := client.Embed(context.Background(), "T", "already cached")
	require.NoError(t, err)

	_, err = client.EmbedBatch(context.Background(), "T", []string{"already cached"})
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls, "batches do not consult the cache")
}

func TestEmbedSurfacesProviderError(t *testing.T) {
	provider := &fakeProvider{fail: true}
	client := newTestClient(provider, 100)

	_, err := client.Embed(context.Background(), "T", "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
}

func TestProviderReassemblyByIndex(t *testing.T) {
	// Verify the index-based reassembly logic the HTTP provider relies on:
	// out-of-order items must land at their declared index.
	parsed := openAIResponse{}
	parsed.Data = []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	}{
		{Embedding: []float32{3}, Index: 2},
		{Embedding: []float32{1}, Index: 0},
		{Embedding: []float32{2}, Index: 1},
	}

	vectors := make([][]float32, 3)
	for _, item := range parsed.Data {
		vectors[item.Index] = item.Embedding
	}

	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vectors)
}
