package answer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/llm"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/retrieval"
)

// streamingLLM replays scripted deltas.
type streamingLLM struct {
	deltas []string
	usage  llm.StreamEvent
	err    error
	called bool
}

func (s *streamingLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return nil, errors.New("not used")
}

func (s *streamingLLM) StreamChat(ctx context.Context, req llm.StreamRequest, emit func(llm.StreamEvent) error) error {
	s.called = true
	if s.err != nil {
		return s.err
	}
	for _, d := range s.deltas {
		if err := emit(llm.StreamEvent{Delta: d}); err != nil {
			return err
		}
	}
	done := s.usage
	done.Done = true
	return emit(done)
}

// memoryAnswerStore is an in-memory AnswerStore.
type memoryAnswerStore struct {
	mu      sync.Mutex
	entries map[string]*models.CachedAnswer
	putErr  error
}

func newMemoryAnswerStore() *memoryAnswerStore {
	return &memoryAnswerStore{entries: map[string]*models.CachedAnswer{}}
}

func (m *memoryAnswerStore) GetAnswer(ctx context.Context, key string) (*models.CachedAnswer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key], nil
}

func (m *memoryAnswerStore) PutAnswer(ctx context.Context, entry *models.CachedAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.entries[entry.Key] = entry
	return nil
}

func (m *memoryAnswerStore) get(key string) *models.CachedAnswer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[key]
}

type recordedUsage struct {
	mu    sync.Mutex
	calls []int
}

func (r *recordedUsage) RecordCompletion(tenantID, model string, promptTokens, completionTokens, totalTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, totalTokens)
}

func collectEvents() (*[]Event, EmitFunc) {
	events := &[]Event{}
	return events, func(ev Event) error {
		*events = append(*events, ev)
		return nil
	}
}

func eventTypes(events []Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func collectText(events []Event) string {
	var text string
	for _, ev := range events {
		if ev.Type == EventTextDelta {
			text += ev.Data.(TextDeltaData).Delta
		}
	}
	return text
}

func testChunks() []models.RetrievedChunk {
	return []models.RetrievedChunk{
		{ID: "c1", ChunkText: "Pool hours are 9am to 8pm.", Similarity: 0.8,
			Source: models.SourceAttribution{SourceID: "S1", Citation: "[S1]", DocumentTitle: "Pool page"}},
		{ID: "c2", ChunkText: "Lap swim is mornings only.", Similarity: 0.6,
			Source: models.SourceAttribution{SourceID: "S2", Citation: "[S2]", DocumentTitle: "Rec schedule"}},
	}
}

func testAssessment() retrieval.Assessment {
	return retrieval.AssessConfidence(testChunks(), retrieval.DefaultConfidenceThresholds())
}

func newTestComposer(client llm.Client, store AnswerStore, usage UsageSink) *Composer {
	logger := observability.NewNoopLogger()
	var cache *Cache
	if store != nil {
		cache = NewCache(store, time.Hour, logger)
	}
	return NewComposer(client, "gpt-4o-mini", cache, usage, TenantInfo{
		Name: "Springfield", Phone: "555-0100", Website: "https://springfield.gov",
	}, logger)
}

func TestCompose_EventOrderWithUsedSources(t *testing.T) {
	client := &streamingLLM{deltas: []string{
		"Pool hours are 9am to 8pm [S1].",
		"\nUSED_SOURCES: S1",
	}}
	composer := newTestComposer(client, nil, nil)
	events, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "pool hours?", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	types := eventTypes(*events)
	assert.Equal(t, []string{
		EventConfidence, EventSources, EventResponseID,
		EventTextStart, EventTextDelta, EventTextEnd, EventSources,
	}, types)

	// marker never reaches the client
	assert.Equal(t, "Pool hours are 9am to 8pm [S1].", collectText(*events))

	final := (*events)[len(*events)-1].Data.([]models.SourceAttribution)
	require.Len(t, final, 1)
	assert.Equal(t, "S1", final[0].SourceID)
}

func TestCompose_NoMarkerMeansNoFinalSourcesEvent(t *testing.T) {
	client := &streamingLLM{deltas: []string{"An answer without attribution."}}
	composer := newTestComposer(client, nil, nil)
	events, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "q", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	types := eventTypes(*events)
	assert.Equal(t, EventTextEnd, types[len(types)-1])
	assert.Equal(t, "An answer without attribution.", collectText(*events))
}

func TestCompose_UsedSourcesNoneFiltersAll(t *testing.T) {
	client := &streamingLLM{deltas: []string{"I cannot tell.\nUSED_SOURCES: NONE"}}
	composer := newTestComposer(client, nil, nil)
	events, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "q", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	final := (*events)[len(*events)-1].Data.([]models.SourceAttribution)
	assert.Empty(t, final)
}

func TestCompose_MarkerSplitAcrossDeltas(t *testing.T) {
	client := &streamingLLM{deltas: []string{"Answer.", "\nUSED_SO", "URCES: S2"}}
	composer := newTestComposer(client, nil, nil)
	events, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "q", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	assert.Equal(t, "Answer.", collectText(*events))
	final := (*events)[len(*events)-1].Data.([]models.SourceAttribution)
	require.Len(t, final, 1)
	assert.Equal(t, "S2", final[0].SourceID)
}

func TestCompose_EmptyRetrievalEmitsFallbackWithoutLLMCall(t *testing.T) {
	client := &streamingLLM{}
	composer := newTestComposer(client, nil, nil)
	events, emit := collectEvents()

	assessment := retrieval.AssessConfidence(nil, retrieval.DefaultConfidenceThresholds())
	err := composer.Compose(context.Background(), "springfield", "q", nil, nil, assessment, emit)
	require.NoError(t, err)

	assert.False(t, client.called)
	text := collectText(*events)
	assert.Contains(t, text, "555-0100")
	assert.Contains(t, text, "https://springfield.gov")

	var sourcesEvent []models.SourceAttribution
	for _, ev := range *events {
		if ev.Type == EventSources {
			sourcesEvent = ev.Data.([]models.SourceAttribution)
		}
	}
	assert.Empty(t, sourcesEvent)
}

func TestCompose_CacheHitEmitsSyntheticStream(t *testing.T) {
	store := newMemoryAnswerStore()
	key := CacheKey("pool hours?", "springfield")
	store.entries[key] = &models.CachedAnswer{
		Key:        key,
		TenantID:   "springfield",
		AnswerText: "Cached pool hours answer.",
		SourcesRaw: []byte(`[{"title":"Pool page","url":"https://springfield.gov/pool"}]`),
		StoredAt:   time.Now(),
		TTLSeconds: 3600,
	}
	client := &streamingLLM{deltas: []string{"should not be called"}}
	composer := newTestComposer(client, store, nil)
	events, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "pool hours?", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	assert.False(t, client.called)
	assert.Equal(t, "Cached pool hours answer.", collectText(*events))

	confidence := (*events)[0].Data.(retrieval.Assessment)
	assert.Equal(t, "Served from answer cache", confidence.Reason)
}

func TestCompose_ExpiredCacheEntryIsMiss(t *testing.T) {
	store := newMemoryAnswerStore()
	key := CacheKey("q", "springfield")
	store.entries[key] = &models.CachedAnswer{
		Key: key, AnswerText: "stale", StoredAt: time.Now().Add(-2 * time.Hour), TTLSeconds: 3600,
	}
	client := &streamingLLM{deltas: []string{"Fresh answer.\nUSED_SOURCES: S1"}}
	composer := newTestComposer(client, store, nil)
	events, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "q", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	assert.True(t, client.called)
	assert.Equal(t, "Fresh answer.", collectText(*events))
}

func TestCompose_WritesThroughToCache(t *testing.T) {
	store := newMemoryAnswerStore()
	client := &streamingLLM{deltas: []string{"Answer text.\nUSED_SOURCES: S1"}}
	composer := newTestComposer(client, store, nil)
	_, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "pool hours?", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	key := CacheKey("pool hours?", "springfield")
	require.Eventually(t, func() bool {
		return store.get(key) != nil
	}, time.Second, 10*time.Millisecond)

	entry := store.get(key)
	assert.Equal(t, "Answer text.", entry.AnswerText)
	assert.Contains(t, string(entry.SourcesRaw), "Pool page")
}

func TestCompose_RecordsUsageAfterStream(t *testing.T) {
	usage := &recordedUsage{}
	client := &streamingLLM{
		deltas: []string{"Answer."},
		usage:  llm.StreamEvent{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}
	composer := newTestComposer(client, nil, usage)
	_, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "q", nil, testChunks(), testAssessment(), emit)
	require.NoError(t, err)

	usage.mu.Lock()
	defer usage.mu.Unlock()
	require.Len(t, usage.calls, 1)
	assert.Equal(t, 120, usage.calls[0])
}

func TestCompose_StreamErrorSurfaces(t *testing.T) {
	client := &streamingLLM{err: llm.ErrProvider}
	composer := newTestComposer(client, nil, nil)
	_, emit := collectEvents()

	err := composer.Compose(context.Background(), "springfield", "q", nil, testChunks(), testAssessment(), emit)

	assert.ErrorIs(t, err, llm.ErrProvider)
}

func TestCompose_DisclaimerOnlyOnFirstTurn(t *testing.T) {
	first := BuildSystemPrompt(TenantInfo{Name: "Springfield"}, testChunks(), nil)
	assert.Contains(t, first, "verify time-sensitive details")

	history := []models.Message{
		{Role: "user", Content: "hi"},
		{Role: "assistant", Content: "hello"},
	}
	followup := BuildSystemPrompt(TenantInfo{Name: "Springfield"}, testChunks(), history)
	assert.NotContains(t, followup, "verify time-sensitive details")
}

func TestBuildSystemPrompt_NumbersSources(t *testing.T) {
	prompt := BuildSystemPrompt(TenantInfo{Name: "Springfield"}, testChunks(), nil)

	assert.Contains(t, prompt, "[S1] Pool hours are 9am to 8pm.")
	assert.Contains(t, prompt, "[S2] Lap swim is mornings only.")
	assert.Contains(t, prompt, "USED_SOURCES")
}
