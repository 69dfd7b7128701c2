package answer

import (
	"context"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/civicmesh/civicmesh/internal/llm"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/retrieval"
)

// UsageSink records completion token usage after a stream finishes.
type UsageSink interface {
	RecordCompletion(tenantID, model string, promptTokens, completionTokens, totalTokens int)
}

// Composer turns retrieved chunks into a streamed, attributed answer.
type Composer struct {
	client llm.Client
	model  string
	cache  *Cache
	usage  UsageSink
	tenant TenantInfo
	logger observability.Logger
}

// NewComposer creates the answer composer. cache and usage may be nil.
func NewComposer(client llm.Client, model string, cache *Cache, usage UsageSink, tenant TenantInfo, logger observability.Logger) *Composer {
	return &Composer{
		client: client,
		model:  model,
		cache:  cache,
		usage:  usage,
		tenant: tenant,
		logger: logger,
	}
}

// Compose streams one answer. Events are emitted in protocol order through
// emit, which is always called from this goroutine only. Usage recording
// and the cache write happen after stream close and never block it.
func (c *Composer) Compose(ctx context.Context, tenantID, question string, history []models.Message, chunks []models.RetrievedChunk, assessment retrieval.Assessment, emit EmitFunc) error {
	if cached := c.cache.Get(ctx, question, tenantID); cached != nil {
		return c.emitCached(cached, emit)
	}
	return c.ComposeFresh(ctx, tenantID, question, history, chunks, assessment, emit)
}

// ComposeCached replays a cache hit the caller already looked up.
func (c *Composer) ComposeCached(cached *models.CachedAnswer, emit EmitFunc) error {
	return c.emitCached(cached, emit)
}

// ComposeFresh streams a generated answer, skipping the cache lookup.
func (c *Composer) ComposeFresh(ctx context.Context, tenantID, question string, history []models.Message, chunks []models.RetrievedChunk, assessment retrieval.Assessment, emit EmitFunc) error {
	if len(chunks) == 0 {
		return c.emitFallback(assessment, emit)
	}
	return c.emitGenerated(ctx, tenantID, question, history, chunks, assessment, emit)
}

// emitCached replays a cached answer as a synthetic stream.
func (c *Composer) emitCached(cached *models.CachedAnswer, emit EmitFunc) error {
	responseID := uuid.NewString()

	sources := make([]models.SourceAttribution, 0, len(cached.Sources))
	for i, ref := range cached.Sources {
		sources = append(sources, models.SourceAttribution{
			SourceID:      sourceIDAt(i),
			Citation:      "[" + sourceIDAt(i) + "]",
			DocumentTitle: ref.Title,
			DocumentURL:   ref.URL,
		})
	}

	events := []Event{
		{Type: EventConfidence, Data: retrieval.CacheHitAssessment()},
		{Type: EventSources, Data: sources},
		{Type: EventResponseID, Data: responseID},
		{Type: EventTextStart, Data: TextStartData{ID: responseID}},
		{Type: EventTextDelta, Data: TextDeltaData{ID: responseID, Delta: cached.AnswerText}},
		{Type: EventTextEnd, Data: TextStartData{ID: responseID}},
	}
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// emitFallback answers with the fixed no-sources message. No provider call
// is made.
func (c *Composer) emitFallback(assessment retrieval.Assessment, emit EmitFunc) error {
	responseID := uuid.NewString()
	events := []Event{
		{Type: EventConfidence, Data: assessment},
		{Type: EventSources, Data: []models.SourceAttribution{}},
		{Type: EventResponseID, Data: responseID},
		{Type: EventTextStart, Data: TextStartData{ID: responseID}},
		{Type: EventTextDelta, Data: TextDeltaData{ID: responseID, Delta: FallbackText(c.tenant)}},
		{Type: EventTextEnd, Data: TextStartData{ID: responseID}},
	}
	for _, ev := range events {
		if err := emit(ev); err != nil {
			return err
		}
	}
	return nil
}

func (c *Composer) emitGenerated(ctx context.Context, tenantID, question string, history []models.Message, chunks []models.RetrievedChunk, assessment retrieval.Assessment, emit EmitFunc) error {
	responseID := uuid.NewString()

	candidates := make([]models.SourceAttribution, len(chunks))
	for i := range chunks {
		candidates[i] = chunks[i].Source
	}

	preamble := []Event{
		{Type: EventConfidence, Data: assessment},
		{Type: EventSources, Data: candidates},
		{Type: EventResponseID, Data: responseID},
		{Type: EventTextStart, Data: TextStartData{ID: responseID}},
	}
	for _, ev := range preamble {
		if err := emit(ev); err != nil {
			return err
		}
	}

	messages := []llm.Message{{Role: "system", Content: BuildSystemPrompt(c.tenant, chunks, history)}}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})

	var accumulated strings.Builder
	var pending string
	var emittedLen int
	var usage llm.StreamEvent

	streamErr := c.client.StreamChat(ctx, llm.StreamRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.2,
	}, func(ev llm.StreamEvent) error {
		if ev.Done {
			usage = ev
			return nil
		}
		accumulated.WriteString(ev.Delta)
		pending += ev.Delta

		// The attribution marker must never reach the client; hold back
		// any tail that could be the start of one.
		emittable, keep := splitEmittable(pending)
		pending = keep
		if emittable == "" {
			return nil
		}
		emittedLen += len(emittable)
		return emit(Event{Type: EventTextDelta, Data: TextDeltaData{ID: responseID, Delta: emittable}})
	})

	fullText := accumulated.String()
	cleaned, usedIDs, markerFound := ParseUsedSources(fullText)

	// Flush any held-back text that turned out not to be the marker.
	if emittedLen < len(cleaned) {
		if err := emit(Event{Type: EventTextDelta, Data: TextDeltaData{ID: responseID, Delta: cleaned[emittedLen:]}}); err != nil {
			return err
		}
	}
	if err := emit(Event{Type: EventTextEnd, Data: TextStartData{ID: responseID}}); err != nil {
		return err
	}

	finalSources := candidates
	if markerFound {
		finalSources = FilterSources(candidates, usedIDs)
		if err := emit(Event{Type: EventSources, Data: finalSources}); err != nil {
			return err
		}
	}

	// Bookkeeping proceeds with whatever was accumulated, including after
	// a client disconnect mid-stream.
	c.recordUsage(tenantID, usage)
	c.writeCache(question, tenantID, cleaned, finalSources, streamErr)

	if streamErr != nil && ctx.Err() == nil {
		c.logger.Error("Answer stream failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     streamErr.Error(),
		})
		return streamErr
	}
	return nil
}

func (c *Composer) recordUsage(tenantID string, usage llm.StreamEvent) {
	if c.usage == nil || usage.TotalTokens == 0 {
		return
	}
	c.usage.RecordCompletion(tenantID, c.model, usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
}

func (c *Composer) writeCache(question, tenantID, cleaned string, sources []models.SourceAttribution, streamErr error) {
	if streamErr != nil || strings.TrimSpace(cleaned) == "" {
		return
	}
	refs := make([]models.SourceRef, 0, len(sources))
	for _, s := range sources {
		refs = append(refs, models.SourceRef{Title: s.DocumentTitle, URL: s.DocumentURL})
	}
	c.cache.Put(question, tenantID, cleaned, refs)
}

func sourceIDAt(i int) string {
	return "S" + strconv.Itoa(i+1)
}

const usedSourcesMarker = "USED_SOURCES"

// splitEmittable divides pending streamed text into a part safe to emit
// and a tail withheld because it is, or could grow into, the attribution
// marker. Whitespace leading into a withheld marker is withheld with it.
func splitEmittable(pending string) (emittable, keep string) {
	boundary := len(pending)
	upper := strings.ToUpper(pending)
	if i := strings.Index(upper, usedSourcesMarker); i >= 0 {
		boundary = i
	} else {
		start := len(pending) - len(usedSourcesMarker) + 1
		if start < 0 {
			start = 0
		}
		for j := start; j < len(pending); j++ {
			if strings.HasPrefix(usedSourcesMarker, upper[j:]) {
				boundary = j
				break
			}
		}
	}
	if boundary == len(pending) {
		return pending, ""
	}
	for boundary > 0 {
		switch pending[boundary-1] {
		case ' ', '\t', '\n', '\r':
			boundary--
			continue
		}
		break
	}
	return pending[:boundary], pending[boundary:]
}
