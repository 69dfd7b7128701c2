// Package retrieval implements hybrid semantic and lexical search over the
// tenant corpus, plus confidence scoring for the retrieved set.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/routing"
	"github.com/civicmesh/civicmesh/internal/vectorindex"
)

// Embedder produces one embedding for a question, consulting the
// embedding cache.
type Embedder interface {
	Embed(ctx context.Context, tenantID, text string) ([]float32, error)
}

// VectorIndex is the subset of the index client used by hybrid search.
type VectorIndex interface {
	Query(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]interface{}) ([]vectorindex.Match, error)
}

// Store fetches chunk and content texts for ids returned by the index.
type Store interface {
	ChunksByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.Chunk, error)
	ContentByIDs(ctx context.Context, tenantID string, ids []string) (map[string]models.ContentItem, error)
	AdjacentChunks(ctx context.Context, tenantID string, documentID uuid.UUID, chunkIndex, radius int) ([]models.Chunk, error)
}

// Config tunes the hybrid search pipeline.
type Config struct {
	ChunksNamespace  string  // default "chunks"
	ContentNamespace string  // default "content"
	MinSimilarity    float64 // default 0.30
	ChunkMultiplier  int     // default 3, headroom for post-dedup truncation
	SemanticWeight   float64 // default 0.60
	LexicalWeight    float64 // default 0.20
}

// DefaultConfig returns the standard pipeline tuning
func DefaultConfig() Config {
	return Config{
		ChunksNamespace:  "chunks",
		ContentNamespace: "content",
		MinSimilarity:    0.30,
		ChunkMultiplier:  3,
		SemanticWeight:   0.60,
		LexicalWeight:    0.20,
	}
}

// HybridSearch retrieves and ranks chunks for a question.
type HybridSearch struct {
	embedder Embedder
	index    VectorIndex
	store    Store
	config   Config
	logger   observability.Logger
	now      func() time.Time
}

// NewHybridSearch creates the retrieval engine
func NewHybridSearch(embedder Embedder, index VectorIndex, store Store, config Config, logger observability.Logger) *HybridSearch {
	if config.ChunksNamespace == "" {
		config.ChunksNamespace = "chunks"
	}
	if config.ContentNamespace == "" {
		config.ContentNamespace = "content"
	}
	if config.MinSimilarity == 0 {
		config.MinSimilarity = 0.30
	}
	if config.ChunkMultiplier <= 0 {
		config.ChunkMultiplier = 3
	}
	return &HybridSearch{
		embedder: embedder,
		index:    index,
		store:    store,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Search runs the full pipeline for one question. An embedding failure
// yields an empty result rather than an error so callers can fall back;
// store failures propagate. Multi-entity decompositions retrieve once per
// sub-query and merge the candidate pools before ranking.
func (h *HybridSearch) Search(ctx context.Context, tenantID, question string, limit int, routed *routing.RoutedQuery) ([]models.RetrievedChunk, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	config := routing.ProfileFor(routing.IntentFactual)
	rewritten := ""
	lexicalQuery := question
	if routed != nil {
		config = routed.Config
		rewritten = strings.TrimSpace(routed.Rewritten)
		if strings.EqualFold(rewritten, question) {
			rewritten = ""
		}
		if expanded := strings.TrimSpace(routed.Expanded); expanded != "" {
			lexicalQuery = expanded
		}
	}

	subQueries := subQueryTexts(routed, question)

	chunkMatches, contentMatches, err := h.retrieveOne(ctx, tenantID, question, rewritten, limit, config)
	if err != nil {
		return nil, err
	}

	// Secondary sub-queries widen the pool; their failures are tolerated.
	for _, sub := range subQueries {
		subChunks, subContent, err := h.retrieveOne(ctx, tenantID, sub, "", limit, config)
		if err != nil {
			h.logger.Warn("Sub-query retrieval failed, continuing with partial pool", map[string]interface{}{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
			continue
		}
		chunkMatches = mergeMatches(chunkMatches, subChunks)
		contentMatches = mergeMatches(contentMatches, subContent)
	}

	retrieved, err := h.hydrate(ctx, tenantID, chunkMatches, contentMatches)
	if err != nil {
		return nil, err
	}

	threshold := h.config.MinSimilarity
	if routed != nil && config.SimilarityThreshold > threshold {
		threshold = config.SimilarityThreshold
	}
	retrieved = filterBySimilarity(retrieved, threshold)
	retrieved = dedupeByURL(retrieved)
	rank(retrieved, lexicalQuery, config, h.config.SemanticWeight, h.config.LexicalWeight, h.now())

	// Each sub-query carries its own result budget.
	budget := limit * (1 + len(subQueries))
	if len(retrieved) > budget {
		retrieved = retrieved[:budget]
	}

	if config.ExpandSiblings > 0 {
		h.expandSiblings(ctx, tenantID, retrieved, config.ExpandSiblings)
	}

	return retrieved, nil
}

// subQueryTexts returns the secondary sub-query texts of a multi-entity
// decomposition. Single-query decompositions and sub-queries that restate
// the original contribute nothing.
func subQueryTexts(routed *routing.RoutedQuery, question string) []string {
	if routed == nil || routed.Decomposition == nil || len(routed.Decomposition.SubQueries) < 2 {
		return nil
	}
	seen := map[string]bool{strings.ToLower(question): true}
	var texts []string
	for _, sub := range routed.Decomposition.SubQueries {
		text := strings.TrimSpace(sub.Query)
		if text == "" || seen[strings.ToLower(text)] {
			continue
		}
		seen[strings.ToLower(text)] = true
		texts = append(texts, text)
	}
	return texts
}

// retrieveOne embeds one query and runs the index round trip for it. An
// embedding failure returns empty matches without error so the caller can
// degrade.
func (h *HybridSearch) retrieveOne(ctx context.Context, tenantID, query, rewritten string, limit int, config routing.RetrievalConfig) ([]vectorindex.Match, []vectorindex.Match, error) {
	queryEmbedding, err := h.embedder.Embed(ctx, tenantID, query)
	if err != nil {
		h.logger.Warn("Embedding failed, returning empty retrieval", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		return nil, nil, nil
	}

	var rewriteEmbedding []float32
	if rewritten != "" {
		rewriteEmbedding, err = h.embedder.Embed(ctx, tenantID, rewritten)
		if err != nil {
			h.logger.Debug("Rewrite embedding failed, continuing with original only", map[string]interface{}{
				"error": err.Error(),
			})
			rewriteEmbedding = nil
		}
	}

	return h.queryIndex(ctx, tenantID, queryEmbedding, rewriteEmbedding, limit, config)
}

// queryIndex runs the chunks and content namespace queries in parallel. A
// content namespace failure degrades to an empty contribution.
func (h *HybridSearch) queryIndex(ctx context.Context, tenantID string, queryEmbedding, rewriteEmbedding []float32, limit int, config routing.RetrievalConfig) ([]vectorindex.Match, []vectorindex.Match, error) {
	filter := map[string]interface{}{"tenant_id": tenantID}
	if config.SourceFilter != "" {
		filter["source"] = config.SourceFilter
	}

	chunksTopK := limit * h.config.ChunkMultiplier
	contentTopK := int(math.Ceil(float64(limit) / 2))

	var (
		wg             sync.WaitGroup
		chunkMatches   []vectorindex.Match
		rewriteMatches []vectorindex.Match
		contentMatches []vectorindex.Match
		chunksErr      error
		rewriteErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		chunkMatches, chunksErr = h.index.Query(ctx, h.config.ChunksNamespace, queryEmbedding, chunksTopK, filter)
	}()
	go func() {
		defer wg.Done()
		var err error
		contentMatches, err = h.index.Query(ctx, h.config.ContentNamespace, queryEmbedding, contentTopK, filter)
		if err != nil {
			h.logger.Warn("Content namespace query failed, continuing without it", map[string]interface{}{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
			contentMatches = nil
		}
	}()
	if rewriteEmbedding != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rewriteMatches, rewriteErr = h.index.Query(ctx, h.config.ChunksNamespace, rewriteEmbedding, chunksTopK, filter)
		}()
	}
	wg.Wait()

	if chunksErr != nil {
		return nil, nil, fmt.Errorf("chunks namespace query failed: %w", chunksErr)
	}
	if rewriteErr != nil {
		h.logger.Debug("Rewrite query failed, continuing with original only", map[string]interface{}{
			"error": rewriteErr.Error(),
		})
		rewriteMatches = nil
	}

	return mergeMatches(chunkMatches, rewriteMatches), contentMatches, nil
}

// mergeMatches unions two match sets keeping the higher score per id. The
// primary set's ordering is preserved; extra rewrite-only matches append in
// their own order.
func mergeMatches(primary, secondary []vectorindex.Match) []vectorindex.Match {
	if len(secondary) == 0 {
		return primary
	}
	index := make(map[string]int, len(primary))
	merged := make([]vectorindex.Match, len(primary))
	copy(merged, primary)
	for i := range merged {
		index[merged[i].ID] = i
	}
	for _, m := range secondary {
		if at, ok := index[m.ID]; ok {
			if m.Score > merged[at].Score {
				merged[at].Score = m.Score
			}
			continue
		}
		index[m.ID] = len(merged)
		merged = append(merged, m)
	}
	return merged
}

// hydrate fetches texts for all matched ids in one batch per store and
// builds RetrievedChunks, synthesizing S1..SN source ids in order.
func (h *HybridSearch) hydrate(ctx context.Context, tenantID string, chunkMatches, contentMatches []vectorindex.Match) ([]models.RetrievedChunk, error) {
	chunkIDs := make([]string, 0, len(chunkMatches))
	for _, m := range chunkMatches {
		chunkIDs = append(chunkIDs, m.ID)
	}
	contentIDs := make([]string, 0, len(contentMatches))
	for _, m := range contentMatches {
		contentIDs = append(contentIDs, m.ID)
	}

	var chunks map[string]models.Chunk
	var err error
	if len(chunkIDs) > 0 {
		chunks, err = h.store.ChunksByIDs(ctx, tenantID, chunkIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chunks: %w", err)
		}
	}
	var content map[string]models.ContentItem
	if len(contentIDs) > 0 {
		content, err = h.store.ContentByIDs(ctx, tenantID, contentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch content items: %w", err)
		}
	}

	retrieved := make([]models.RetrievedChunk, 0, len(chunkMatches)+len(contentMatches))

	for _, match := range chunkMatches {
		chunk, ok := chunks[match.ID]
		if !ok {
			continue // index is ahead of the store; skip orphaned ids
		}
		rc := models.RetrievedChunk{
			ID:         match.ID,
			ChunkText:  chunk.ChunkText,
			Similarity: match.Score,
			Metadata:   matchMetadata(match),
		}
		var meta models.ChunkMetadata
		if len(chunk.Metadata) > 0 {
			_ = json.Unmarshal(chunk.Metadata, &meta)
		}
		rc.Source = models.SourceAttribution{
			DocumentTitle: meta.DocumentTitle,
			DocumentURL:   meta.DocumentURL,
			Section:       meta.Section,
			Date:          meta.Date,
			PageNumber:    meta.PageNumber,
		}
		if rc.Metadata == nil {
			rc.Metadata = map[string]interface{}{}
		}
		rc.Metadata["document_id"] = chunk.DocumentID.String()
		rc.Metadata["chunk_index"] = chunk.ChunkIndex
		retrieved = append(retrieved, rc)
	}

	for _, match := range contentMatches {
		item, ok := content[match.ID]
		if !ok {
			continue
		}
		text := item.Content
		if item.Summary != nil && *item.Summary != "" {
			text = item.Title + ". " + *item.Summary
		}
		rc := models.RetrievedChunk{
			ID:         match.ID,
			ChunkText:  text,
			Similarity: match.Score,
			Metadata:   matchMetadata(match),
		}
		if rc.Metadata == nil {
			rc.Metadata = map[string]interface{}{}
		}
		rc.Metadata["category"] = item.Category
		rc.Source = models.SourceAttribution{DocumentTitle: item.Title}
		if item.URL != nil {
			rc.Source.DocumentURL = *item.URL
		}
		if item.PublishedAt != nil {
			rc.Source.Date = item.PublishedAt.Format("2006-01-02")
		}
		retrieved = append(retrieved, rc)
	}

	for i := range retrieved {
		if retrieved[i].Source.SourceID == "" {
			retrieved[i].Source.SourceID = fmt.Sprintf("S%d", i+1)
		}
		retrieved[i].Source.Citation = "[" + retrieved[i].Source.SourceID + "]"
	}

	return retrieved, nil
}

func matchMetadata(match vectorindex.Match) map[string]interface{} {
	if match.Metadata == nil {
		return nil
	}
	out := make(map[string]interface{}, len(match.Metadata))
	for k, v := range match.Metadata {
		out[k] = v
	}
	return out
}

func filterBySimilarity(chunks []models.RetrievedChunk, min float64) []models.RetrievedChunk {
	kept := chunks[:0]
	for _, c := range chunks {
		if c.Similarity >= min {
			kept = append(kept, c)
		}
	}
	return kept
}

// dedupeByURL keeps the highest-similarity chunk per document URL. Chunks
// without a URL pass through untouched. First-seen order is preserved.
func dedupeByURL(chunks []models.RetrievedChunk) []models.RetrievedChunk {
	best := make(map[string]int)
	kept := make([]models.RetrievedChunk, 0, len(chunks))
	for _, c := range chunks {
		url := c.Source.DocumentURL
		if url == "" {
			kept = append(kept, c)
			continue
		}
		if at, ok := best[url]; ok {
			if c.Similarity > kept[at].Similarity {
				kept[at] = c
			}
			continue
		}
		best[url] = len(kept)
		kept = append(kept, c)
	}
	return kept
}

// expandSiblings widens top results with neighboring chunks from the same
// document. Failures are tolerated; the unexpanded text stands.
func (h *HybridSearch) expandSiblings(ctx context.Context, tenantID string, chunks []models.RetrievedChunk, radius int) {
	for i := range chunks {
		docIDRaw, ok := chunks[i].Metadata["document_id"].(string)
		if !ok {
			continue
		}
		docID, err := uuid.Parse(docIDRaw)
		if err != nil {
			continue
		}
		chunkIndex, ok := chunks[i].Metadata["chunk_index"].(int)
		if !ok {
			continue
		}
		siblings, err := h.store.AdjacentChunks(ctx, tenantID, docID, chunkIndex, radius)
		if err != nil {
			h.logger.Debug("Sibling expansion failed", map[string]interface{}{
				"document_id": docIDRaw,
				"error":       err.Error(),
			})
			continue
		}
		if len(siblings) == 0 {
			continue
		}
		var parts []string
		for _, s := range siblings {
			parts = append(parts, s.ChunkText)
		}
		chunks[i].ChunkText = strings.Join(parts, "\n\n")
	}
}
