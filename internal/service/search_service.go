package service

import (
	"context"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/answer"
	"github.com/civicmesh/civicmesh/internal/metrics"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/retrieval"
	"github.com/civicmesh/civicmesh/internal/routing"
)

const (
	maxSearchLimit     = 20
	defaultSearchLimit = 20
	snippetLength      = 300
)

// SearchResult is one row of the search response.
type SearchResult struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Snippet    string   `json:"snippet"`
	SourceURL  string   `json:"source_url,omitempty"`
	Department string   `json:"department,omitempty"`
	Date       string   `json:"date,omitempty"`
	Similarity float64  `json:"similarity"`
	Highlights []string `json:"highlights,omitempty"`
}

// CachedAnswerSummary is the cached answer attached to a search response
// when the same question was answered before.
type CachedAnswerSummary struct {
	AnswerText string             `json:"answer_text"`
	Sources    []models.SourceRef `json:"sources"`
}

// SearchResponse is the body of the search endpoint.
type SearchResponse struct {
	Results      []SearchResult       `json:"results"`
	CachedAnswer *CachedAnswerSummary `json:"cached_answer,omitempty"`
	TimingMs     int64                `json:"timing_ms"`
}

// SearchService serves direct retrieval queries without composition.
type SearchService struct {
	router   *routing.Router
	search   *retrieval.HybridSearch
	cache    *answer.Cache
	synonyms map[string][]string
	metrics  *metrics.Metrics
	logger   observability.Logger
}

// NewSearchService wires the search endpoint pipeline.
func NewSearchService(router *routing.Router, search *retrieval.HybridSearch, cache *answer.Cache, synonyms map[string][]string, m *metrics.Metrics, logger observability.Logger) *SearchService {
	return &SearchService{
		router:   router,
		search:   search,
		cache:    cache,
		synonyms: synonyms,
		metrics:  m,
		logger:   logger.WithPrefix("search-service"),
	}
}

// Search runs retrieval for a raw query and projects the chunks into
// search results. limit is clamped to [1, 20].
func (s *SearchService) Search(ctx context.Context, tenantID, query string, limit int) (*SearchResponse, error) {
	started := time.Now()
	query = strings.TrimSpace(query)

	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	routed := s.router.Route(ctx, query, s.synonyms)
	chunks, err := s.search.Search(ctx, tenantID, query, limit, routed)
	if s.metrics != nil {
		s.metrics.RecordRetrieval(len(chunks), time.Since(started).Seconds(), err)
	}
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(chunks))
	for i := range chunks {
		chunk := &chunks[i]
		results = append(results, SearchResult{
			ID:         chunk.ID,
			Title:      chunk.Source.DocumentTitle,
			Snippet:    Snippet(chunk.ChunkText, snippetLength),
			SourceURL:  chunk.Source.DocumentURL,
			Department: chunk.Source.Section,
			Date:       chunk.Source.Date,
			Similarity: chunk.Similarity,
			Highlights: retrieval.HighlightTerms(query, chunk.ChunkText),
		})
	}

	response := &SearchResponse{
		Results:  results,
		TimingMs: time.Since(started).Milliseconds(),
	}
	if cached := s.cache.Get(ctx, query, tenantID); cached != nil {
		response.CachedAnswer = &CachedAnswerSummary{
			AnswerText: cached.AnswerText,
			Sources:    cached.Sources,
		}
	}
	return response, nil
}

// Snippet truncates text to at most n characters, breaking at a word
// boundary and appending an ellipsis when shortened.
func Snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= n {
		return text
	}
	cut := strings.LastIndex(text[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return strings.TrimRight(text[:cut], " .,;:") + "…"
}
