// Package service orchestrates the answering pipeline: query routing,
// hybrid retrieval, confidence assessment, and streamed composition.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/answer"
	"github.com/civicmesh/civicmesh/internal/metrics"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/retrieval"
	"github.com/civicmesh/civicmesh/internal/routing"
)

// ErrNoQuestion is returned when the message list holds no user turn.
var ErrNoQuestion = errors.New("no user question in messages")

// AnswerService runs one answer request end to end.
type AnswerService struct {
	router     *routing.Router
	search     *retrieval.HybridSearch
	composer   *answer.Composer
	cache      *answer.Cache
	thresholds retrieval.ConfidenceThresholds
	synonyms   map[string][]string
	metrics    *metrics.Metrics
	logger     observability.Logger
}

// NewAnswerService wires the answering pipeline. cache and metrics may be
// nil. synonyms are the tenant-specific expansion terms layered over the
// built-in dictionary.
func NewAnswerService(router *routing.Router, search *retrieval.HybridSearch, composer *answer.Composer, cache *answer.Cache, thresholds retrieval.ConfidenceThresholds, synonyms map[string][]string, m *metrics.Metrics, logger observability.Logger) *AnswerService {
	return &AnswerService{
		router:     router,
		search:     search,
		composer:   composer,
		cache:      cache,
		thresholds: thresholds,
		synonyms:   synonyms,
		metrics:    m,
		logger:     logger.WithPrefix("answer-service"),
	}
}

// Answer checks the answer cache first, then routes the question, runs
// retrieval, and streams the composed answer through emit. The cache lookup
// precedes routing so a repeat question inside its TTL costs no model calls.
func (s *AnswerService) Answer(ctx context.Context, tenantID string, messages []models.Message, emit answer.EmitFunc) error {
	started := time.Now()
	question := latestUserQuestion(messages)
	if question == "" {
		return ErrNoQuestion
	}

	if cached := s.cache.Get(ctx, question, tenantID); cached != nil {
		err := s.composer.ComposeCached(cached, emit)
		s.record(tenantID, retrieval.ConfidenceHigh, started, true, err)
		return err
	}

	routed := s.router.Route(ctx, question, s.synonyms)

	chunks, err := s.search.Search(ctx, tenantID, question, routed.Config.ResultCount, routed)
	if err != nil {
		s.record(tenantID, "", started, false, err)
		return err
	}

	assessment := retrieval.AssessConfidence(chunks, s.thresholds)
	err = s.composer.ComposeFresh(ctx, tenantID, question, history(messages), chunks, assessment, emit)
	s.record(tenantID, assessment.Level, started, false, err)
	return err
}

func (s *AnswerService) record(tenantID, confidence string, started time.Time, cacheHit bool, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordAnswer(tenantID, confidence, time.Since(started).Seconds(), cacheHit, err)
}

// latestUserQuestion returns the content of the last user turn.
func latestUserQuestion(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return strings.TrimSpace(messages[i].Content)
		}
	}
	return ""
}

// history returns every turn before the last user one, which the composer
// uses for conversational context.
func history(messages []models.Message) []models.Message {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[:i]
		}
	}
	return nil
}
