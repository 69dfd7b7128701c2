package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/llm"
	"github.com/civicmesh/civicmesh/internal/observability"
)

const decomposeTimeout = 3 * time.Second

// Strategy describes how sub-queries should be executed.
type Strategy string

const (
	StrategySingle     Strategy = "single"
	StrategyParallel   Strategy = "parallel"
	StrategySequential Strategy = "sequential"
)

// SubQuery is one retrievable unit of a decomposed question.
type SubQuery struct {
	Query      string   `json:"query"`
	Intent     Intent   `json:"intent"`
	SourceHint []string `json:"sourceHint"`
	Priority   int      `json:"priority"`
}

// Decomposition is the router's classification of one question.
type Decomposition struct {
	OriginalQuery string     `json:"originalQuery"`
	IsComplex     bool       `json:"isComplex"`
	SubQueries    []SubQuery `json:"subQueries"`
	Strategy      Strategy   `json:"strategy"`
}

// defaultDecomposition is the safe fallback used whenever the LLM call
// fails, times out, or returns unusable JSON.
func defaultDecomposition(query string) *Decomposition {
	return &Decomposition{
		OriginalQuery: query,
		IsComplex:     false,
		SubQueries: []SubQuery{{
			Query:      query,
			Intent:     IntentFactual,
			SourceHint: []string{"any"},
			Priority:   1,
		}},
		Strategy: StrategySingle,
	}
}

const decomposeSystemPrompt = `You analyze resident questions for a municipal information assistant. Classify the question and, when it bundles multiple asks, split it into sub-queries.

Respond with JSON only, shaped exactly as:
{
  "originalQuery": "...",
  "isComplex": false,
  "subQueries": [
    {"query": "...", "intent": "factual", "sourceHint": ["any"], "priority": 1}
  ],
  "strategy": "single"
}

intent must be one of: factual, procedural, recommendation, exploratory, comparison, document_lookup, contact, schedule, navigational.
strategy must be one of: single, parallel, sequential.
Simple questions get exactly one sub-query equal to the original and strategy "single". For comparison questions emit one sub-query per compared entity with strategy "parallel".`

// Decomposer classifies and optionally splits questions via the LLM.
type Decomposer struct {
	client llm.Client
	model  string
	logger observability.Logger
}

// NewDecomposer creates a decomposer using the given model
func NewDecomposer(client llm.Client, model string, logger observability.Logger) *Decomposer {
	return &Decomposer{client: client, model: model, logger: logger}
}

// Decompose classifies query into intent-tagged sub-queries. It always
// returns a usable decomposition; LLM failures degrade to a single factual
// sub-query.
func (d *Decomposer) Decompose(ctx context.Context, query string) *Decomposition {
	if d == nil || d.client == nil {
		return defaultDecomposition(query)
	}

	ctx, cancel := context.WithTimeout(ctx, decomposeTimeout)
	defer cancel()

	resp, err := d.client.Complete(ctx, llm.CompletionRequest{
		Model:        d.model,
		SystemPrompt: decomposeSystemPrompt,
		Prompt:       query,
		MaxTokens:    400,
		Temperature:  0,
		JSONMode:     true,
	})
	if err != nil {
		d.logger.Debug("Query decomposition skipped", map[string]interface{}{
			"error": err.Error(),
		})
		return defaultDecomposition(query)
	}

	decomposition, err := parseDecomposition(query, resp.Text)
	if err != nil {
		d.logger.Warn("Query decomposition returned unusable JSON", map[string]interface{}{
			"error": err.Error(),
		})
		return defaultDecomposition(query)
	}
	return decomposition
}

// parseDecomposition validates the model output and repairs tolerable gaps
// (missing intents, empty hints) rather than discarding the whole result.
func parseDecomposition(query, raw string) (*Decomposition, error) {
	raw = strings.TrimSpace(raw)
	// Models occasionally fence JSON despite json_object mode.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var parsed Decomposition
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse decomposition: %w", err)
	}
	if len(parsed.SubQueries) == 0 {
		return nil, fmt.Errorf("decomposition contained no sub-queries")
	}

	parsed.OriginalQuery = query
	switch parsed.Strategy {
	case StrategySingle, StrategyParallel, StrategySequential:
	default:
		parsed.Strategy = StrategySingle
	}

	valid := parsed.SubQueries[:0]
	for i, sub := range parsed.SubQueries {
		sub.Query = strings.TrimSpace(sub.Query)
		if sub.Query == "" {
			continue
		}
		if !ValidIntent(string(sub.Intent)) {
			sub.Intent = IntentFactual
		}
		if len(sub.SourceHint) == 0 {
			sub.SourceHint = []string{"any"}
		}
		if sub.Priority <= 0 {
			sub.Priority = i + 1
		}
		valid = append(valid, sub)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("decomposition contained only empty sub-queries")
	}
	parsed.SubQueries = valid
	parsed.IsComplex = parsed.IsComplex && len(parsed.SubQueries) > 1

	return &parsed, nil
}
