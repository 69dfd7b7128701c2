package routing

import (
	"context"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/llm"
	"github.com/civicmesh/civicmesh/internal/observability"
)

const rewriteTimeout = 2 * time.Second

const rewriteSystemPrompt = `You rewrite resident questions into ideal search queries for a municipal information system. Respond with the rewritten query only, no explanation or quotes.`

// Rewriter produces an LLM-assisted reformulation of a question. Failures
// never block the pipeline.
type Rewriter struct {
	client llm.Client
	model  string
	logger observability.Logger
}

// NewRewriter creates a rewriter using the given model
func NewRewriter(client llm.Client, model string, logger observability.Logger) *Rewriter {
	return &Rewriter{client: client, model: model, logger: logger}
}

// Rewrite returns a reformulated query, or "" when the rewrite failed, timed
// out, or added nothing over the original.
func (r *Rewriter) Rewrite(ctx context.Context, query string) string {
	if r == nil || r.client == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, rewriteTimeout)
	defer cancel()

	resp, err := r.client.Complete(ctx, llm.CompletionRequest{
		Model:        r.model,
		SystemPrompt: rewriteSystemPrompt,
		Prompt:       query,
		MaxTokens:    100,
		Temperature:  0.3,
	})
	if err != nil {
		r.logger.Debug("Query rewrite skipped", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text), `"`))
	if rewritten == "" {
		return ""
	}
	// A rewrite that only changes case or whitespace buys nothing.
	if strings.EqualFold(rewritten, strings.TrimSpace(query)) {
		return ""
	}
	return rewritten
}
