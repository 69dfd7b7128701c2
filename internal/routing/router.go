package routing

import (
	"context"

	"github.com/civicmesh/civicmesh/internal/observability"
)

// RoutedQuery is the router's full output for one question.
type RoutedQuery struct {
	Original      string
	Expanded      string
	Rewritten     string // empty when no useful rewrite was produced
	Decomposition *Decomposition
	Config        RetrievalConfig
}

// Router applies the three query transformations in order. Each stage is
// optional and failure-tolerant.
type Router struct {
	rewriter   *Rewriter
	decomposer *Decomposer
	logger     observability.Logger
}

// NewRouter creates a router. Both rewriter and decomposer may be nil, in
// which case those stages are skipped.
func NewRouter(rewriter *Rewriter, decomposer *Decomposer, logger observability.Logger) *Router {
	return &Router{rewriter: rewriter, decomposer: decomposer, logger: logger}
}

// Route expands, rewrites, and decomposes query. The retrieval profile is
// selected from the primary sub-query's intent.
func (r *Router) Route(ctx context.Context, query string, tenantSynonyms map[string][]string) *RoutedQuery {
	expanded := ExpandSynonyms(query, tenantSynonyms)

	rewritten := r.rewriter.Rewrite(ctx, query)

	decomposition := r.decomposer.Decompose(ctx, query)

	routed := &RoutedQuery{
		Original:      query,
		Expanded:      expanded,
		Rewritten:     rewritten,
		Decomposition: decomposition,
		Config:        ProfileFor(decomposition.SubQueries[0].Intent),
	}

	r.logger.Debug("Routed query", map[string]interface{}{
		"intent":      string(routed.Config.Intent),
		"sub_queries": len(decomposition.SubQueries),
		"strategy":    string(decomposition.Strategy),
		"rewritten":   rewritten != "",
	})
	return routed
}
