// Package routing classifies incoming questions and turns them into
// retrieval instructions: synonym expansion, best-effort LLM rewrite,
// and decomposition into intent-tagged sub-queries.
package routing

// Intent classifies a question into a retrieval profile.
type Intent string

const (
	IntentFactual        Intent = "factual"
	IntentProcedural     Intent = "procedural"
	IntentRecommendation Intent = "recommendation"
	IntentExploratory    Intent = "exploratory"
	IntentComparison     Intent = "comparison"
	IntentDocumentLookup Intent = "document_lookup"
	IntentContact        Intent = "contact"
	IntentSchedule       Intent = "schedule"
	IntentNavigational   Intent = "navigational"
)

// ValidIntent reports whether s names a known intent.
func ValidIntent(s string) bool {
	switch Intent(s) {
	case IntentFactual, IntentProcedural, IntentRecommendation, IntentExploratory,
		IntentComparison, IntentDocumentLookup, IntentContact, IntentSchedule,
		IntentNavigational:
		return true
	}
	return false
}

// RetrievalConfig is the per-intent retrieval profile consumed by the
// hybrid retriever and its ranker.
type RetrievalConfig struct {
	Intent              Intent
	SimilarityThreshold float64
	ResultCount         int
	SourceFilter        string
	CategoryBoosts      map[string]float64
	RecencyWeight       float64
	AuthorityWeight     float64
	ExpandSiblings      int
}

// profiles is the static intent table, built once at init. Lookups on the
// answer path never allocate.
var profiles = map[Intent]RetrievalConfig{
	IntentFactual: {
		Intent:              IntentFactual,
		SimilarityThreshold: 0.75,
		ResultCount:         5,
		RecencyWeight:       0.05,
		AuthorityWeight:     0.20,
	},
	IntentProcedural: {
		Intent:              IntentProcedural,
		SimilarityThreshold: 0.70,
		ResultCount:         8,
		RecencyWeight:       0.05,
		AuthorityWeight:     0.15,
		ExpandSiblings:      3,
	},
	IntentRecommendation: {
		Intent:              IntentRecommendation,
		SimilarityThreshold: 0.65,
		ResultCount:         10,
		RecencyWeight:       0.10,
		AuthorityWeight:     0.05,
		CategoryBoosts:      map[string]float64{"local_business": 0.20},
	},
	IntentExploratory: {
		Intent:              IntentExploratory,
		SimilarityThreshold: 0.65,
		ResultCount:         12,
		RecencyWeight:       0.25,
		AuthorityWeight:     0.05,
		CategoryBoosts:      map[string]float64{"news": 0.10, "community": 0.10},
	},
	IntentComparison: {
		Intent:              IntentComparison,
		SimilarityThreshold: 0.67,
		ResultCount:         8, // per entity sub-query
		RecencyWeight:       0.10,
		AuthorityWeight:     0.10,
	},
	IntentDocumentLookup: {
		Intent:              IntentDocumentLookup,
		SimilarityThreshold: 0.73,
		ResultCount:         3,
		RecencyWeight:       0.05,
		AuthorityWeight:     0.25,
		ExpandSiblings:      5,
		SourceFilter:        "documents",
	},
	IntentContact: {
		Intent:              IntentContact,
		SimilarityThreshold: 0.75,
		ResultCount:         3,
		RecencyWeight:       0.05,
		AuthorityWeight:     0.20,
		CategoryBoosts:      map[string]float64{"municipal": 0.15},
	},
	IntentSchedule: {
		Intent:              IntentSchedule,
		SimilarityThreshold: 0.75,
		ResultCount:         5,
		RecencyWeight:       0.20,
		AuthorityWeight:     0.10,
		CategoryBoosts:      map[string]float64{"municipal": 0.10},
	},
	IntentNavigational: {
		Intent:              IntentNavigational,
		SimilarityThreshold: 0.75,
		ResultCount:         3,
		RecencyWeight:       0.05,
		AuthorityWeight:     0.15,
		CategoryBoosts:      map[string]float64{"municipal": 0.10},
	},
}

// ProfileFor returns the retrieval profile for an intent. Unknown intents
// fall back to the factual profile.
func ProfileFor(intent Intent) RetrievalConfig {
	if profile, ok := profiles[intent]; ok {
		return profile
	}
	return profiles[IntentFactual]
}
