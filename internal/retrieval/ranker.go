package retrieval

import (
	"sort"
	"time"

	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/routing"
)

// recencyHorizon bounds the recency term; anything older contributes zero.
const recencyHorizon = 365 * 24 * time.Hour

// defaultAuthority applies when a chunk carries no source weight.
const defaultAuthority = 0.5

// rankWeights are the combination weights for one ranking pass.
type rankWeights struct {
	semantic  float64
	lexical   float64
	recency   float64
	authority float64
}

func weightsFor(config routing.RetrievalConfig, semanticWeight, lexicalWeight float64) rankWeights {
	w := rankWeights{
		semantic:  semanticWeight,
		lexical:   lexicalWeight,
		recency:   config.RecencyWeight,
		authority: config.AuthorityWeight,
	}
	if w.semantic == 0 {
		w.semantic = 0.60
	}
	if w.lexical == 0 {
		w.lexical = 0.20
	}
	if w.recency == 0 {
		w.recency = 0.10
	}
	if w.authority == 0 {
		w.authority = 0.10
	}
	return w
}

// chunkDate extracts the most recent date metadata a chunk carries.
func chunkDate(chunk *models.RetrievedChunk) (time.Time, bool) {
	candidates := []string{chunk.Source.Date}
	if raw, ok := chunk.Metadata["date"].(string); ok {
		candidates = append(candidates, raw)
	}
	if raw, ok := chunk.Metadata["published_at"].(string); ok {
		candidates = append(candidates, raw)
	}

	var newest time.Time
	var found bool
	for _, raw := range candidates {
		if raw == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if parsed, err := time.Parse(layout, raw); err == nil {
				if !found || parsed.After(newest) {
					newest = parsed
					found = true
				}
				break
			}
		}
	}
	return newest, found
}

// recencyScore maps a chunk's freshest date onto [0, 1], linearly decaying
// to zero at the horizon. Undated chunks score a neutral 0.5.
func recencyScore(chunk *models.RetrievedChunk, now time.Time) float64 {
	date, ok := chunkDate(chunk)
	if !ok {
		return 0.5
	}
	age := now.Sub(date)
	if age < 0 {
		age = 0
	}
	if age >= recencyHorizon {
		return 0
	}
	return 1 - float64(age)/float64(recencyHorizon)
}

// authorityScore reads the tenant-supplied source weight from metadata.
func authorityScore(chunk *models.RetrievedChunk) float64 {
	if v, ok := chunk.Metadata["authority"].(float64); ok && v >= 0 && v <= 1 {
		return v
	}
	if v, ok := chunk.Metadata["source_weight"].(float64); ok && v >= 0 && v <= 1 {
		return v
	}
	return defaultAuthority
}

// categoryBoost returns the intent's additive boost for the chunk's source
// category, if any.
func categoryBoost(chunk *models.RetrievedChunk, config routing.RetrievalConfig) float64 {
	if len(config.CategoryBoosts) == 0 {
		return 0
	}
	if category, ok := chunk.Metadata["category"].(string); ok {
		return config.CategoryBoosts[category]
	}
	return 0
}

// rank scores chunks in place and sorts them descending by weighted score.
// Ties break by semantic score descending, then by document URL.
func rank(chunks []models.RetrievedChunk, query string, config routing.RetrievalConfig, semanticWeight, lexicalWeight float64, now time.Time) {
	w := weightsFor(config, semanticWeight, lexicalWeight)

	for i := range chunks {
		chunk := &chunks[i]
		score := w.semantic*chunk.Similarity +
			w.lexical*lexicalScore(query, chunk.ChunkText) +
			w.recency*recencyScore(chunk, now) +
			w.authority*authorityScore(chunk)
		score += categoryBoost(chunk, config)
		if score > 1.0 {
			score = 1.0
		}
		chunk.Score = score
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].Similarity != chunks[j].Similarity {
			return chunks[i].Similarity > chunks[j].Similarity
		}
		return chunks[i].Source.DocumentURL < chunks[j].Source.DocumentURL
	})
}
