package retrieval

import "github.com/civicmesh/civicmesh/internal/models"

// Confidence levels.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// ConfidenceThresholds configures the scoring bands.
type ConfidenceThresholds struct {
	High   float64 // default 0.60
	Medium float64 // default 0.40
}

// DefaultConfidenceThresholds returns the standard bands
func DefaultConfidenceThresholds() ConfidenceThresholds {
	return ConfidenceThresholds{High: 0.60, Medium: 0.40}
}

// Assessment is the confidence result attached to an answer.
type Assessment struct {
	Level             string  `json:"level"`
	Label             string  `json:"label"`
	Color             string  `json:"color"`
	AverageSimilarity float64 `json:"average_similarity"`
	TopSimilarity     float64 `json:"top_similarity"`
	SupportingChunks  int     `json:"supporting_chunks"`
	Reason            string  `json:"reason"`
}

// AssessConfidence grades retrieval quality from the chunk similarities.
// Pure function; chunks with a non-positive similarity are ignored.
func AssessConfidence(chunks []models.RetrievedChunk, thresholds ConfidenceThresholds) Assessment {
	if thresholds.High == 0 {
		thresholds.High = 0.60
	}
	if thresholds.Medium == 0 {
		thresholds.Medium = 0.40
	}

	var sum, top float64
	var n int
	for i := range chunks {
		sim := chunks[i].Similarity
		if sim <= 0 {
			continue
		}
		n++
		sum += sim
		if sim > top {
			top = sim
		}
	}

	if n == 0 {
		return Assessment{
			Level:  ConfidenceLow,
			Label:  "Low confidence",
			Color:  "red",
			Reason: "No relevant sources were found for this question",
		}
	}

	avg := sum / float64(n)
	switch {
	case top >= thresholds.High && n >= 2:
		return Assessment{
			Level:             ConfidenceHigh,
			Label:             "High confidence",
			Color:             "green",
			AverageSimilarity: avg,
			TopSimilarity:     top,
			SupportingChunks:  n,
			Reason:            "Multiple closely matching sources support this answer",
		}
	case top >= thresholds.Medium || n == 1:
		return Assessment{
			Level:             ConfidenceMedium,
			Label:             "Medium confidence",
			Color:             "yellow",
			AverageSimilarity: avg,
			TopSimilarity:     top,
			SupportingChunks:  n,
			Reason:            "Some matching sources support this answer",
		}
	default:
		return Assessment{
			Level:             ConfidenceLow,
			Label:             "Low confidence",
			Color:             "red",
			AverageSimilarity: avg,
			TopSimilarity:     top,
			SupportingChunks:  n,
			Reason:            "Matching sources were weak for this question",
		}
	}
}

// CacheHitAssessment is the marker attached to answers served from the
// answer cache.
func CacheHitAssessment() Assessment {
	return Assessment{
		Level:            ConfidenceHigh,
		Label:            "High confidence",
		Color:            "green",
		SupportingChunks: 0,
		Reason:           "Served from answer cache",
	}
}
