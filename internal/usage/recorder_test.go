package usage

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost_KnownModel(t *testing.T) {
	got := estimateCost("gpt-4o-mini", 1000, 500)
	want := 1000*0.15/1e6 + 500*0.60/1e6
	assert.InDelta(t, want, got, 1e-12)
}

func TestEstimateCost_PrefixMatch(t *testing.T) {
	got := estimateCost("gpt-4o-2024-08-06", 1_000_000, 0)
	assert.InDelta(t, 2.50, got, 1e-9)
}

func TestEstimateCost_UnknownModelIsFree(t *testing.T) {
	assert.Zero(t, estimateCost("mystery-model", 5000, 5000))
}

func TestEstimateCost_EmbeddingInputOnly(t *testing.T) {
	got := estimateCost("text-embedding-3-small", 2_000_000, 0)
	assert.InDelta(t, 0.04, got, 1e-9)
}

func TestSampleRateClamping(t *testing.T) {
	r := NewRecorder(nil, 0, nil)
	assert.InDelta(t, defaultEmbeddingSampleRate, r.sampleRate, 1e-12)

	r = NewRecorder(nil, 1.5, nil)
	assert.InDelta(t, defaultEmbeddingSampleRate, r.sampleRate, 1e-12)

	r = NewRecorder(nil, 0.25, nil)
	assert.InDelta(t, 0.25, r.sampleRate, 1e-12)
}

func TestSampleRoughlyMatchesRate(t *testing.T) {
	r := NewRecorder(nil, 0.05, nil)

	hits := 0
	const trials = 20000
	for i := 0; i < trials; i++ {
		if r.sample() {
			hits++
		}
	}
	rate := float64(hits) / trials
	assert.Less(t, math.Abs(rate-0.05), 0.01)
}
