// Package usage records provider token consumption for cost accounting.
package usage

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/civicmesh/civicmesh/internal/embedding"
	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
	"github.com/civicmesh/civicmesh/internal/repository"
)

// modelPrice is the cost per one million tokens, in USD.
type modelPrice struct {
	input  float64
	output float64
}

// Static price map. Unknown models fall back to zero cost rather than
// guessing.
var prices = map[string]modelPrice{
	"gpt-4o":                 {input: 2.50, output: 10.00},
	"gpt-4o-mini":            {input: 0.15, output: 0.60},
	"gpt-4.1":                {input: 2.00, output: 8.00},
	"gpt-4.1-mini":           {input: 0.40, output: 1.60},
	"text-embedding-3-small": {input: 0.02},
	"text-embedding-3-large": {input: 0.13},
}

const (
	endpointChat      = "chat"
	endpointEmbedding = "embedding"

	defaultEmbeddingSampleRate = 0.05
	writeTimeout               = 5 * time.Second
)

// Recorder writes usage rows with an estimated cost. Embedding calls are
// sampled to keep write volume down. Write failures are logged, never
// surfaced to callers.
type Recorder struct {
	repo       *repository.UsageRepository
	logger     observability.Logger
	sampleRate float64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRecorder builds a Recorder. sampleRate applies to embedding calls
// only; pass 0 for the default of 5%.
func NewRecorder(repo *repository.UsageRepository, sampleRate float64, logger observability.Logger) *Recorder {
	if sampleRate <= 0 || sampleRate > 1 {
		sampleRate = defaultEmbeddingSampleRate
	}
	return &Recorder{
		repo:       repo,
		logger:     logger,
		sampleRate: sampleRate,
		rand:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RecordCompletion implements answer.UsageSink.
func (r *Recorder) RecordCompletion(tenantID, model string, promptTokens, completionTokens, totalTokens int) {
	r.write(&models.UsageRecord{
		TenantID:         tenantID,
		Endpoint:         endpointChat,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      totalTokens,
		EstimatedCostUSD: estimateCost(model, promptTokens, completionTokens),
	})
}

// RecordEmbedding implements embedding.UsageSink. Only a sampled fraction
// of calls is persisted; the estimated cost is scaled up so that sampled
// totals remain unbiased.
func (r *Recorder) RecordEmbedding(tenantID, model string, u embedding.Usage) {
	if !r.sample() {
		return
	}
	r.write(&models.UsageRecord{
		TenantID:         tenantID,
		Endpoint:         endpointEmbedding,
		Model:            model,
		PromptTokens:     u.PromptTokens,
		TotalTokens:      u.TotalTokens,
		EstimatedCostUSD: estimateCost(model, u.PromptTokens, 0) / r.sampleRate,
	})
}

func (r *Recorder) sample() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64() < r.sampleRate
}

func (r *Recorder) write(record *models.UsageRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.repo.Insert(ctx, record); err != nil {
			r.logger.Warn("Failed to record usage", map[string]interface{}{
				"tenant_id": record.TenantID,
				"endpoint":  record.Endpoint,
				"error":     err.Error(),
			})
		}
	}()
}

// estimateCost prices a call from the static table. Model names carrying a
// provider prefix or date suffix still match their base entry.
func estimateCost(model string, promptTokens, completionTokens int) float64 {
	price, ok := prices[model]
	if !ok {
		for name, p := range prices {
			if strings.HasPrefix(model, name) {
				price, ok = p, true
				break
			}
		}
	}
	if !ok {
		return 0
	}
	const million = 1_000_000
	return float64(promptTokens)*price.input/million + float64(completionTokens)*price.output/million
}
