package answer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/civicmesh/civicmesh/internal/models"
	"github.com/civicmesh/civicmesh/internal/observability"
)

// DefaultCacheTTL is how long a cached answer stays servable.
const DefaultCacheTTL = 7 * 24 * time.Hour

// AnswerStore is the persistence interface behind the answer cache.
type AnswerStore interface {
	GetAnswer(ctx context.Context, key string) (*models.CachedAnswer, error)
	PutAnswer(ctx context.Context, entry *models.CachedAnswer) error
}

// Cache is the durable question-to-answer cache. Lookups and writes are
// both best-effort; failures degrade to a full pipeline run.
type Cache struct {
	store  AnswerStore
	ttl    time.Duration
	logger observability.Logger
	now    func() time.Time
}

// NewCache creates the answer cache
func NewCache(store AnswerStore, ttl time.Duration, logger observability.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// CacheKey derives the cache key from the normalized question and tenant.
// Normalization lowercases and collapses internal whitespace so trivially
// reworded questions share an entry.
func CacheKey(question, tenantID string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(question)), " ")
	sum := sha256.Sum256([]byte(normalized + "\x00" + tenantID))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached answer for a question, or nil on miss. Expired
// entries and store failures both read as misses.
func (c *Cache) Get(ctx context.Context, question, tenantID string) *models.CachedAnswer {
	if c == nil || c.store == nil {
		return nil
	}
	entry, err := c.store.GetAnswer(ctx, CacheKey(question, tenantID))
	if err != nil {
		c.logger.Warn("Answer cache lookup failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		return nil
	}
	if entry == nil || entry.Expired(c.now()) {
		return nil
	}
	if len(entry.SourcesRaw) > 0 {
		if err := json.Unmarshal(entry.SourcesRaw, &entry.Sources); err != nil {
			c.logger.Warn("Cached answer carried unreadable sources", map[string]interface{}{
				"cache_key": entry.Key,
				"error":     err.Error(),
			})
			entry.Sources = nil
		}
	}
	return entry
}

// Put stores an answer asynchronously. Write failures are logged and
// swallowed; the caller's stream is never blocked.
func (c *Cache) Put(question, tenantID, answerText string, sources []models.SourceRef) {
	if c == nil || c.store == nil || strings.TrimSpace(answerText) == "" {
		return
	}
	entry := &models.CachedAnswer{
		Key:        CacheKey(question, tenantID),
		TenantID:   tenantID,
		AnswerText: answerText,
		StoredAt:   c.now(),
		TTLSeconds: int(c.ttl.Seconds()),
	}
	if raw, err := json.Marshal(sources); err == nil {
		entry.SourcesRaw = raw
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.store.PutAnswer(ctx, entry); err != nil {
			c.logger.Warn("Answer cache write failed", map[string]interface{}{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
		}
	}()
}
