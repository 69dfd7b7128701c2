package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicmesh/civicmesh/internal/observability"
)

// ResponseCache memoizes content-listing responses per tenant with a
// short TTL. Redis failures degrade to a miss so the listing path never
// depends on cache availability.
type ResponseCache struct {
	redis  *Redis
	ttl    time.Duration
	logger observability.Logger
}

// NewResponseCache creates the listing cache. ttl of zero uses 60s.
func NewResponseCache(redis *Redis, ttl time.Duration, logger observability.Logger) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &ResponseCache{
		redis:  redis,
		ttl:    ttl,
		logger: logger.WithPrefix("response-cache"),
	}
}

func listingKey(tenantID, category, sourceID string, limit, offset int) string {
	return "content:" + hashKey(tenantID, category, sourceID, fmt.Sprintf("%d:%d", limit, offset))
}

// GetListing retrieves a cached listing response into dest. Returns false
// on miss or any cache failure.
func (c *ResponseCache) GetListing(ctx context.Context, tenantID, category, sourceID string, limit, offset int, dest interface{}) bool {
	err := c.redis.GetJSON(ctx, listingKey(tenantID, category, sourceID, limit, offset), dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrMiss) {
		c.logger.Warn("Listing cache read failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
	}
	return false
}

// PutListing stores a listing response. Failures are logged and dropped.
func (c *ResponseCache) PutListing(ctx context.Context, tenantID, category, sourceID string, limit, offset int, value interface{}) {
	err := c.redis.SetJSON(ctx, listingKey(tenantID, category, sourceID, limit, offset), value, c.ttl)
	if err != nil {
		c.logger.Warn("Listing cache write failed", map[string]interface{}{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
	}
}

// SeenHashes is a pre-insert shortcut for the ingestion runner: a hash
// already marked lets the runner skip the store round-trip for known
// duplicates. The unique constraint remains the source of truth.
type SeenHashes struct {
	redis *Redis
	ttl   time.Duration
}

// NewSeenHashes creates the hash shortcut with a 30 day retention.
func NewSeenHashes(redis *Redis) *SeenHashes {
	return &SeenHashes{redis: redis, ttl: 30 * 24 * time.Hour}
}

func seenKey(tenantID, sourceID, contentHash string) string {
	return "seen:" + hashKey(tenantID, sourceID, contentHash)
}

// Seen reports whether the hash was marked before. Failures read as unseen.
func (s *SeenHashes) Seen(ctx context.Context, tenantID, sourceID, contentHash string) bool {
	_, err := s.redis.Get(ctx, seenKey(tenantID, sourceID, contentHash))
	return err == nil
}

// Mark records the hash after a successful upsert.
func (s *SeenHashes) Mark(ctx context.Context, tenantID, sourceID, contentHash string) {
	_ = s.redis.Set(ctx, seenKey(tenantID, sourceID, contentHash), []byte("1"), s.ttl)
}
