package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/observability"
)

func newTestRedis(t *testing.T, enabled bool) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	config := DefaultConfig()
	config.Enabled = enabled
	return NewRedis(client, config, observability.NewNoopLogger()), mr
}

func TestRedis_SetGetRoundTrip(t *testing.T) {
	c, _ := newTestRedis(t, true)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestRedis_MissAndExpiry(t *testing.T) {
	c, mr := newTestRedis(t, true)
	ctx := context.Background()

	_, err := c.Get(ctx, "absent")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	mr.FastForward(2 * time.Second)

	_, err = c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_DisabledAlwaysMisses(t *testing.T) {
	c, _ := newTestRedis(t, false)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedis_JSONRoundTrip(t *testing.T) {
	c, _ := newTestRedis(t, true)
	ctx := context.Background()

	type payload struct {
		Title string `json:"title"`
		Count int    `json:"count"`
	}
	require.NoError(t, c.SetJSON(ctx, "j", payload{Title: "events", Count: 3}, 0))

	var got payload
	require.NoError(t, c.GetJSON(ctx, "j", &got))
	assert.Equal(t, payload{Title: "events", Count: 3}, got)
}

func TestRedis_GetJSONInvalidPayload(t *testing.T) {
	c, _ := newTestRedis(t, true)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "bad", []byte("{not json"), 0))

	var dest map[string]interface{}
	err := c.GetJSON(ctx, "bad", &dest)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRedis_ClearRemovesPrefixedKeys(t *testing.T) {
	c, mr := newTestRedis(t, true)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	mr.Set("unrelated", "keep")

	require.NoError(t, c.Clear(ctx))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	assert.True(t, mr.Exists("unrelated"))
}

func TestResponseCache_RoundTripAndMiss(t *testing.T) {
	c, _ := newTestRedis(t, true)
	rc := NewResponseCache(c, time.Minute, observability.NewNoopLogger())
	ctx := context.Background()

	type listing struct {
		Total int `json:"total"`
	}
	var got listing
	assert.False(t, rc.GetListing(ctx, "springfield", "news", "", 20, 0, &got))

	rc.PutListing(ctx, "springfield", "news", "", 20, 0, listing{Total: 7})
	require.True(t, rc.GetListing(ctx, "springfield", "news", "", 20, 0, &got))
	assert.Equal(t, 7, got.Total)

	// A different page is a different key.
	assert.False(t, rc.GetListing(ctx, "springfield", "news", "", 20, 20, &got))
}

func TestSeenHashes(t *testing.T) {
	c, _ := newTestRedis(t, true)
	seen := NewSeenHashes(c)
	ctx := context.Background()

	assert.False(t, seen.Seen(ctx, "springfield", "src", "h1"))
	seen.Mark(ctx, "springfield", "src", "h1")
	assert.True(t, seen.Seen(ctx, "springfield", "src", "h1"))
	assert.False(t, seen.Seen(ctx, "springfield", "other", "h1"))
}
