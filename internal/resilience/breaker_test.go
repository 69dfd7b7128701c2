package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/observability"
)

func newTestBreaker(config BreakerConfig) *Breaker {
	return NewBreaker(config, observability.NewNoopLogger())
}

func TestBreaker_StaysClosedOnSuccess(t *testing.T) {
	b := newTestBreaker(DefaultBreakerConfig())

	for i := 0; i < 20; i++ {
		err := b.Execute(context.Background(), func() error { return nil })
		require.NoError(t, err)
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute, ProbeCount: 1})

	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), func() error { return assert.AnError })
	}
	assert.Equal(t, Open, b.State())

	err := b.Execute(context.Background(), func() error {
		t.Fatal("open breaker must not call through")
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxFailures: 3, ResetTimeout: time.Minute, ProbeCount: 1})

	_ = b.Execute(context.Background(), func() error { return assert.AnError })
	_ = b.Execute(context.Background(), func() error { return assert.AnError })
	_ = b.Execute(context.Background(), func() error { return nil })
	_ = b.Execute(context.Background(), func() error { return assert.AnError })
	_ = b.Execute(context.Background(), func() error { return assert.AnError })

	assert.Equal(t, Closed, b.State())
}

func TestBreaker_RecoversThroughProbes(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, ProbeCount: 2})

	_ = b.Execute(context.Background(), func() error { return assert.AnError })
	require.Equal(t, Open, b.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, b.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := newTestBreaker(BreakerConfig{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond, ProbeCount: 2})

	_ = b.Execute(context.Background(), func() error { return assert.AnError })
	time.Sleep(20 * time.Millisecond)

	_ = b.Execute(context.Background(), func() error { return assert.AnError })
	assert.Equal(t, Open, b.State())
}

func TestBreaker_CancelledContextShortCircuits(t *testing.T) {
	b := newTestBreaker(DefaultBreakerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Closed, b.State())
}
