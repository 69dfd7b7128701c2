// Package resilience guards calls to external providers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/civicmesh/civicmesh/internal/observability"
)

// ErrOpen is returned while the breaker is rejecting calls.
var ErrOpen = errors.New("provider circuit open")

// State is the breaker state.
type State int

const (
	// Closed passes calls through.
	Closed State = iota
	// Open rejects calls until the reset timeout elapses.
	Open
	// HalfOpen admits a limited number of probe calls.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes the breaker.
type BreakerConfig struct {
	// MaxFailures opens the breaker after this many consecutive-window
	// failures.
	MaxFailures int
	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration
	// ProbeCount is how many probe calls half-open admits; that many
	// successes close the breaker again.
	ProbeCount int
}

// DefaultBreakerConfig returns the tuning used for LLM providers.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		ProbeCount:   2,
	}
}

// Breaker is a circuit breaker for provider calls. A run of failures
// opens it; after ResetTimeout it admits probes, and enough probe
// successes close it.
type Breaker struct {
	config    BreakerConfig
	state     State
	failures  int
	successes int
	probes    int
	openedAt  time.Time
	logger    observability.Logger

	mu sync.Mutex
}

// NewBreaker creates a breaker.
func NewBreaker(config BreakerConfig, logger observability.Logger) *Breaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.ProbeCount <= 0 {
		config.ProbeCount = 2
	}
	return &Breaker{
		config: config,
		state:  Closed,
		logger: logger.WithPrefix("breaker"),
	}
}

// Execute runs fn if the breaker admits the call and records the outcome.
// Context errors count as failures of the provider only when fn itself
// returns them.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.allow() {
		return ErrOpen
	}
	err := fn()
	b.record(err == nil)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) > b.config.ResetTimeout {
			b.state = HalfOpen
			b.probes = 0
			b.successes = 0
			b.logger.Info("Circuit half-open, probing provider", nil)
			return true
		}
		return false
	case HalfOpen:
		if b.probes < b.config.ProbeCount {
			b.probes++
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state == HalfOpen {
			b.successes++
			if b.successes >= b.config.ProbeCount {
				b.state = Closed
				b.logger.Info("Circuit closed, provider recovered", nil)
			}
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.config.MaxFailures {
		if b.state != Open {
			b.logger.Warn("Circuit opened", map[string]interface{}{
				"failures": b.failures,
			})
		}
		b.state = Open
		b.openedAt = time.Now()
	}
}
