package throttle

import (
	"context"
	"sync"
	"time"

	"codeberg.org/tessel/kairo/internal/errors"
	"codeberg.org/tessel/kairo/internal/logger"
)

const (
	defaultFailureThreshold = 5
	defaultBreakerTimeout   = 60 * time.Second
	defaultSuccessThreshold = 3
	defaultHalfOpenMax      = 5
)

// BreakerState is the circuit breaker state machine position.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the failure isolation thresholds.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the
	// circuit from Closed.
	FailureThreshold int

	// Timeout is how long the circuit stays Open before a probe
	// request may transition it to HalfOpen.
	Timeout time.Duration

	// SuccessThreshold is the success count that closes the circuit
	// from HalfOpen.
	SuccessThreshold int

	// MaxRequestsInHalfOpen caps the number of probe requests admitted
	// during one HalfOpen period; completed probes still count against
	// it until the next state transition.
	MaxRequestsInHalfOpen int
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:      defaultFailureThreshold,
		Timeout:               defaultBreakerTimeout,
		SuccessThreshold:      defaultSuccessThreshold,
		MaxRequestsInHalfOpen: defaultHalfOpenMax,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = defaultFailureThreshold
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultBreakerTimeout
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = defaultSuccessThreshold
	}
	if c.MaxRequestsInHalfOpen < 1 {
		c.MaxRequestsInHalfOpen = defaultHalfOpenMax
	}

	return c
}

// BreakerCounts exposes the internal counters for observability.
type BreakerCounts struct {
	FailureCount       int
	SuccessCount       int
	RequestsInHalfOpen int
	LastFailureAt      time.Time
}

// Breaker refuses calls after repeated failures and probes for
// recovery after a cooldown. The clock is injectable for tests.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu                 sync.Mutex
	state              BreakerState
	failureCount       int
	successCount       int
	requestsInHalfOpen int
	lastFailureAt      time.Time
}

func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		state: StateClosed,
	}
}

// WithClock replaces the breaker's time source. Test hook.
func (b *Breaker) WithClock(now func() time.Time) *Breaker {
	b.now = now
	return b
}

// Execute runs op under breaker protection. In Open state it fails
// fast until the cooldown elapses; in HalfOpen it admits a bounded
// number of probe requests.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	errFactory := errors.New()

	if err := ctx.Err(); err != nil {
		return errFactory.Wrap(errors.ErrCancelled, err)
	}

	b.mu.Lock()
	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) < b.cfg.Timeout {
			b.mu.Unlock()
			return errFactory.New(errors.ErrCircuitOpen)
		}
		b.transition(StateHalfOpen)
		b.requestsInHalfOpen++
	case StateHalfOpen:
		if b.requestsInHalfOpen >= b.cfg.MaxRequestsInHalfOpen {
			b.mu.Unlock()
			return errFactory.New(errors.ErrCircuitOpen)
		}
		b.requestsInHalfOpen++
	case StateClosed:
	}
	b.mu.Unlock()

	err := op(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()

	return nil
}

// recordSuccess must be called with the lock held.
func (b *Breaker) recordSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.cfg.SuccessThreshold {
			b.transition(StateClosed)
		}
	case StateOpen:
	}
}

// recordFailure must be called with the lock held.
func (b *Breaker) recordFailure() {
	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.lastFailureAt = b.now()
			b.transition(StateOpen)
		}
	case StateHalfOpen:
		b.lastFailureAt = b.now()
		b.transition(StateOpen)
	case StateOpen:
		b.lastFailureAt = b.now()
	}
}

// transition must be called with the lock held.
func (b *Breaker) transition(next BreakerState) {
	if b.state == next {
		return
	}

	logger.Debug().
		Str("from", b.state.String()).
		Str("to", next.String()).
		Msg("circuit breaker transition")

	b.state = next
	b.failureCount = 0
	b.successCount = 0
	b.requestsInHalfOpen = 0
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Counts returns the current counter values.
func (b *Breaker) Counts() BreakerCounts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerCounts{
		FailureCount:       b.failureCount,
		SuccessCount:       b.successCount,
		RequestsInHalfOpen: b.requestsInHalfOpen,
		LastFailureAt:      b.lastFailureAt,
	}
}

// Reset forces the breaker Closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.successCount = 0
	b.requestsInHalfOpen = 0
}

// ForceOpen forces the breaker Open and starts the cooldown now.
func (b *Breaker) ForceOpen() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(StateOpen)
	b.lastFailureAt = b.now()
}
