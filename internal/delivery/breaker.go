package delivery

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState represents the current state of a channel's circuit breaker.
//
// State transitions:
//
//	Closed -> Open:      when consecutive failures reach the threshold
//	Open -> HalfOpen:    after the recovery timeout expires
//	HalfOpen -> Closed:  when a probe delivery succeeds
//	HalfOpen -> Open:    when a probe delivery fails
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation
	BreakerOpen                         // channel failing, skip it fast
	BreakerHalfOpen                     // allow one probe through
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen is returned while the breaker rejects attempts.
var ErrBreakerOpen = errors.New("channel breaker is open")

// Breaker trips a channel out of the fallback chain after repeated failures
// so a dead queue fails over to the direct path immediately instead of
// burning the firing handler's timeout on every attempt.
type Breaker struct {
	mu     sync.Mutex
	name   string
	logger *zap.Logger

	maxFailures     int
	recoveryTimeout time.Duration
	clock           func() time.Time

	state        BreakerState
	failureCount int
	openedAt     time.Time
}

// NewBreaker creates a breaker for the named channel.
func NewBreaker(name string, maxFailures int, recoveryTimeout time.Duration, logger *zap.Logger) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 3
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 30 * time.Second
	}
	return &Breaker{
		name:            name,
		logger:          logger,
		maxFailures:     maxFailures,
		recoveryTimeout: recoveryTimeout,
		clock:           time.Now,
		state:           BreakerClosed,
	}
}

// WithClock overrides the time source, for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow reports whether an attempt may proceed. In the open state it
// returns ErrBreakerOpen until the recovery timeout has elapsed, then lets
// a single probe through in half-open state.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.clock().Sub(b.openedAt) < b.recoveryTimeout {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
		b.logger.Info("breaker half-open, probing channel", zap.String("channel", b.name))
	}
	return nil
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		b.logger.Info("breaker closed, channel recovered", zap.String("channel", b.name))
	}
	b.state = BreakerClosed
	b.failureCount = 0
}

// RecordFailure counts a failure and opens the breaker at the threshold.
// A half-open probe failure reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.state == BreakerHalfOpen || b.failureCount >= b.maxFailures {
		if b.state != BreakerOpen {
			b.logger.Warn("breaker opened",
				zap.String("channel", b.name),
				zap.Int("failures", b.failureCount),
			)
		}
		b.state = BreakerOpen
		b.openedAt = b.clock()
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
