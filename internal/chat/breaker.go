package chat

import (
	"errors"
	"sync"
	"time"
)

// ErrModelSuspended is returned while model calls are suspended after
// repeated provider failures. Callers surface it to the user instead of
// queueing more requests against a failing provider.
var ErrModelSuspended = errors.New("model calls suspended after repeated provider failures")

// BreakerState is the suspension state of provider calls.
type BreakerState int

const (
	// BreakerClosed passes model calls through.
	BreakerClosed BreakerState = iota
	// BreakerOpen suspends model calls until the cooldown elapses.
	BreakerOpen
	// BreakerHalfOpen lets a few trial calls through after the cooldown.
	BreakerHalfOpen
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

// BreakerConfig tunes when model calls are suspended and resumed.
type BreakerConfig struct {
	// FailureThreshold is the run of consecutive provider failures that
	// suspends calls.
	FailureThreshold int
	// SuccessThreshold is the run of trial-call successes that resumes
	// normal operation.
	SuccessThreshold int
	// Cooldown is how long calls stay suspended before trial calls are
	// allowed.
	Cooldown time.Duration
}

// DefaultBreakerConfig suspends after 5 consecutive failures, cools down
// for 30 seconds and resumes after 2 successful trial calls.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         30 * time.Second,
	}
}

// Breaker suspends model calls during a provider outage. A run of failed
// calls opens it; after the cooldown it admits trial calls, and enough
// successes close it again. Shared by the primary and correcting agents of
// one session, so a provider outage stops the whole pipeline at once.
type Breaker struct {
	mu sync.RWMutex

	state     BreakerState
	failures  int
	successes int
	resumeAt  time.Time

	cfg BreakerConfig
}

// NewBreaker applies defaults for zero config values.
func NewBreaker(cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	return &Breaker{state: BreakerClosed, cfg: cfg}
}

// Allow reports whether a model call may proceed, returning
// ErrModelSuspended while calls are suspended. An elapsed cooldown moves
// the breaker to half-open, so the write lock is taken.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return nil
	}
	if time.Now().Before(b.resumeAt) {
		return ErrModelSuspended
	}
	b.state = BreakerHalfOpen
	b.successes = 0
	return nil
}

// Success records a completed model call.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// Failure records a failed model call. A half-open breaker reopens on the
// first failure; a closed one opens once the failure run reaches the
// threshold.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.successes = 0
		b.resumeAt = time.Now().Add(b.cfg.Cooldown)
	case BreakerClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = BreakerOpen
			b.resumeAt = time.Now().Add(b.cfg.Cooldown)
		}
	}
}

// State returns the current suspension state.
func (b *Breaker) State() BreakerState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Reset forces the breaker closed and clears all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
	b.resumeAt = time.Time{}
}
