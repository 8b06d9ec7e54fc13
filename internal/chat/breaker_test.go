package chat

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerSuspendsAfterFailureRun(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Cooldown:         time.Hour,
	})

	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker must allow: %v", err)
	}

	for i := 0; i < 3; i++ {
		b.Failure()
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %v", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrModelSuspended) {
		t.Errorf("expected ErrModelSuspended, got %v", err)
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Hour})

	b.Failure()
	b.Success()
	b.Failure()
	if b.State() != BreakerClosed {
		t.Errorf("interleaved success must reset the run, got %v", b.State())
	}
}

func TestBreakerTrialCallsResume(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         time.Millisecond,
	})

	b.Failure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(5 * time.Millisecond)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial call allowed after cooldown: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}

	b.Success()
	if b.State() != BreakerHalfOpen {
		t.Errorf("one success must not resume yet, got %v", b.State())
	}
	b.Success()
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after success threshold, got %v", b.State())
	}
}

func TestBreakerTrialFailureSuspendsAgain(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Cooldown:         time.Millisecond,
	})

	b.Failure()
	time.Sleep(5 * time.Millisecond)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected trial call allowed: %v", err)
	}

	b.Failure()
	if b.State() != BreakerOpen {
		t.Errorf("expected suspension after trial failure, got %v", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{FailureThreshold: 1})
	b.Failure()
	b.Reset()

	if b.State() != BreakerClosed {
		t.Errorf("expected closed after reset, got %v", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Errorf("expected allow after reset: %v", err)
	}
}

func TestBreakerStateString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state BreakerState
		want  string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half-open"},
		{BreakerState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
