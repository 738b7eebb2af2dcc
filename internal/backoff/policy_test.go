package backoff

import (
	"context"
	"testing"
	"time"
)

func TestPolicy_DelayWithRand_Growth(t *testing.T) {
	p := Policy{Floor: 100 * time.Millisecond, Ceiling: 30 * time.Second, Growth: 2, Jitter: 0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
	}
	for _, tc := range tests {
		got := p.delayWithRand(tc.attempt, 0)
		if got != tc.want {
			t.Errorf("delayWithRand(%d, 0) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestPolicy_DelayWithRand_CapsAtCeiling(t *testing.T) {
	p := Policy{Floor: time.Second, Ceiling: 5 * time.Second, Growth: 10, Jitter: 0}
	got := p.delayWithRand(10, 0)
	if got != 5*time.Second {
		t.Errorf("expected delay capped at ceiling, got %v", got)
	}
}

func TestPolicy_DelayWithRand_JitterAddsWithinBounds(t *testing.T) {
	p := Policy{Floor: 100 * time.Millisecond, Ceiling: 30 * time.Second, Growth: 1, Jitter: 0.5}

	noJitter := p.delayWithRand(0, 0)
	maxJitter := p.delayWithRand(0, 1)
	if maxJitter <= noJitter {
		t.Errorf("expected jitter to increase the delay: no-jitter=%v max-jitter=%v", noJitter, maxJitter)
	}
	if maxJitter > 150*time.Millisecond {
		t.Errorf("jitter exceeded the 50%% bound: %v", maxJitter)
	}
}

func TestPolicy_DelayWithRand_NegativeAttemptClampsToZero(t *testing.T) {
	p := DefaultPolicy()
	if got := p.delayWithRand(-5, 0); got != p.delayWithRand(0, 0) {
		t.Errorf("negative attempt should behave like attempt 0, got %v", got)
	}
}

func TestPolicy_Sleep_ZeroDelayReturnsImmediately(t *testing.T) {
	p := Policy{Floor: 0, Ceiling: 0, Growth: 1, Jitter: 0}
	if err := p.Sleep(context.Background(), 0); err != nil {
		t.Errorf("expected no error for a zero delay, got %v", err)
	}
}

func TestPolicy_Sleep_RespectsCancellation(t *testing.T) {
	p := Policy{Floor: time.Hour, Ceiling: time.Hour, Growth: 1, Jitter: 0}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Sleep(ctx, 0)
	if err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestPolicy_Sleep_CompletesBeforeDeadline(t *testing.T) {
	p := Policy{Floor: 5 * time.Millisecond, Ceiling: 5 * time.Millisecond, Growth: 1, Jitter: 0}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	if err := p.Sleep(ctx, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Sleep returned before its delay elapsed")
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Floor != 100*time.Millisecond || p.Ceiling != 30*time.Second || p.Growth != 2 || p.Jitter != 0.1 {
		t.Errorf("unexpected default policy: %+v", p)
	}
}
