package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func feed(b *BlockBreaker, n int, err error) {
	for i := 0; i < n; i++ {
		_, _ = Guard(context.Background(), b, func(_ context.Context) (string, error) { return "", err })
	}
}

func blocked() error { return NewTransientError(errors.New("forbidden"), 403) }

func TestBlockBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBlockBreaker(0, 0, nil)

	var calls int
	v, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
		calls++
		return 3, nil
	})
	if err != nil || v != 3 {
		t.Fatalf("unexpected result %d %v", v, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBlockBreaker_DefaultsApply(t *testing.T) {
	b := NewBlockBreaker(0, 0, nil)
	if b.threshold != 5 || b.coolDown != 30*time.Second {
		t.Errorf("unexpected defaults %d %s", b.threshold, b.coolDown)
	}
	b = NewBlockBreaker(8, 90*time.Second, nil)
	if b.threshold != 8 || b.coolDown != 90*time.Second {
		t.Errorf("unexpected settings %d %s", b.threshold, b.coolDown)
	}
}

func TestBlockBreaker_OpensAfterSoftBlocks(t *testing.T) {
	b := NewBlockBreaker(3, time.Minute, nil)
	feed(b, 3, blocked())

	if b.State() != BreakerOpen {
		t.Fatalf("expected open state, got %s", b.State())
	}

	_, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("an open breaker must not call through")
		return 0, nil
	})
	if !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBlockBreaker_OnlySoftBlocksCount(t *testing.T) {
	b := NewBlockBreaker(2, time.Minute, nil)
	feed(b, 5, NewTransientError(errors.New("bad gateway"), 502))
	feed(b, 5, errors.New("connection reset"))
	if b.State() != BreakerClosed {
		t.Fatalf("server and network errors must not trip the breaker, got %s", b.State())
	}

	feed(b, 2, NewSoftBlockError(errors.New("challenge page"), 200))
	if b.State() != BreakerOpen {
		t.Errorf("expected challenge pages to trip the breaker, got %s", b.State())
	}
}

func TestBlockBreaker_OtherOutcomeClearsStreak(t *testing.T) {
	b := NewBlockBreaker(3, time.Minute, nil)
	feed(b, 2, blocked())
	if n := b.Streak(); n != 2 {
		t.Fatalf("expected streak 2, got %d", n)
	}
	feed(b, 1, NewTransientError(errors.New("not found"), 404))
	if n := b.Streak(); n != 0 {
		t.Errorf("expected streak cleared, got %d", n)
	}
	feed(b, 2, blocked())
	if b.State() != BreakerClosed {
		t.Errorf("streak must restart after a non-block outcome, got %s", b.State())
	}
}

func TestBlockBreaker_HalfOpenRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var transitions []string
	b := NewBlockBreaker(1, 10*time.Second, func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})
	b.nowFunc = func() time.Time { return now }

	feed(b, 1, blocked())
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(11 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open after cool-down, got %s", b.State())
	}

	v, err := Guard(context.Background(), b, func(_ context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("trial request failed: %v %d", err, v)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed after a successful trial, got %s", b.State())
	}

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}

func TestBlockBreaker_BlockedTrialReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBlockBreaker(1, 10*time.Second, nil)
	b.nowFunc = func() time.Time { return now }

	feed(b, 1, blocked())
	now = now.Add(11 * time.Second)
	feed(b, 1, blocked())

	if b.State() != BreakerOpen {
		t.Fatalf("expected reopen after a blocked trial, got %s", b.State())
	}
	now = now.Add(5 * time.Second)
	if b.State() != BreakerOpen {
		t.Errorf("cool-down must restart from the failed trial, got %s", b.State())
	}
}

func TestBlockBreaker_SingleTrialInHalfOpen(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBlockBreaker(1, 10*time.Second, nil)
	b.nowFunc = func() time.Time { return now }

	feed(b, 1, blocked())
	now = now.Add(11 * time.Second)

	_, err := Guard(context.Background(), b, func(ctx context.Context) (int, error) {
		_, inner := Guard(ctx, b, func(_ context.Context) (int, error) {
			t.Error("a second request must wait for the trial")
			return 0, nil
		})
		if !errors.Is(inner, ErrBreakerOpen) {
			t.Errorf("expected ErrBreakerOpen during trial, got %v", inner)
		}
		return 1, nil
	})
	if err != nil {
		t.Fatalf("trial failed: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Errorf("expected closed, got %s", b.State())
	}
}
