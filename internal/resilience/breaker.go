// Package resilience provides the retry policy, error classification and
// circuit breaker used by the page fetcher.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// BreakerState is the position of a BlockBreaker.
type BreakerState int

const (
	// BreakerClosed lets requests reach the origin.
	BreakerClosed BreakerState = iota
	// BreakerOpen refuses requests until the cool-down elapses.
	BreakerOpen
	// BreakerHalfOpen admits a single trial request.
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

// ErrBreakerOpen is returned when the breaker refuses a request.
var ErrBreakerOpen = eris.New("origin breaker is open")

const (
	defaultBlockThreshold = 5
	defaultCoolDown       = 30 * time.Second
)

// BlockBreaker stops fetching from an origin that keeps refusing us. Only soft
// blocks (403, 429, challenge pages) count toward the threshold; any other
// outcome proves the origin is answering and clears the streak.
type BlockBreaker struct {
	threshold int
	coolDown  time.Duration
	onChange  func(from, to BreakerState)

	mu       sync.Mutex
	state    BreakerState
	streak   int
	openedAt time.Time
	trial    bool

	nowFunc func() time.Time
}

// NewBlockBreaker opens after threshold consecutive soft blocks and stays open
// for coolDown. Zero values select 5 blocks and 30s. onChange may be nil.
func NewBlockBreaker(threshold int, coolDown time.Duration, onChange func(from, to BreakerState)) *BlockBreaker {
	if threshold <= 0 {
		threshold = defaultBlockThreshold
	}
	if coolDown <= 0 {
		coolDown = defaultCoolDown
	}
	return &BlockBreaker{
		threshold: threshold,
		coolDown:  coolDown,
		onChange:  onChange,
		nowFunc:   time.Now,
	}
}

// Guard runs fn unless the breaker is open, and records its outcome.
func Guard[T any](ctx context.Context, b *BlockBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the breaker position, reporting half-open once the cool-down
// has elapsed.
func (b *BlockBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.cooled() {
		return BreakerHalfOpen
	}
	return b.state
}

// Streak returns the current run of consecutive soft blocks.
func (b *BlockBreaker) Streak() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streak
}

func (b *BlockBreaker) cooled() bool {
	return b.nowFunc().Sub(b.openedAt) >= b.coolDown
}

func (b *BlockBreaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if !b.cooled() {
			return ErrBreakerOpen
		}
		b.move(BreakerHalfOpen)
		b.trial = true
		return nil
	case BreakerHalfOpen:
		// One trial at a time; concurrent callers wait out the trial.
		if b.trial {
			return ErrBreakerOpen
		}
		b.trial = true
	}
	return nil
}

func (b *BlockBreaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trial = false

	if !IsSoftBlock(err) {
		b.streak = 0
		if b.state == BreakerHalfOpen {
			b.move(BreakerClosed)
		}
		return
	}

	b.streak++
	switch {
	case b.state == BreakerHalfOpen:
		b.openedAt = b.nowFunc()
		b.move(BreakerOpen)
	case b.state == BreakerClosed && b.streak >= b.threshold:
		b.openedAt = b.nowFunc()
		b.move(BreakerOpen)
	}
}

func (b *BlockBreaker) move(to BreakerState) {
	from := b.state
	b.state = to
	if b.onChange != nil && from != to {
		b.onChange(from, to)
	}
}
