// Package breaker guards calls to a dependency that may be struggling.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "CLOSED"
	case Open:
		return "OPEN"
	case HalfOpen:
		return "HALF_OPEN"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Breaker opens after Threshold consecutive failures, rejects calls for
// Cooldown, then lets a single trial call decide whether to close again.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	clock     clock.Clock
	onChange  func(name string, from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool
}

type Option func(*Breaker)

func WithClock(c clock.Clock) Option {
	return func(b *Breaker) { b.clock = c }
}

// OnStateChange registers a callback invoked on every transition. It runs
// with the breaker lock released.
func OnStateChange(fn func(name string, from, to State)) Option {
	return func(b *Breaker) { b.onChange = fn }
}

func New(name string, threshold int, cooldown time.Duration, opts ...Option) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	b := &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		clock:     clock.NewSystem(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn unless the breaker is open. Rejected calls return an error
// wrapping domain.ErrCircuitOpen and do not invoke fn.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.acquire(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) acquire() error {
	b.mu.Lock()
	var from, to State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, to)
		}
	}()

	switch b.state {
	case Open:
		if b.clock.Now().Sub(b.openedAt) < b.cooldown {
			return fmt.Errorf("%s: %w", b.name, domain.ErrCircuitOpen)
		}
		from, to, changed = Open, HalfOpen, true
		b.state = HalfOpen
		b.trial = true
		return nil
	case HalfOpen:
		if b.trial {
			return fmt.Errorf("%s: trial in flight: %w", b.name, domain.ErrCircuitOpen)
		}
		b.trial = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	from := b.state
	if err == nil {
		b.failures = 0
		b.state = Closed
	} else {
		b.failures++
		if b.state == HalfOpen || b.failures >= b.threshold {
			b.state = Open
			b.openedAt = b.clock.Now()
		}
	}
	b.trial = false
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) notify(from, to State) {
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}
