package breaker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail(context.Context) error { return errBoom }
func succeed(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := New("db", 3, time.Minute, WithClock(clk))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
		assert.Equal(t, Closed, b.State())
	}
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, domain.ErrCircuitOpen)
	assert.False(t, called, "open breaker fails fast")
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := New("db", 2, time.Minute, WithClock(clock.NewManual(time.Unix(0, 0))))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.NoError(t, b.Execute(ctx, succeed))
	_ = b.Execute(ctx, fail)
	assert.Equal(t, Closed, b.State(), "failures must be consecutive")
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	var transitions []string
	b := New("db", 1, time.Minute, WithClock(clk), OnStateChange(func(_ string, from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
	}))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.Equal(t, Open, b.State())

	clk.Advance(59 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeed), domain.ErrCircuitOpen)

	clk.Advance(time.Second)
	assert.ErrorIs(t, b.Execute(ctx, fail), errBoom)
	assert.Equal(t, Open, b.State(), "failed trial reopens")

	clk.Advance(time.Minute)
	require.NoError(t, b.Execute(ctx, succeed))
	assert.Equal(t, Closed, b.State())

	assert.Equal(t, []string{
		"CLOSED->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->OPEN",
		"OPEN->HALF_OPEN",
		"HALF_OPEN->CLOSED",
	}, transitions)
}

func TestBreaker_SingleTrialCall(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	b := New("db", 1, time.Second, WithClock(clk))
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Execute(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	var rejected atomic.Int32
	for i := 0; i < 5; i++ {
		if errors.Is(b.Execute(ctx, succeed), domain.ErrCircuitOpen) {
			rejected.Add(1)
		}
	}
	assert.Equal(t, int32(5), rejected.Load(), "only one call runs while half-open")

	close(release)
	wg.Wait()
	assert.Equal(t, Closed, b.State())
}
