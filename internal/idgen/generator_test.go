package idgen

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingClock reports base until calls exceeds flipAfter, then base+1ms.
type countingClock struct {
	base      time.Time
	flipAfter int
	calls     int
}

func (c *countingClock) Now() time.Time {
	c.calls++
	if c.calls > c.flipAfter {
		return c.base.Add(time.Millisecond)
	}
	return c.base
}

func TestNextID_StrictlyIncreasing(t *testing.T) {
	gen, err := New(1)
	require.NoError(t, err)

	var prev snowflake.ID
	seen := make(map[snowflake.ID]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		id, err := gen.NextID()
		require.NoError(t, err)
		if id <= prev {
			t.Fatalf("id %d not greater than previous %d", id, prev)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
		prev = id
	}
}

func TestParse_RoundTrip(t *testing.T) {
	now := time.Date(2025, 3, 4, 5, 6, 7, 8_000_000, time.UTC)
	gen, err := New(513, WithClock(clock.NewFixed(now)))
	require.NoError(t, err)

	first, err := gen.NextID()
	require.NoError(t, err)
	second, err := gen.NextID()
	require.NoError(t, err)

	parts := gen.Parse(first)
	assert.Equal(t, now.Truncate(time.Millisecond), parts.Timestamp)
	assert.Equal(t, int64(513), parts.NodeID)
	assert.Equal(t, int64(0), parts.Sequence)
	assert.Equal(t, int64(1), gen.Parse(second).Sequence)
}

func TestParse_SystemClockWindow(t *testing.T) {
	gen, err := New(7)
	require.NoError(t, err)

	before := time.Now().Add(-5 * time.Millisecond)
	id, err := gen.NextID()
	require.NoError(t, err)
	after := time.Now().Add(5 * time.Millisecond)

	parts := gen.Parse(id)
	assert.Equal(t, int64(7), parts.NodeID)
	assert.True(t, parts.Timestamp.After(before) && parts.Timestamp.Before(after),
		"timestamp %v outside [%v, %v]", parts.Timestamp, before, after)
}

func TestNew_RejectsNodeIDOutOfRange(t *testing.T) {
	for _, node := range []int64{-1, MaxNodeID + 1} {
		_, err := New(node)
		assert.ErrorIs(t, err, ErrInvalidNodeID)
	}
	_, err := New(MaxNodeID)
	assert.NoError(t, err)
}

func TestNextID_ClockRegression(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := clock.NewManual(start)
	gen, err := New(1, WithClock(clk))
	require.NoError(t, err)

	_, err = gen.NextID()
	require.NoError(t, err)

	clk.Set(start.Add(-5 * time.Millisecond))
	_, err = gen.NextID()
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrClockRegression))

	// Recovers once the clock catches up.
	clk.Set(start.Add(time.Millisecond))
	_, err = gen.NextID()
	assert.NoError(t, err)
}

func TestNextID_SequenceOverflowWaitsForNextMillisecond(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	// One Now() call per id for 4096 ids, then a few spins before the clock moves.
	clk := &countingClock{base: base, flipAfter: 4096 + 3}
	gen, err := New(2, WithClock(clk))
	require.NoError(t, err)

	var last snowflake.ID
	for i := 0; i < 4096; i++ {
		last, err = gen.NextID()
		require.NoError(t, err)
	}
	assert.Equal(t, int64(4095), gen.Parse(last).Sequence)

	next, err := gen.NextID()
	require.NoError(t, err)
	parts := gen.Parse(next)
	assert.Equal(t, base.Add(time.Millisecond), parts.Timestamp)
	assert.Equal(t, int64(0), parts.Sequence)
	assert.Greater(t, next, last)
}

func TestNextID_ConcurrentCallersGetUniqueIDs(t *testing.T) {
	gen, err := New(3)
	require.NoError(t, err)

	const workers, perWorker = 8, 2000
	ids := make(chan snowflake.ID, workers*perWorker)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				id, err := gen.NextID()
				if err != nil {
					t.Errorf("next id: %v", err)
					return
				}
				ids <- id
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[snowflake.ID]struct{}, workers*perWorker)
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %d", id)
		}
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

// scriptedClock returns the queued instants in order, then rest forever.
type scriptedClock struct {
	queue []time.Time
	rest  time.Time
}

func (c *scriptedClock) Now() time.Time {
	if len(c.queue) == 0 {
		return c.rest
	}
	t := c.queue[0]
	c.queue = c.queue[1:]
	return t
}

func TestNextID_ClockRegressionWhileWaitingForNextMillisecond(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	queue := make([]time.Time, 0, 4100)
	for i := 0; i < 4097; i++ {
		queue = append(queue, base)
	}
	// The overflow wait sees the clock step back, then the next call starts at base again.
	queue = append(queue, base.Add(-2*time.Millisecond), base)
	clk := &scriptedClock{queue: queue, rest: base.Add(time.Millisecond)}

	gen, err := New(4, WithClock(clk))
	require.NoError(t, err)

	issued := make(map[snowflake.ID]struct{}, 4097)
	for i := 0; i < 4096; i++ {
		id, err := gen.NextID()
		require.NoError(t, err)
		issued[id] = struct{}{}
	}

	_, err = gen.NextID()
	require.ErrorIs(t, err, domain.ErrClockRegression)

	next, err := gen.NextID()
	require.NoError(t, err)
	_, dup := issued[next]
	assert.False(t, dup, "a failed call must not consume a sequence number")

	parts := gen.Parse(next)
	assert.Equal(t, base.Add(time.Millisecond), parts.Timestamp)
	assert.Equal(t, int64(0), parts.Sequence)
}
