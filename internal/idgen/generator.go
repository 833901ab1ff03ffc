// Package idgen issues 64-bit, time-ordered snowflake ids:
// 41 bits of milliseconds since the epoch, 10 bits of node id, 12 bits of sequence.
package idgen

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
)

const (
	timestampBits = 41
	nodeBits      = 10
	sequenceBits  = 12

	MaxNodeID      = -1 ^ (-1 << nodeBits)
	sequenceMask   = -1 ^ (-1 << sequenceBits)
	maxTimestamp   = -1 ^ (-1 << timestampBits)
	nodeShift      = sequenceBits
	timestampShift = sequenceBits + nodeBits
)

// DefaultEpoch is 2021-01-01T00:00:00Z.
var DefaultEpoch = time.UnixMilli(1609459200000).UTC()

var ErrInvalidNodeID = errors.New("invalid node id")

// Generator must be shared by reference; sequence and lastTimestamp move together under mu.
type Generator struct {
	mu            sync.Mutex
	clock         clock.Clock
	epoch         int64
	nodeID        int64
	lastTimestamp int64
	sequence      int64
}

type Option func(*Generator)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(g *Generator) {
		if c != nil {
			g.clock = c
		}
	}
}

// WithEpoch overrides DefaultEpoch.
func WithEpoch(epoch time.Time) Option {
	return func(g *Generator) {
		g.epoch = epoch.UnixMilli()
	}
}

func New(nodeID int64, opts ...Option) (*Generator, error) {
	if nodeID < 0 || nodeID > MaxNodeID {
		return nil, fmt.Errorf("%w: %d not in 0..%d", ErrInvalidNodeID, nodeID, MaxNodeID)
	}
	g := &Generator{
		clock:         clock.NewSystem(),
		epoch:         DefaultEpoch.UnixMilli(),
		nodeID:        nodeID,
		lastTimestamp: -1,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func (g *Generator) NodeID() int64 {
	return g.nodeID
}

// NextID returns the next id for this node. It fails with domain.ErrClockRegression
// instead of issuing an id when the clock is behind the last issued timestamp.
func (g *Generator) NextID() (snowflake.ID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now().UnixMilli()
	if now < g.lastTimestamp {
		return 0, g.regression(now)
	}

	var sequence int64
	if now == g.lastTimestamp {
		sequence = (g.sequence + 1) & sequenceMask
		if sequence == 0 {
			// 4096 ids issued this millisecond; wait for the next one.
			for now <= g.lastTimestamp {
				now = g.clock.Now().UnixMilli()
				if now < g.lastTimestamp {
					return 0, g.regression(now)
				}
			}
		}
	}

	elapsed := now - g.epoch
	if elapsed < 0 || elapsed > maxTimestamp {
		return 0, fmt.Errorf("timestamp %d outside the id range of epoch %d", now, g.epoch)
	}
	g.lastTimestamp = now
	g.sequence = sequence

	return snowflake.ID(elapsed<<timestampShift | g.nodeID<<nodeShift | sequence), nil
}

func (g *Generator) regression(now int64) error {
	return fmt.Errorf("%w: refusing to generate id for %dms", domain.ErrClockRegression, g.lastTimestamp-now)
}

type Parts struct {
	Timestamp time.Time
	NodeID    int64
	Sequence  int64
}

// Parse splits an id issued with this generator's epoch back into its fields.
func (g *Generator) Parse(id snowflake.ID) Parts {
	v := id.Int64()
	return Parts{
		Timestamp: time.UnixMilli((v >> timestampShift) + g.epoch).UTC(),
		NodeID:    (v >> nodeShift) & MaxNodeID,
		Sequence:  v & sequenceMask,
	}
}
