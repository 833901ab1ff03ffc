// Package inventory owns the Redis key space shared by every admission request:
// stock counts, reservation markers, idempotency markers and rate-limit buckets.
package inventory

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/redis/go-redis/v9"
)

var (
	//go:embed scripts/reserve.lua
	reserveSource string
	//go:embed scripts/release.lua
	releaseSource string
	//go:embed scripts/compensate.lua
	compensateSource string
	//go:embed scripts/claim.lua
	claimSource string
)

// DefaultStateTTL outlives both the reservation window and the retention of
// the reservations topic, so a late event still finds the state it races with.
const DefaultStateTTL = 48 * time.Hour

// StockKey and ReservationKey share a hash tag so the reserve script touches one slot.
func StockKey(skuID string) string {
	return fmt.Sprintf("inv:sku:{%s}", skuID)
}

func ReservationKey(skuID string, reservationID snowflake.ID) string {
	return fmt.Sprintf("resv:sku:{%s}:%s", skuID, reservationID)
}

// StateKey records who settled a reservation: the materializer, a
// compensating release, or the reclaimer. Whoever writes it first wins.
func StateKey(skuID string, reservationID snowflake.ID) string {
	return fmt.Sprintf("resv:sku:{%s}:%s:state", skuID, reservationID)
}

type ReserveResult struct {
	OK        bool
	Remaining int64
}

type CompensateResult struct {
	// Released is set when held units went back to stock.
	Released bool
	// Kept is set when the reservation was already materialized into an order.
	Kept      bool
	Remaining int64
}

// Store is the reservation authority for stock. Stock keys must only be
// mutated through Reserve and Release while a sale is running.
type Store struct {
	client     redis.UniversalClient
	reserve    *redis.Script
	release    *redis.Script
	compensate *redis.Script
	claim      *redis.Script
	stateTTL   time.Duration
}

type StoreOption func(*Store)

// WithStateTTL overrides DefaultStateTTL.
func WithStateTTL(ttl time.Duration) StoreOption {
	return func(s *Store) {
		if ttl > 0 {
			s.stateTTL = ttl
		}
	}
}

func NewStore(client redis.UniversalClient, opts ...StoreOption) *Store {
	s := &Store{
		client:     client,
		reserve:    redis.NewScript(reserveSource),
		release:    redis.NewScript(releaseSource),
		compensate: redis.NewScript(compensateSource),
		claim:      redis.NewScript(claimSource),
		stateTTL:   DefaultStateTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewClient parses redisURL and verifies the server answers.
func NewClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	// Per-call deadlines bound every script call.
	opts.ContextTimeoutEnabled = true

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// LoadScripts preloads the Lua scripts so the first requests hit EVALSHA.
func (s *Store) LoadScripts(ctx context.Context) error {
	for _, script := range []*redis.Script{s.reserve, s.release, s.compensate, s.claim} {
		if err := script.Load(ctx, s.client).Err(); err != nil {
			return unavailable("load script", err)
		}
	}
	return nil
}

// Reserve decrements stock by quantity and writes a reservation marker with ttl,
// or leaves stock untouched and reports what is left. Both happen in one script.
func (s *Store) Reserve(ctx context.Context, skuID string, quantity int, reservationID snowflake.ID, ttl time.Duration) (ReserveResult, error) {
	if quantity <= 0 {
		return ReserveResult{}, domain.ErrInvalidQuantity
	}
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	res, err := s.reserve.Run(ctx, s.client,
		[]string{StockKey(skuID), ReservationKey(skuID, reservationID), StateKey(skuID, reservationID)},
		quantity, ttlSeconds,
	).Int64Slice()
	if err != nil {
		return ReserveResult{}, unavailable("reserve sku "+skuID, err)
	}
	if len(res) != 2 {
		return ReserveResult{}, fmt.Errorf("reserve sku %s: unexpected script reply %v", skuID, res)
	}
	return ReserveResult{OK: res[0] == 1, Remaining: res[1]}, nil
}

// Release returns quantity to the pool for an expired reservation and drops
// its marker. Releasing the same reservation again is a no-op, so a retry
// after a failed commit cannot hand the units out twice. A zero
// reservationID releases without that guard.
func (s *Store) Release(ctx context.Context, skuID string, quantity int, reservationID snowflake.ID) (int64, error) {
	if quantity <= 0 {
		return 0, domain.ErrInvalidQuantity
	}
	keys := []string{StockKey(skuID)}
	if reservationID != 0 {
		keys = append(keys, ReservationKey(skuID, reservationID), StateKey(skuID, reservationID))
	}

	res, err := s.release.Run(ctx, s.client, keys,
		quantity, string(domain.ReservationStatusExpired), s.stateSeconds(),
	).Int64Slice()
	if err != nil {
		return 0, unavailable("release sku "+skuID, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("release sku %s: unexpected script reply %v", skuID, res)
	}
	return res[1], nil
}

// Compensate gives back whatever a reservation still holds, using the
// quantity recorded in its marker, and marks it released so it can never be
// materialized. If the materializer already claimed it, nothing moves and
// Kept is set.
func (s *Store) Compensate(ctx context.Context, skuID string, reservationID snowflake.ID) (CompensateResult, error) {
	res, err := s.compensate.Run(ctx, s.client,
		[]string{StockKey(skuID), ReservationKey(skuID, reservationID), StateKey(skuID, reservationID)},
		string(domain.ReservationStatusReleased), s.stateSeconds(),
	).Int64Slice()
	if err != nil {
		return CompensateResult{}, unavailable("compensate sku "+skuID, err)
	}
	if len(res) != 2 {
		return CompensateResult{}, fmt.Errorf("compensate sku %s: unexpected script reply %v", skuID, res)
	}
	return CompensateResult{Released: res[0] == 1, Kept: res[0] == 2, Remaining: res[1]}, nil
}

// ClaimReservation marks a reservation as materialized. It returns false when a
// compensating release got there first and the reservation must be dropped.
func (s *Store) ClaimReservation(ctx context.Context, skuID string, reservationID snowflake.ID) (bool, error) {
	claimed, err := s.claim.Run(ctx, s.client,
		[]string{StateKey(skuID, reservationID)},
		string(domain.ReservationStatusReleased), string(domain.ReservationStatusMaterialized), s.stateSeconds(),
	).Int64()
	if err != nil {
		return false, unavailable("claim reservation", err)
	}
	return claimed == 1, nil
}

// ReservationState reports the settled state of a reservation, or "" while unsettled.
func (s *Store) ReservationState(ctx context.Context, skuID string, reservationID snowflake.ID) (domain.ReservationStatus, error) {
	v, err := s.client.Get(ctx, StateKey(skuID, reservationID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("read reservation state", err)
	}
	return domain.ReservationStatus(v), nil
}

func (s *Store) stateSeconds() int64 {
	secs := int64(s.stateTTL / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Stock reads the current count; a missing key is zero.
func (s *Store) Stock(ctx context.Context, skuID string) (int64, error) {
	v, err := s.client.Get(ctx, StockKey(skuID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("read stock "+skuID, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("stock for sku %s is not an integer: %w", skuID, err)
	}
	return n, nil
}

// ReservationMarker reports the quantity held by a live reservation marker.
func (s *Store) ReservationMarker(ctx context.Context, skuID string, reservationID snowflake.ID) (int, bool, error) {
	n, err := s.client.Get(ctx, ReservationKey(skuID, reservationID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, unavailable("read reservation", err)
	}
	return n, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
}
