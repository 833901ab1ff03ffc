package inventory

import (
	"context"
	_ "embed"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/redis/go-redis/v9"
)

//go:embed scripts/token_bucket.lua
var tokenBucketSource string

// IdempotencyKey prefers the caller's key and falls back to the (user, sku) pair.
func IdempotencyKey(userID, skuID, key string) string {
	if key != "" {
		return "idem:" + key
	}
	return "idem:" + userID + ":" + skuID
}

func BucketKey(userID string) string {
	return "bucket:user:" + userID
}

// IdempotencyGuard admits a key at most once per window.
type IdempotencyGuard struct {
	client redis.UniversalClient
	window time.Duration
}

func NewIdempotencyGuard(client redis.UniversalClient, window time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{client: client, window: window}
}

// Claim creates the marker if absent. It returns false when the key was already claimed.
func (g *IdempotencyGuard) Claim(ctx context.Context, key string) (bool, error) {
	created, err := g.client.SetNX(ctx, key, "1", g.window).Result()
	if err != nil {
		return false, unavailable("claim idempotency key", err)
	}
	return created, nil
}

// RateLimiter is a per-user token bucket kept in Redis.
type RateLimiter struct {
	client   redis.UniversalClient
	script   *redis.Script
	clock    clock.Clock
	capacity int
	refill   int
}

func NewRateLimiter(client redis.UniversalClient, capacity, refillPerSecond int, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &RateLimiter{
		client:   client,
		script:   redis.NewScript(tokenBucketSource),
		clock:    clk,
		capacity: capacity,
		refill:   refillPerSecond,
	}
}

// Allow consumes one token for userID and reports whether one was available.
func (l *RateLimiter) Allow(ctx context.Context, userID string) (bool, error) {
	allowed, err := l.script.Run(ctx, l.client,
		[]string{BucketKey(userID)},
		l.capacity, l.refill, l.clock.Now().UnixMilli(), 1,
	).Int64()
	if err != nil {
		return false, unavailable("rate limit user "+userID, err)
	}
	return allowed == 1, nil
}
