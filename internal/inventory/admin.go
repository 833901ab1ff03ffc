package inventory

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Seed overwrites stock counts. Only run it while no sale is in progress.
func (s *Store) Seed(ctx context.Context, stock map[string]int64) error {
	for sku, qty := range stock {
		if qty < 0 {
			return fmt.Errorf("sku %s: negative stock %d", sku, qty)
		}
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for sku, qty := range stock {
			pipe.Set(ctx, StockKey(sku), qty, 0)
		}
		return nil
	})
	if err != nil {
		return unavailable("seed stock", err)
	}
	return nil
}

// ClearEphemeral deletes reservation markers, idempotency markers and rate-limit
// buckets, returning how many keys were removed.
func (s *Store) ClearEphemeral(ctx context.Context) (int64, error) {
	var removed int64
	for _, pattern := range []string{"resv:sku:*", "idem:*", "bucket:*"} {
		n, err := s.deleteMatching(ctx, pattern)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (s *Store) deleteMatching(ctx context.Context, pattern string) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	batch := make([]string, 0, 500)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return unavailable("delete "+pattern, err)
		}
		removed += n
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return removed, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable("scan "+pattern, err)
	}
	return removed, flush()
}
