package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"go.uber.org/zap"
)

// StockReleaser returns reserved units to the reservation store.
type StockReleaser interface {
	Release(ctx context.Context, skuID string, quantity int, reservationID snowflake.ID) (int64, error)
}

// Reclaimer expires PENDING orders past their deadline and gives their
// stock back. The release runs under the PENDING to EXPIRED transition and
// is itself once per reservation, so a sweep retried after a lost commit
// does not hand the units out twice.
type Reclaimer struct {
	store    OrderStore
	stock    StockReleaser
	clock    clock.Clock
	interval time.Duration
	batch    int
	logger   *zap.Logger
}

func NewReclaimer(store OrderStore, stock StockReleaser, clk clock.Clock, interval time.Duration, batch int, logger *zap.Logger) *Reclaimer {
	return &Reclaimer{
		store:    store,
		stock:    stock,
		clock:    clk,
		interval: interval,
		batch:    batch,
		logger:   logger,
	}
}

// Run sweeps every interval until ctx is cancelled. Sweep errors are logged.
func (r *Reclaimer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("Reclaimer started", zap.Duration("interval", r.interval), zap.Int("batch", r.batch))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reclaimer stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Reclaim sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep expires up to one batch of overdue orders and returns how many it expired.
func (r *Reclaimer) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now()
	orders, err := r.store.FindExpiredPending(ctx, now, r.batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range orders {
		err := r.store.ExpireOrder(ctx, order.OrderID, now, r.release)
		switch {
		case err == nil:
			expired++
			r.logger.Info("Reservation expired",
				zap.String("order_id", order.OrderID.String()),
				zap.String("reservation_id", order.ReservationID.String()),
				zap.Int("quantity", order.Quantity()))
		case errors.Is(err, domain.ErrOrderNotPending):
			r.logger.Debug("Order already settled", zap.String("order_id", order.OrderID.String()))
		default:
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			r.logger.Error("Failed to expire order",
				zap.String("order_id", order.OrderID.String()),
				zap.Error(err))
		}
	}

	if expired > 0 {
		r.logger.Info("Cleaned up expired reservations", zap.Int("count", expired))
	}
	return expired, nil
}

func (r *Reclaimer) release(ctx context.Context, order domain.Order) error {
	for _, item := range order.Items {
		if _, err := r.stock.Release(ctx, item.SKUID, item.Quantity, order.ReservationID); err != nil {
			return err
		}
	}
	return nil
}
