package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/chao-dotcom/Ticket-Craze/internal/events"
	"github.com/chao-dotcom/Ticket-Craze/internal/inventory"
	"go.uber.org/zap"
)

type ReservationStore interface {
	Reserve(ctx context.Context, skuID string, quantity int, reservationID snowflake.ID, ttl time.Duration) (inventory.ReserveResult, error)
	Compensate(ctx context.Context, skuID string, reservationID snowflake.ID) (inventory.CompensateResult, error)
}

type IdempotencyGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

type IDGenerator interface {
	NextID() (snowflake.ID, error)
}

type ReservationPublisher interface {
	PublishReservation(ctx context.Context, event events.ReservationEvent) error
}

type AdmissionConfig struct {
	ReservationTTL time.Duration
	StoreTimeout   time.Duration
	PublishTimeout time.Duration
}

type AdmissionResult struct {
	ReservationID snowflake.ID
	OrderID       snowflake.ID
	ExpiresAt     time.Time
	Remaining     int64
}

// AdmissionService runs the synchronous purchase path. It holds no mutable
// state of its own; all coordination happens in Redis.
type AdmissionService struct {
	store       ReservationStore
	idempotency IdempotencyGuard
	limiter     RateLimiter
	ids         IDGenerator
	publisher   ReservationPublisher
	clock       clock.Clock
	cfg         AdmissionConfig
	logger      *zap.Logger
}

func NewAdmissionService(
	store ReservationStore,
	idempotency IdempotencyGuard,
	limiter RateLimiter,
	ids IDGenerator,
	publisher ReservationPublisher,
	clk clock.Clock,
	cfg AdmissionConfig,
	logger *zap.Logger,
) *AdmissionService {
	return &AdmissionService{
		store:       store,
		idempotency: idempotency,
		limiter:     limiter,
		ids:         ids,
		publisher:   publisher,
		clock:       clk,
		cfg:         cfg,
		logger:      logger,
	}
}

// Purchase admits one request. Every return is terminal: either a confirmed,
// published reservation or an error and no stock held.
func (s *AdmissionService) Purchase(ctx context.Context, req domain.PurchaseRequest, traceID string) (*AdmissionResult, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	idemKey := inventory.IdempotencyKey(req.UserID, req.SKUID, req.IdempotencyKey)
	claimed, err := s.withStoreTimeout(ctx, func(ctx context.Context) (bool, error) {
		return s.idempotency.Claim(ctx, idemKey)
	})
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, domain.ErrDuplicateRequest
	}

	// The idempotency marker stays even when the limiter rejects.
	allowed, err := s.withStoreTimeout(ctx, func(ctx context.Context) (bool, error) {
		return s.limiter.Allow(ctx, req.UserID)
	})
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, domain.ErrRateLimited
	}

	reservationID, err := s.ids.NextID()
	if err != nil {
		return nil, err
	}

	res, err := s.reserve(ctx, req, reservationID)
	if err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, &domain.SoldOutError{SKUID: req.SKUID, Remaining: res.Remaining}
	}

	orderID, err := s.ids.NextID()
	if err != nil {
		s.compensate(ctx, req.SKUID, reservationID, err)
		return nil, err
	}

	now := s.clock.Now()
	reservation := domain.Reservation{
		ReservationID: reservationID,
		OrderID:       orderID,
		SKUID:         req.SKUID,
		Quantity:      req.Quantity,
		UserID:        req.UserID,
		Status:        domain.ReservationStatusReserved,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.ReservationTTL),
	}

	pubCtx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	err = s.publisher.PublishReservation(pubCtx, events.NewReservationEvent(reservation, traceID))
	cancel()
	if err != nil {
		// A timed-out write may still have landed. If the materializer
		// already claimed the reservation, the purchase went through.
		if !s.compensate(ctx, req.SKUID, reservationID, err) {
			if !errors.Is(err, domain.ErrChannelUnavailable) {
				err = fmt.Errorf("%w: %w", domain.ErrChannelUnavailable, err)
			}
			return nil, err
		}
		s.logger.Warn("Publish reported failure but the reservation was materialized",
			zap.String("reservation_id", reservationID.String()),
			zap.String("order_id", orderID.String()),
			zap.Error(err))
	}

	s.logger.Info("Reservation admitted",
		zap.String("reservation_id", reservationID.String()),
		zap.String("order_id", orderID.String()),
		zap.String("user_id", req.UserID),
		zap.String("sku_id", req.SKUID),
		zap.Int("quantity", req.Quantity),
		zap.Int64("remaining", res.Remaining),
		zap.String("trace_id", traceID))

	return &AdmissionResult{
		ReservationID: reservationID,
		OrderID:       orderID,
		ExpiresAt:     reservation.ExpiresAt,
		Remaining:     res.Remaining,
	}, nil
}

// reserve treats a failed or timed-out call as failed. The script may still
// have run, so whatever the reservation holds is compensated before returning.
func (s *AdmissionService) reserve(ctx context.Context, req domain.PurchaseRequest, reservationID snowflake.ID) (inventory.ReserveResult, error) {
	reserveCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	res, err := s.store.Reserve(reserveCtx, req.SKUID, req.Quantity, reservationID, s.cfg.ReservationTTL)
	cancel()
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		s.compensate(ctx, req.SKUID, reservationID, err)
	}
	return inventory.ReserveResult{}, err
}

// compensate returns a reservation that will never reach the event channel
// and reports whether it had already been materialized instead. It ignores
// caller cancellation so a dropped client cannot strand stock.
func (s *AdmissionService) compensate(ctx context.Context, skuID string, reservationID snowflake.ID, cause error) bool {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	res, err := s.store.Compensate(releaseCtx, skuID, reservationID)
	if err != nil {
		s.logger.Error("Compensating release failed, reservation may strand stock until reset",
			zap.String("reservation_id", reservationID.String()),
			zap.String("sku_id", skuID),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return false
	}
	if res.Kept {
		return true
	}
	if res.Released {
		s.logger.Warn("Reservation released after failure",
			zap.String("reservation_id", reservationID.String()),
			zap.String("sku_id", skuID),
			zap.Int64("remaining", res.Remaining),
			zap.NamedError("cause", cause))
	}
	return false
}

func (s *AdmissionService) withStoreTimeout(ctx context.Context, fn func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	ok, err := fn(ctx)
	if err != nil && !errors.Is(err, domain.ErrStoreUnavailable) {
		err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return ok, err
}

func validate(req domain.PurchaseRequest) error {
	if req.Quantity < domain.MinPurchaseQuantity || req.Quantity > domain.MaxPurchaseQuantity {
		return fmt.Errorf("quantity %d outside %d..%d: %w",
			req.Quantity, domain.MinPurchaseQuantity, domain.MaxPurchaseQuantity, domain.ErrInvalidQuantity)
	}
	if req.UserID == "" || req.SKUID == "" {
		return fmt.Errorf("userId and skuId are required: %w", domain.ErrInvalidRequest)
	}
	if _, err := strconv.ParseUint(req.SKUID, 10, 64); err != nil {
		return fmt.Errorf("skuId %q is not numeric: %w", req.SKUID, domain.ErrInvalidRequest)
	}
	return nil
}
