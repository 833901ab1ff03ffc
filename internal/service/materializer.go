package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/breaker"
	"github.com/chao-dotcom/Ticket-Craze/internal/clock"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/chao-dotcom/Ticket-Craze/internal/events"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type OrderPublisher interface {
	PublishOrder(ctx context.Context, event events.ReservationEvent) error
}

type DeadLetterSink interface {
	Send(ctx context.Context, msg kafka.Message, cause error) error
}

// ReservationClaimer settles the race between materializing a reservation
// and a compensating release on the admission side.
type ReservationClaimer interface {
	ClaimReservation(ctx context.Context, skuID string, reservationID snowflake.ID) (bool, error)
}

// Materializer turns reservation events into durable orders. A reservation
// is claimed in the reservation store before its order is written, so one
// that admission already released never becomes an order. Offsets are
// committed only after the order is stored and forwarded, or after the
// message is parked on the dead-letter topic.
type Materializer struct {
	reader     events.MessageReader
	claims     ReservationClaimer
	store      OrderStore
	publisher  OrderPublisher
	deadLetter DeadLetterSink
	breaker    *breaker.Breaker
	clock      clock.Clock
	timeout    time.Duration
	logger     *zap.Logger
}

func NewMaterializer(
	reader events.MessageReader,
	claims ReservationClaimer,
	store OrderStore,
	publisher OrderPublisher,
	deadLetter DeadLetterSink,
	cb *breaker.Breaker,
	clk clock.Clock,
	timeout time.Duration,
	logger *zap.Logger,
) *Materializer {
	return &Materializer{
		reader:     reader,
		claims:     claims,
		store:      store,
		publisher:  publisher,
		deadLetter: deadLetter,
		breaker:    cb,
		clock:      clk,
		timeout:    timeout,
		logger:     logger,
	}
}

// Run consumes until ctx is cancelled. It returns an error only when a
// message can neither be processed nor dead-lettered, or a commit fails;
// the offset is then left uncommitted for redelivery.
func (m *Materializer) Run(ctx context.Context) error {
	m.logger.Info("Materializer started")
	for {
		msg, err := m.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.logger.Info("Materializer stopped")
				return nil
			}
			return fmt.Errorf("fetch reservation: %w", err)
		}

		if err := m.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle processes one message and commits its offset.
func (m *Materializer) Handle(ctx context.Context, msg kafka.Message) error {
	if cause := m.process(ctx, msg); cause != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.deadLetter.Send(ctx, msg, cause); err != nil {
			return fmt.Errorf("dead-letter offset %d: %w", msg.Offset, err)
		}
	}

	if err := m.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

func (m *Materializer) process(ctx context.Context, msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	evt, err := events.DecodeReservation(msg)
	if err != nil {
		return err
	}

	claimed, err := m.claims.ClaimReservation(ctx, evt.SKUID, evt.ReservationID)
	if err != nil {
		return fmt.Errorf("claim reservation %s: %w", evt.ReservationID, err)
	}
	if !claimed {
		m.logger.Warn("Reservation was released before materialization, dropping",
			zap.String("reservation_id", evt.ReservationID.String()),
			zap.String("order_id", evt.OrderID.String()),
			zap.String("trace_id", evt.TraceID))
		return nil
	}

	order := evt.ToOrder()
	audit := domain.AuditRecord{
		SKUID:     evt.SKUID,
		ChangeQty: -evt.Quantity,
		Reason:    domain.AuditReasonReservation,
		RefID:     evt.ReservationID.String(),
		CreatedAt: m.clock.Now(),
	}

	duplicate := false
	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		err := m.store.CreateOrderIfAbsent(ctx, order, audit)
		if errors.Is(err, domain.ErrPersistenceConflict) {
			duplicate = true
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("persist order %s: %w", order.OrderID, err)
	}
	if duplicate {
		return m.forwardDuplicate(ctx, evt)
	}

	if err := m.publisher.PublishOrder(ctx, evt); err != nil {
		return fmt.Errorf("forward order %s: %w", order.OrderID, err)
	}

	m.logger.Info("Order materialized",
		zap.String("order_id", order.OrderID.String()),
		zap.String("reservation_id", evt.ReservationID.String()),
		zap.String("sku_id", evt.SKUID),
		zap.Int("quantity", evt.Quantity),
		zap.String("trace_id", evt.TraceID))
	return nil
}

// forwardDuplicate re-forwards a redelivered event while its order still
// awaits payment, since the earlier forward may have failed. The orders
// topic is keyed by order id, so a repeat is harmless downstream.
func (m *Materializer) forwardDuplicate(ctx context.Context, evt events.ReservationEvent) error {
	var stored *domain.Order
	err := m.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		stored, err = m.store.GetOrder(ctx, evt.OrderID)
		return err
	})
	if err != nil {
		return fmt.Errorf("load order %s: %w", evt.OrderID, err)
	}
	if stored.Status != domain.OrderStatusPending {
		m.logger.Info("Order already settled, skipping",
			zap.String("order_id", evt.OrderID.String()),
			zap.String("status", string(stored.Status)),
			zap.String("trace_id", evt.TraceID))
		return nil
	}

	if err := m.publisher.PublishOrder(ctx, evt); err != nil {
		return fmt.Errorf("forward order %s: %w", evt.OrderID, err)
	}
	m.logger.Info("Order already exists, forwarded again",
		zap.String("order_id", evt.OrderID.String()),
		zap.String("trace_id", evt.TraceID))
	return nil
}
