package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/segmentio/kafka-go"
)

const (
	StatusReserved       = "reserved"
	StatusPendingPayment = "pending_payment"
)

const (
	HeaderTraceID  = "trace-id"
	HeaderError    = "error"
	HeaderFailedAt = "failed-at"
)

var ErrInvalidEvent = errors.New("invalid reservation event")

// ReservationEvent travels on the reservations and orders topics.
// Timestamps are unix milliseconds; the trace id rides in a header.
type ReservationEvent struct {
	ReservationID snowflake.ID `json:"reservationId"`
	OrderID       snowflake.ID `json:"orderId"`
	UserID        string       `json:"userId"`
	SKUID         string       `json:"skuId"`
	Quantity      int          `json:"quantity"`
	Status        string       `json:"status"`
	CreatedAt     int64        `json:"createdAt"`
	ExpiresAt     int64        `json:"expiresAt"`
	TraceID       string       `json:"-"`
}

func NewReservationEvent(r domain.Reservation, traceID string) ReservationEvent {
	return ReservationEvent{
		ReservationID: r.ReservationID,
		OrderID:       r.OrderID,
		UserID:        r.UserID,
		SKUID:         r.SKUID,
		Quantity:      r.Quantity,
		Status:        StatusReserved,
		CreatedAt:     r.CreatedAt.UnixMilli(),
		ExpiresAt:     r.ExpiresAt.UnixMilli(),
		TraceID:       traceID,
	}
}

func (e ReservationEvent) Validate() error {
	switch {
	case e.ReservationID == 0:
		return fmt.Errorf("%w: missing reservationId", ErrInvalidEvent)
	case e.OrderID == 0:
		return fmt.Errorf("%w: missing orderId", ErrInvalidEvent)
	case e.UserID == "" || e.SKUID == "":
		return fmt.Errorf("%w: missing userId or skuId", ErrInvalidEvent)
	case e.Quantity <= 0:
		return fmt.Errorf("%w: quantity %d", ErrInvalidEvent, e.Quantity)
	case e.ExpiresAt < e.CreatedAt:
		return fmt.Errorf("%w: expiresAt before createdAt", ErrInvalidEvent)
	}
	return nil
}

// ToOrder rebuilds the durable order without asking the admission side.
func (e ReservationEvent) ToOrder() domain.Order {
	return domain.Order{
		OrderID:       e.OrderID,
		ReservationID: e.ReservationID,
		UserID:        e.UserID,
		Items:         []domain.OrderItem{{SKUID: e.SKUID, Quantity: e.Quantity}},
		Status:        domain.OrderStatusPending,
		TraceID:       e.TraceID,
		CreatedAt:     time.UnixMilli(e.CreatedAt).UTC(),
		ExpiresAt:     time.UnixMilli(e.ExpiresAt).UTC(),
	}
}

// DecodeReservation parses and validates a message from the reservations topic.
func DecodeReservation(msg kafka.Message) (ReservationEvent, error) {
	var evt ReservationEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		return ReservationEvent{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	if err := evt.Validate(); err != nil {
		return ReservationEvent{}, err
	}
	evt.TraceID = HeaderValue(msg.Headers, HeaderTraceID)
	return evt, nil
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// WithoutHeaders returns a copy of headers minus the given keys.
func WithoutHeaders(headers []kafka.Header, keys ...string) []kafka.Header {
	out := make([]kafka.Header, 0, len(headers))
next:
	for _, h := range headers {
		for _, k := range keys {
			if h.Key == k {
				continue next
			}
		}
		out = append(out, h)
	}
	return out
}
