package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "PENDING"
	OrderStatusExpired OrderStatus = "EXPIRED"
)

// Order is the durable record materialized from a reservation event.
// Its ID is issued at admission time so redelivered events map to the same row.
type Order struct {
	OrderID       snowflake.ID `json:"order_id"`
	ReservationID snowflake.ID `json:"reservation_id"`
	UserID        string       `json:"user_id"`
	Items         []OrderItem  `json:"items"`
	TotalAmount   float64      `json:"total_amount"`
	Status        OrderStatus  `json:"status"`
	TraceID       string       `json:"trace_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

// Price stays zero until a SKU price lookup exists.
type OrderItem struct {
	SKUID    string  `json:"sku_id"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
}

// Quantity is the total number of units the order holds.
func (o Order) Quantity() int {
	total := 0
	for _, item := range o.Items {
		total += item.Quantity
	}
	return total
}

type AuditReason string

const (
	AuditReasonReservation        AuditReason = "RESERVATION"
	AuditReasonReservationExpired AuditReason = "RESERVATION_EXPIRED"
)

// AuditRecord logs one stock movement. ChangeQty is negative for decrements.
type AuditRecord struct {
	SKUID     string      `json:"sku_id"`
	ChangeQty int         `json:"change_qty"`
	Reason    AuditReason `json:"reason"`
	RefID     string      `json:"ref_id"`
	CreatedAt time.Time   `json:"created_at"`
}
