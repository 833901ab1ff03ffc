package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ReservationStatus is the lifecycle of a reservation. The settled states are
// stored next to the reservation marker and decide whether a reservation
// becomes an order or goes back to stock.
type ReservationStatus string

const (
	ReservationStatusReserved     ReservationStatus = "RESERVED"
	ReservationStatusMaterialized ReservationStatus = "MATERIALIZED"
	ReservationStatusReleased     ReservationStatus = "RELEASED"
	ReservationStatusExpired      ReservationStatus = "EXPIRED"
)

const (
	MinPurchaseQuantity = 1
	MaxPurchaseQuantity = 10
)

// Reservation is a time-bounded claim on stock that was already decremented.
type Reservation struct {
	ReservationID snowflake.ID
	OrderID       snowflake.ID
	SKUID         string
	Quantity      int
	UserID        string
	Status        ReservationStatus
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

type PurchaseRequest struct {
	UserID         string `json:"userId" binding:"required,numeric"`
	SKUID          string `json:"skuId" binding:"required,numeric"`
	Quantity       int    `json:"quantity" binding:"required,min=1,max=10"`
	IdempotencyKey string `json:"idempotencyKey" binding:"omitempty,max=128"`
}

type PurchaseResponse struct {
	Success          bool         `json:"success"`
	ReservationID    snowflake.ID `json:"reservationId"`
	OrderID          snowflake.ID `json:"orderId"`
	ExpiresAt        int64        `json:"expiresAt"`
	Message          string       `json:"message"`
	ProcessingTimeMs int64        `json:"processingTimeMs"`
}
