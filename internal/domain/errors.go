package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrDuplicateRequest    = errors.New("duplicate request")
	ErrRateLimited         = errors.New("rate limited")
	ErrSoldOut             = errors.New("sold out")
	ErrStoreUnavailable    = errors.New("reservation store unavailable")
	ErrChannelUnavailable  = errors.New("event channel unavailable")
	ErrClockRegression     = errors.New("clock moved backwards")
	ErrPersistenceConflict = errors.New("order already persisted")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotPending     = errors.New("order not pending")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
)

// SoldOutError carries the stock observed by the failed reservation.
type SoldOutError struct {
	SKUID     string
	Remaining int64
}

func (e *SoldOutError) Error() string {
	return fmt.Sprintf("sku %s sold out (remaining %d)", e.SKUID, e.Remaining)
}

func (e *SoldOutError) Unwrap() error {
	return ErrSoldOut
}
