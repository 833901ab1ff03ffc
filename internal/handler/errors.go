package handler

import (
	"errors"
	"net/http"

	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/gin-gonic/gin"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeDuplicateRequest   = "DUPLICATE_REQUEST"
	CodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	CodeSoldOut            = "SOLD_OUT"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeChannelUnavailable = "CHANNEL_UNAVAILABLE"
	CodeIDUnavailable      = "ID_UNAVAILABLE"
	CodeOrderNotFound      = "ORDER_NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
)

// retryAfterSeconds is the back-off suggested to rate-limited callers.
const retryAfterSeconds = 2

// errorResponse maps a service error to its status and body. Every body
// carries a stable machine-readable code under "error".
func errorResponse(err error) (int, gin.H) {
	var soldOut *domain.SoldOutError
	switch {
	case errors.As(err, &soldOut):
		return http.StatusGone, gin.H{
			"error":          CodeSoldOut,
			"message":        "This item is currently sold out",
			"remainingStock": soldOut.Remaining,
		}
	case errors.Is(err, domain.ErrSoldOut):
		return http.StatusGone, gin.H{"error": CodeSoldOut, "message": "This item is currently sold out", "remainingStock": 0}
	case errors.Is(err, domain.ErrInvalidQuantity), errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest, gin.H{"error": CodeValidation, "message": err.Error()}
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, gin.H{"error": CodeDuplicateRequest, "message": "This request has already been processed"}
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, gin.H{
			"error":      CodeRateLimitExceeded,
			"message":    "Too many requests. Please try again in a moment.",
			"retryAfter": retryAfterSeconds,
		}
	case errors.Is(err, domain.ErrClockRegression):
		return http.StatusServiceUnavailable, gin.H{"error": CodeIDUnavailable, "message": "Unable to issue an identifier, retry shortly"}
	case errors.Is(err, domain.ErrChannelUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": CodeChannelUnavailable, "message": "Reservation could not be confirmed, no stock was held"}
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, gin.H{"error": CodeStoreUnavailable, "message": "Inventory is temporarily unavailable"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, gin.H{"error": CodeOrderNotFound, "message": "order not found"}
	default:
		return http.StatusInternalServerError, gin.H{"error": CodeInternal, "message": "An unexpected error occurred"}
	}
}
