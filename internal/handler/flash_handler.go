package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/chao-dotcom/Ticket-Craze/internal/service"
	"github.com/chao-dotcom/Ticket-Craze/pkg/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Admission interface {
	Purchase(ctx context.Context, req domain.PurchaseRequest, traceID string) (*service.AdmissionResult, error)
}

type FlashHandler struct {
	admission Admission
	logger    *zap.Logger
}

func NewFlashHandler(admission Admission, logger *zap.Logger) *FlashHandler {
	return &FlashHandler{
		admission: admission,
		logger:    logger,
	}
}

func (h *FlashHandler) Purchase(c *gin.Context) {
	start := time.Now()

	var req domain.PurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   CodeValidation,
			"message": "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	requestID := middleware.GetRequestID(c)
	traceID := middleware.GetTraceID(c)

	res, err := h.admission.Purchase(c.Request.Context(), req, traceID)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Purchase failed",
				zap.String("request_id", requestID),
				zap.String("trace_id", traceID),
				zap.String("user_id", req.UserID),
				zap.String("sku_id", req.SKUID),
				zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, domain.PurchaseResponse{
		Success:          true,
		ReservationID:    res.ReservationID,
		OrderID:          res.OrderID,
		ExpiresAt:        res.ExpiresAt.UnixMilli(),
		Message:          "Reservation confirmed. Complete payment within the reservation window.",
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}
