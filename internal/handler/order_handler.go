package handler

import (
	"context"
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.Order, error)
}

type OrderHandler struct {
	orders OrderReader
	logger *zap.Logger
}

func NewOrderHandler(orders OrderReader, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, err := snowflake.ParseString(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": CodeValidation, "message": "invalid order id"})
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Failed to load order", zap.String("order_id", id.String()), zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusOK, order)
}
