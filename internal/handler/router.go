package handler

import (
	"github.com/chao-dotcom/Ticket-Craze/pkg/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(logger *zap.Logger, flash *FlashHandler, orders *OrderHandler, health *HealthHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	router.GET("/health", health.Health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/flash/purchase", flash.Purchase)
		v1.GET("/orders/:id", orders.GetOrder)
		v1.GET("/health", health.Health)
	}
	return router
}
