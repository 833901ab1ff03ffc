package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	pkgconfig "github.com/chao-dotcom/Ticket-Craze/pkg/config"
	"go.uber.org/zap"
)

// OrderStore is what the binaries get back from Open.
type OrderStore interface {
	CreateOrderIfAbsent(ctx context.Context, order domain.Order, audit domain.AuditRecord) error
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
	ExpireOrder(ctx context.Context, orderID snowflake.ID, now time.Time, release ReleaseFunc) error
	GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.Order, error)
	Ping(ctx context.Context) error
}

// Open connects the order store selected by ORDER_STORE. The returned
// close func releases its connections.
func Open(ctx context.Context, cfg *pkgconfig.Config, logger *zap.Logger) (OrderStore, func(), error) {
	switch cfg.OrderStore {
	case pkgconfig.OrderStoreDynamoDB:
		client, err := NewDynamoDBClient(ctx, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("create DynamoDB client: %w", err)
		}
		logger.Info("Using DynamoDB order store", zap.String("table", cfg.OrderTableName))
		return NewDynamoOrderRepository(client, cfg.OrderTableName, logger), func() {}, nil
	default:
		pool, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Using Postgres order store")
		return NewPostgresOrderRepository(pool), pool.Close, nil
	}
}
