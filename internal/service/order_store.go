package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/chao-dotcom/Ticket-Craze/internal/repository"
)

// OrderStore is the durable record store. Both the Postgres and the
// DynamoDB repositories satisfy it.
type OrderStore interface {
	CreateOrderIfAbsent(ctx context.Context, order domain.Order, audit domain.AuditRecord) error
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error)
	ExpireOrder(ctx context.Context, orderID snowflake.ID, now time.Time, release repository.ReleaseFunc) error
	GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.Order, error)
}

var (
	_ OrderStore = (*repository.PostgresOrderRepository)(nil)
	_ OrderStore = (*repository.DynamoOrderRepository)(nil)
)

// OrderQueryService backs the order lookup endpoint.
type OrderQueryService struct {
	store OrderStore
}

func NewOrderQueryService(store OrderStore) *OrderQueryService {
	return &OrderQueryService{store: store}
}

func (s *OrderQueryService) GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}
