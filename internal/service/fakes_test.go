package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/chao-dotcom/Ticket-Craze/internal/repository"
)

// memOrderStore mimics the repositories: duplicate ids conflict and expiry
// releases under the PENDING check.
type memOrderStore struct {
	mu          sync.Mutex
	orders      map[snowflake.ID]domain.Order
	audits      []domain.AuditRecord
	createErr   error
	createCalls int
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: map[snowflake.ID]domain.Order{}}
}

func (s *memOrderStore) CreateOrderIfAbsent(_ context.Context, order domain.Order, audit domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createCalls++
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.orders[order.OrderID]; ok {
		return domain.ErrPersistenceConflict
	}
	s.orders[order.OrderID] = order
	s.audits = append(s.audits, audit)
	return nil
}

func (s *memOrderStore) FindExpiredPending(_ context.Context, now time.Time, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, o := range s.orders {
		if o.Status == domain.OrderStatusPending && o.ExpiresAt.Before(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memOrderStore) ExpireOrder(ctx context.Context, orderID snowflake.ID, now time.Time, release repository.ReleaseFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return domain.ErrOrderNotPending
	}
	if err := release(ctx, o); err != nil {
		return err
	}
	o.Status = domain.OrderStatusExpired
	s.orders[orderID] = o
	for _, item := range o.Items {
		s.audits = append(s.audits, domain.AuditRecord{
			SKUID:     item.SKUID,
			ChangeQty: item.Quantity,
			Reason:    domain.AuditReasonReservationExpired,
			RefID:     orderID.String(),
			CreatedAt: now,
		})
	}
	return nil
}

func (s *memOrderStore) GetOrder(_ context.Context, orderID snowflake.ID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (s *memOrderStore) put(o domain.Order) {
	s.mu.Lock()
	s.orders[o.OrderID] = o
	s.mu.Unlock()
}

func (s *memOrderStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *memOrderStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createCalls
}

func (s *memOrderStore) setCreateErr(err error) {
	s.mu.Lock()
	s.createErr = err
	s.mu.Unlock()
}

func (s *memOrderStore) auditsFor(reason domain.AuditReason) []domain.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditRecord
	for _, a := range s.audits {
		if a.Reason == reason {
			out = append(out, a)
		}
	}
	return out
}

// memClaims settles reservations the way the reservation store's claim does.
type memClaims struct {
	mu     sync.Mutex
	states map[snowflake.ID]domain.ReservationStatus
	err    error
}

func newMemClaims() *memClaims {
	return &memClaims{states: map[snowflake.ID]domain.ReservationStatus{}}
}

func (c *memClaims) ClaimReservation(_ context.Context, _ string, reservationID snowflake.ID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return false, c.err
	}
	switch c.states[reservationID] {
	case domain.ReservationStatusReleased:
		return false, nil
	case "":
		c.states[reservationID] = domain.ReservationStatusMaterialized
	}
	return true, nil
}

func (c *memClaims) set(reservationID snowflake.ID, status domain.ReservationStatus) {
	c.mu.Lock()
	c.states[reservationID] = status
	c.mu.Unlock()
}

// slowOrderStore never finishes a write before the caller's deadline.
type slowOrderStore struct {
	*memOrderStore
}

func (s slowOrderStore) CreateOrderIfAbsent(ctx context.Context, _ domain.Order, _ domain.AuditRecord) error {
	<-ctx.Done()
	return ctx.Err()
}
