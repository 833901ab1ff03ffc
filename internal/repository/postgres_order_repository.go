package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/chao-dotcom/Ticket-Craze/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReleaseFunc returns an expiring order's stock to the reservation store.
// It runs inside the expiry transaction; an error rolls the expiry back.
type ReleaseFunc func(ctx context.Context, order domain.Order) error

type PostgresOrderRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func NewPostgresOrderRepository(pool *pgxpool.Pool) *PostgresOrderRepository {
	return &PostgresOrderRepository{pool: pool}
}

func (r *PostgresOrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// CreateOrderIfAbsent inserts the order, its items and the audit record in one
// transaction. An order that already exists yields domain.ErrPersistenceConflict.
func (r *PostgresOrderRepository) CreateOrderIfAbsent(ctx context.Context, order domain.Order, audit domain.AuditRecord) error {
	return r.WithTx(ctx, func(txCtx context.Context) error {
		var existing int64
		err := r.queryRow(txCtx, `SELECT id FROM orders WHERE id = $1 FOR UPDATE`, order.OrderID.Int64()).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrPersistenceConflict)
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("lock order: %w", err)
		}

		const insertOrder = `
INSERT INTO orders (id, reservation_id, user_id, status, total, trace_id, created_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
		_, err = r.exec(txCtx, insertOrder,
			order.OrderID.Int64(), order.ReservationID.Int64(), order.UserID, string(order.Status),
			order.TotalAmount, order.TraceID, order.CreatedAt, order.ExpiresAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("order %s: %w", order.OrderID, domain.ErrPersistenceConflict)
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for i, item := range order.Items {
			_, err := r.exec(txCtx,
				`INSERT INTO order_items (order_id, line_no, sku_id, quantity, price) VALUES ($1, $2, $3, $4, $5)`,
				order.OrderID.Int64(), i+1, item.SKUID, item.Quantity, item.Price)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		return r.insertAudit(txCtx, audit)
	})
}

// FindExpiredPending lists up to limit PENDING orders whose expiry is before now,
// oldest first.
func (r *PostgresOrderRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]domain.Order, error) {
	const query = `
SELECT id, reservation_id, user_id, status, total::float8, trace_id, created_at, expires_at
FROM orders
WHERE status = 'PENDING' AND expires_at < $1
ORDER BY expires_at
LIMIT $2`

	rows, err := r.query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find expired orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("scan expired orders: %w", err)
	}

	for i := range orders {
		items, err := r.items(ctx, orders[i].OrderID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

// ExpireOrder moves a PENDING order to EXPIRED, releases its stock through
// release and audits each returned line, all under the order's row lock.
// It returns domain.ErrOrderNotPending when another sweep got there first.
// release must be safe to repeat: a commit that fails after it leaves the
// order PENDING for the next sweep.
func (r *PostgresOrderRepository) ExpireOrder(ctx context.Context, orderID snowflake.ID, now time.Time, release ReleaseFunc) error {
	return r.WithTx(ctx, func(txCtx context.Context) error {
		order, err := r.getOrder(txCtx, orderID, true)
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPending {
			return fmt.Errorf("order %s is %s: %w", orderID, order.Status, domain.ErrOrderNotPending)
		}

		tag, err := r.exec(txCtx,
			`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1 AND status = 'PENDING'`,
			orderID.Int64(), string(domain.OrderStatusExpired), now)
		if err != nil {
			return fmt.Errorf("expire order: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("order %s: %w", orderID, domain.ErrOrderNotPending)
		}

		for _, item := range order.Items {
			if err := r.insertAudit(txCtx, domain.AuditRecord{
				SKUID:     item.SKUID,
				ChangeQty: item.Quantity,
				Reason:    domain.AuditReasonReservationExpired,
				RefID:     orderID.String(),
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}

		if err := release(txCtx, *order); err != nil {
			return fmt.Errorf("release order %s: %w", orderID, err)
		}
		return nil
	})
}

func (r *PostgresOrderRepository) GetOrder(ctx context.Context, orderID snowflake.ID) (*domain.Order, error) {
	return r.getOrder(ctx, orderID, false)
}

func (r *PostgresOrderRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *PostgresOrderRepository) getOrder(ctx context.Context, orderID snowflake.ID, forUpdate bool) (*domain.Order, error) {
	query := `
SELECT id, reservation_id, user_id, status, total::float8, trace_id, created_at, expires_at
FROM orders
WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := r.query(ctx, query, orderID.Int64())
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	order, err := pgx.CollectOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.items(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Items = items
	return &order, nil
}

func (r *PostgresOrderRepository) items(ctx context.Context, orderID snowflake.ID) ([]domain.OrderItem, error) {
	rows, err := r.query(ctx,
		`SELECT sku_id, quantity, price::float8 FROM order_items WHERE order_id = $1 ORDER BY line_no`,
		orderID.Int64())
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var item domain.OrderItem
		err := row.Scan(&item.SKUID, &item.Quantity, &item.Price)
		return item, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan order items: %w", err)
	}
	return items, nil
}

func (r *PostgresOrderRepository) insertAudit(ctx context.Context, audit domain.AuditRecord) error {
	_, err := r.exec(ctx,
		`INSERT INTO inventory_audit (sku_id, change_qty, reason, ref_id, created_at) VALUES ($1, $2, $3, $4, $5)`,
		audit.SKUID, audit.ChangeQty, string(audit.Reason), audit.RefID, audit.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (domain.Order, error) {
	var (
		o                 domain.Order
		id, reservationID int64
		status            string
	)
	err := row.Scan(&id, &reservationID, &o.UserID, &status, &o.TotalAmount, &o.TraceID, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		return domain.Order{}, err
	}
	o.OrderID = snowflake.ID(id)
	o.ReservationID = snowflake.ID(reservationID)
	o.Status = domain.OrderStatus(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.ExpiresAt = o.ExpiresAt.UTC()
	return o, nil
}

func (r *PostgresOrderRepository) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Exec(ctx, sql, args...)
	}
	return r.pool.Exec(ctx, sql, args...)
}

func (r *PostgresOrderRepository) queryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if tx := txFromContext(ctx); tx != nil {
		return tx.QueryRow(ctx, sql, args...)
	}
	return r.pool.QueryRow(ctx, sql, args...)
}

func (r *PostgresOrderRepository) query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if tx := txFromContext(ctx); tx != nil {
		return tx.Query(ctx, sql, args...)
	}
	return r.pool.Query(ctx, sql, args...)
}
