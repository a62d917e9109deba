package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// uniqueViolation — код ошибки PostgreSQL для нарушения уникального индекса
const uniqueViolation = "23505"

// OrderRepository реализует repository.OrderRepository используя PostgreSQL
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository создаёт новый PostgreSQL репозиторий заказов
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{
		pool: pool,
	}
}

// Create сохраняет заказ в PostgreSQL
// Использует транзакцию для атомарного сохранения orders и order_items
// Дубликат (store_id, reservation_id) отклоняется уникальным индексом —
// это и есть dedup-барьер против двойного заказа по одному idempotency key
func (r *OrderRepository) Create(ctx context.Context, order repository.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	createdAt := order.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO orders (id, store_id, customer_ref, status, reservation_id, total_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		order.ID, order.StoreID, order.CustomerRef, order.Status,
		order.ReservationID, order.TotalCents, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return repository.ErrAlreadyExists
		}
		return err
	}

	for _, item := range order.Items {
		_, err = tx.Exec(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents)
			 VALUES ($1, $2, $3, $4)`,
			order.ID, item.ProductID, item.Quantity, item.UnitPriceCents)
		if err != nil {
			return err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}

	return nil
}

// GetByID получает заказ по (store_id, order_id) из PostgreSQL
// Собирает orders и order_items в доменную модель
func (r *OrderRepository) GetByID(ctx context.Context, storeID, orderID string) (repository.Order, error) {
	return r.getOne(ctx,
		`SELECT id, store_id, customer_ref, status, reservation_id, total_cents, created_at
		 FROM orders
		 WHERE store_id = $1 AND id = $2`,
		storeID, orderID)
}

// GetByReservationID получает заказ по (store_id, reservation_id)
func (r *OrderRepository) GetByReservationID(ctx context.Context, storeID, reservationID string) (repository.Order, error) {
	return r.getOne(ctx,
		`SELECT id, store_id, customer_ref, status, reservation_id, total_cents, created_at
		 FROM orders
		 WHERE store_id = $1 AND reservation_id = $2`,
		storeID, reservationID)
}

func (r *OrderRepository) getOne(ctx context.Context, query string, args ...any) (repository.Order, error) {
	var order repository.Order
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&order.ID, &order.StoreID, &order.CustomerRef, &order.Status,
		&order.ReservationID, &order.TotalCents, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.Order{}, repository.ErrNotFound
		}
		return repository.Order{}, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, quantity, unit_price_cents
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY product_id`,
		order.ID)
	if err != nil {
		return repository.Order{}, err
	}
	defer rows.Close()

	order.Items = make([]repository.OrderItem, 0)
	for rows.Next() {
		var item repository.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPriceCents); err != nil {
			return repository.Order{}, err
		}
		order.Items = append(order.Items, item)
	}

	if err = rows.Err(); err != nil {
		return repository.Order{}, err
	}

	return order, nil
}

// UpdateStatus переводит заказ в новый статус
func (r *OrderRepository) UpdateStatus(ctx context.Context, storeID, orderID, status string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3 WHERE store_id = $1 AND id = $2`,
		storeID, orderID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
