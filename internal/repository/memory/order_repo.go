package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// OrderRepository реализует repository.OrderRepository используя in-memory хранилище
// Используется для разработки и unit-тестов
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[orderKey]repository.Order
	// byReservation — индекс (store_id, reservation_id) -> order_id для dedup-проверки
	byReservation map[orderKey]string
}

type orderKey struct {
	storeID string
	id      string
}

// NewOrderRepository создаёт новый in-memory репозиторий заказов
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:        make(map[orderKey]repository.Order),
		byReservation: make(map[orderKey]string),
	}
}

// Create сохраняет новый заказ
// Дубликат (store_id, reservation_id) отклоняется с ErrAlreadyExists,
// как и уникальный индекс в PostgreSQL реализации
func (r *OrderRepository) Create(ctx context.Context, order repository.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	resKey := orderKey{order.StoreID, order.ReservationID}
	if _, exists := r.byReservation[resKey]; exists {
		return repository.ErrAlreadyExists
	}
	if _, exists := r.orders[orderKey{order.StoreID, order.ID}]; exists {
		return repository.ErrAlreadyExists
	}

	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}

	r.orders[orderKey{order.StoreID, order.ID}] = order
	r.byReservation[resKey] = order.ID
	return nil
}

// GetByID получает заказ по (store_id, order_id)
func (r *OrderRepository) GetByID(ctx context.Context, storeID, orderID string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, exists := r.orders[orderKey{storeID, orderID}]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}

	return order, nil
}

// GetByReservationID получает заказ по (store_id, reservation_id)
func (r *OrderRepository) GetByReservationID(ctx context.Context, storeID, reservationID string) (repository.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, exists := r.byReservation[orderKey{storeID, reservationID}]
	if !exists {
		return repository.Order{}, repository.ErrNotFound
	}

	return r.orders[orderKey{storeID, orderID}], nil
}

// UpdateStatus переводит заказ в новый статус
func (r *OrderRepository) UpdateStatus(ctx context.Context, storeID, orderID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey{storeID, orderID}
	order, exists := r.orders[key]
	if !exists {
		return repository.ErrNotFound
	}

	order.Status = status
	r.orders[key] = order
	return nil
}
