package service

import (
	"fmt"
	"sort"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// LineDelta — одно списание в плане резервирования
type LineDelta struct {
	ProductID string
	Quantity  int32
}

// ReservationPlan — набор списаний стока для одной попытки заказа,
// применяемый как единое целое (все или ни одного).
// Живёт только в рамках попытки; durable след остаётся лишь
// в CompensationRecord, если понадобился откат
type ReservationPlan struct {
	// ReservationID уникален на попытку заказа; совпадает с idempotency key
	// вызывающего, если тот его передал
	ReservationID string
	StoreID       string
	// Deltas отсортированы по возрастанию product_id: все конкурентные планы
	// проходят пересекающиеся товары в одном и том же порядке, что ограничивает
	// взаимные retry-штормы константой, а не числом конкурентов
	Deltas []LineDelta
}

// NewReservationPlan строит план из позиций заказа
// Валидация до какого-либо обращения к леджеру: непустые позиции,
// количество > 0, без дубликатов товаров
func NewReservationPlan(reservationID, storeID string, items []repository.OrderItem) (ReservationPlan, error) {
	if reservationID == "" {
		return ReservationPlan{}, fmt.Errorf("%w: reservation id is required", ErrInvalidRequest)
	}
	if storeID == "" {
		return ReservationPlan{}, fmt.Errorf("%w: store id is required", ErrInvalidRequest)
	}
	if len(items) == 0 {
		return ReservationPlan{}, fmt.Errorf("%w: order must contain at least one item", ErrInvalidRequest)
	}

	seen := make(map[string]struct{}, len(items))
	deltas := make([]LineDelta, 0, len(items))
	for _, item := range items {
		if item.ProductID == "" {
			return ReservationPlan{}, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
		}
		if item.Quantity <= 0 {
			return ReservationPlan{}, fmt.Errorf("%w: quantity must be positive for product %s", ErrInvalidRequest, item.ProductID)
		}
		if _, dup := seen[item.ProductID]; dup {
			return ReservationPlan{}, fmt.Errorf("%w: duplicate product %s", ErrInvalidRequest, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
		deltas = append(deltas, LineDelta{ProductID: item.ProductID, Quantity: item.Quantity})
	}

	sort.Slice(deltas, func(i, j int) bool {
		return deltas[i].ProductID < deltas[j].ProductID
	})

	return ReservationPlan{
		ReservationID: reservationID,
		StoreID:       storeID,
		Deltas:        deltas,
	}, nil
}

// Inverse возвращает обратные дельты плана — то, что должна применить
// компенсация, чтобы вернуть леджер в исходное состояние
func (p ReservationPlan) Inverse() []repository.CompensationDelta {
	return inverseDeltas(p.Deltas)
}

func inverseDeltas(deltas []LineDelta) []repository.CompensationDelta {
	out := make([]repository.CompensationDelta, 0, len(deltas))
	for _, d := range deltas {
		out = append(out, repository.CompensationDelta{
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
		})
	}
	return out
}
