package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// PlaceOrderInput — вход размещения заказа
type PlaceOrderInput struct {
	StoreID     string
	CustomerRef string
	// IdempotencyKey — опциональный ключ идемпотентности от вызывающего;
	// становится reservation_id заказа. Пустой — генерируется сервером
	IdempotencyKey string
	Items          []repository.OrderItem
}

// Orchestrator владеет сагой создания заказа: резервирование через Coordinator,
// запись заказа, публикация события, а при расхождении шагов — durable
// компенсация через CompensationEngine
type Orchestrator struct {
	logger      *zap.Logger
	coordinator *Coordinator
	engine      *CompensationEngine
	orders      repository.OrderRepository
	comps       repository.CompensationRepository
	events      OrderEventPublisher
	now         func() time.Time
	newID       func() string
}

// NewOrchestrator создаёт оркестратор саги заказа
// events может быть nil — события тогда не публикуются
func NewOrchestrator(
	logger *zap.Logger,
	coordinator *Coordinator,
	engine *CompensationEngine,
	orders repository.OrderRepository,
	comps repository.CompensationRepository,
	events OrderEventPublisher,
) *Orchestrator {
	return &Orchestrator{
		logger:      logger,
		coordinator: coordinator,
		engine:      engine,
		orders:      orders,
		comps:       comps,
		events:      events,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       func() string { return uuid.New().String() },
	}
}

// PlaceOrder проводит сагу размещения заказа.
// Контракт по ошибкам: ErrInvalidRequest / ErrOutOfStock / ErrConcurrencyExhausted
// возвращаются с полностью восстановленным леджером; ErrPersistenceFailure —
// с durable CompensationRecord на обратные дельты, заказ при этом НЕ размещён
func (o *Orchestrator) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*repository.Order, error) {
	reservationID := input.IdempotencyKey
	if reservationID == "" {
		reservationID = o.newID()
	}

	plan, err := NewReservationPlan(reservationID, input.StoreID, input.Items)
	if err != nil {
		return nil, err
	}
	if input.CustomerRef == "" {
		return nil, fmt.Errorf("%w: customer ref is required", ErrInvalidRequest)
	}

	// Повторный запрос с тем же ключом не должен резервировать сток заново
	if input.IdempotencyKey != "" {
		existing, err := o.orders.GetByReservationID(ctx, input.StoreID, reservationID)
		if err == nil {
			o.logger.Info("duplicate idempotency key, returning existing order",
				zap.String("store_id", input.StoreID),
				zap.String("reservation_id", reservationID),
				zap.String("order_id", existing.ID),
			)
			return &existing, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: idempotency lookup: %v", ErrPersistenceFailure, err)
		}
	}

	result, err := o.coordinator.Apply(ctx, plan)
	if err != nil {
		var unrev *UnreversedError
		if errors.As(err, &unrev) {
			// Откат не доведён — фиксируем обязательство вернуть остаток durable
			rec, recorded := o.recordCompensation(ctx, reservationID, input.StoreID, inverseDeltas(unrev.Remaining))
			if recorded {
				if rerr := o.engine.Reconcile(ctx, rec); rerr != nil {
					o.logger.Warn("inline compensation incomplete, sweep will retry",
						zap.Error(rerr),
						zap.String("reservation_id", reservationID),
					)
				}
			}
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	if !result.Committed {
		switch result.Reason {
		case ReasonConcurrencyExhausted:
			return nil, fmt.Errorf("%w: product %s", ErrConcurrencyExhausted, result.FailingProductID)
		default:
			return nil, fmt.Errorf("%w: product %s", ErrOutOfStock, result.FailingProductID)
		}
	}

	order := repository.Order{
		ID:            o.newID(),
		StoreID:       input.StoreID,
		CustomerRef:   input.CustomerRef,
		Status:        repository.OrderStatusPlaced,
		ReservationID: reservationID,
		Items:         input.Items,
		TotalCents:    orderTotal(input.Items),
		CreatedAt:     o.now(),
	}

	if err := o.orders.Create(ctx, order); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Гонка двух запросов с одним ключом: оба зарезервировали, выиграл
			// записавшийся первым. Наши дельты возвращаем, отдаём заказ победителя
			return o.resolveDuplicateReservation(ctx, plan)
		}

		o.logger.Error("order persistence failed after reservation commit",
			zap.Error(err),
			zap.String("store_id", input.StoreID),
			zap.String("reservation_id", reservationID),
		)
		// Сначала durable запись компенсации, потом одна inline попытка:
		// даже если процесс умрёт прямо сейчас, sweep доделает возврат
		rec, recorded := o.recordCompensation(ctx, reservationID, input.StoreID, inverseDeltas(result.AppliedDeltas))
		if recorded {
			if rerr := o.engine.Reconcile(ctx, rec); rerr != nil {
				o.logger.Warn("inline compensation incomplete, sweep will retry",
					zap.Error(rerr),
					zap.String("reservation_id", reservationID),
				)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	o.publishOrderPlaced(ctx, order)

	o.logger.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("store_id", order.StoreID),
		zap.String("reservation_id", order.ReservationID),
		zap.Int64("total_cents", order.TotalCents),
	)
	return &order, nil
}

// CancelOrder переводит заказ в cancelled и возвращает его сток через
// CompensationEngine. Идемпотентен: уже отменённый заказ возвращается как есть
func (o *Orchestrator) CancelOrder(ctx context.Context, storeID, orderID string) (*repository.Order, error) {
	order, err := o.orders.GetByID(ctx, storeID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}

	if order.Status == repository.OrderStatusCancelled {
		// Успех можно вернуть, только если обязательство вернуть сток durable:
		// прошлая попытка могла упасть между сменой статуса и записью компенсации,
		// и тогда доделать возврат обязаны мы, а не молча отчитаться "уже отменён"
		_, err := o.comps.Get(ctx, order.ReservationID)
		if err == nil {
			return &order, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
	} else {
		// Сначала статус: после него заказ не считается размещённым, и даже если
		// запись компенсации не пройдёт, повторный Cancel безопасно доделает возврат
		if err := o.orders.UpdateStatus(ctx, storeID, orderID, repository.OrderStatusCancelled); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		order.Status = repository.OrderStatusCancelled
	}

	deltas := make([]repository.CompensationDelta, 0, len(order.Items))
	for _, item := range order.Items {
		deltas = append(deltas, repository.CompensationDelta{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	rec, recorded := o.recordCompensation(ctx, order.ReservationID, storeID, deltas)
	if !recorded {
		return nil, fmt.Errorf("%w: cancellation recorded without durable stock restoration", ErrPersistenceFailure)
	}
	if rerr := o.engine.Reconcile(ctx, rec); rerr != nil {
		o.logger.Warn("inline cancellation compensation incomplete, sweep will retry",
			zap.Error(rerr),
			zap.String("order_id", orderID),
			zap.String("reservation_id", order.ReservationID),
		)
	}

	o.logger.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("store_id", storeID),
	)
	return &order, nil
}

// GetOrder возвращает заказ по идентификатору
func (o *Orchestrator) GetOrder(ctx context.Context, storeID, orderID string) (*repository.Order, error) {
	order, err := o.orders.GetByID(ctx, storeID, orderID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// resolveDuplicateReservation компенсирует дельты проигравшей попытки
// и возвращает заказ победителя
func (o *Orchestrator) resolveDuplicateReservation(ctx context.Context, plan ReservationPlan) (*repository.Order, error) {
	o.logger.Info("duplicate reservation race, compensating losing attempt",
		zap.String("store_id", plan.StoreID),
		zap.String("reservation_id", plan.ReservationID),
	)

	// Дельты проигравшего идут под отдельным ключом, чтобы не толкаться
	// с возможной компенсацией победителя по тому же reservation_id
	loserKey := plan.ReservationID + ":dup:" + o.newID()
	rec, recorded := o.recordCompensation(ctx, loserKey, plan.StoreID, plan.Inverse())
	if recorded {
		if rerr := o.engine.Reconcile(ctx, rec); rerr != nil {
			o.logger.Warn("duplicate-race compensation incomplete, sweep will retry",
				zap.Error(rerr),
				zap.String("reservation_id", loserKey),
			)
		}
	}

	winner, err := o.orders.GetByReservationID(ctx, plan.StoreID, plan.ReservationID)
	if err != nil {
		return nil, fmt.Errorf("%w: winner lookup after duplicate reservation: %v", ErrPersistenceFailure, err)
	}
	return &winner, nil
}

// recordCompensation durably фиксирует обязательство вернуть сток
// Возвращает false, если запись не удалась — тогда остаток реально потерян,
// это единственное место, где мы логируем на уровне catastrophe-класса
func (o *Orchestrator) recordCompensation(
	ctx context.Context,
	reservationID, storeID string,
	deltas []repository.CompensationDelta,
) (repository.CompensationRecord, bool) {
	now := o.now()
	rec := repository.CompensationRecord{
		ReservationID: reservationID,
		StoreID:       storeID,
		Deltas:        deltas,
		Status:        repository.CompensationStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := o.comps.Create(ctx, rec); err != nil {
		o.logger.Error("CRITICAL: failed to durably record compensation, stock debit may be orphaned",
			zap.Error(err),
			zap.String("reservation_id", reservationID),
			zap.String("store_id", storeID),
			zap.Int("deltas", len(deltas)),
		)
		return repository.CompensationRecord{}, false
	}
	return rec, true
}

// publishOrderPlaced публикует событие размещения fire-and-forget:
// ошибка публикации не откатывает уже размещённый заказ
func (o *Orchestrator) publishOrderPlaced(ctx context.Context, order repository.Order) {
	if o.events == nil {
		return
	}

	event := OrderPlacedEvent{
		EventID:       o.newID(),
		OrderID:       order.ID,
		StoreID:       order.StoreID,
		CustomerRef:   order.CustomerRef,
		ReservationID: order.ReservationID,
		TotalCents:    order.TotalCents,
		OccurredAt:    o.now(),
	}
	if err := o.events.PublishOrderPlaced(ctx, event); err != nil {
		o.logger.Error("failed to publish order placed event",
			zap.Error(err),
			zap.String("order_id", order.ID),
		)
	}
}

func orderTotal(items []repository.OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.UnitPriceCents * int64(item.Quantity)
	}
	return total
}
