package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

const (
	// defaultStepRetries — сколько раз повторяется один шаг плана при конфликте версий
	defaultStepRetries = 3
	// defaultRollbackRetries — бюджет повторов на шаг локального отката;
	// выше форвардного, потому что возвраты не могут упасть по остатку,
	// только по конфликту версий
	defaultRollbackRetries = 8
)

// RejectReason — причина отклонения плана
type RejectReason string

const (
	// ReasonInsufficientStock — товара не хватило (или записи о нём нет)
	ReasonInsufficientStock RejectReason = "insufficient_stock"
	// ReasonConcurrencyExhausted — исчерпаны повторы по конфликтам версий
	ReasonConcurrencyExhausted RejectReason = "concurrency_exhausted"
)

// ReservationResult — исход применения плана
// Отклонение всегда целиком: Committed=false означает, что ни одна дельта
// плана не осталась применённой к леджеру
type ReservationResult struct {
	Committed bool
	// AppliedDeltas — применённые списания (только при Committed)
	AppliedDeltas []LineDelta
	// FailingProductID — товар, на котором план был отклонён (только при !Committed)
	FailingProductID string
	Reason           RejectReason
}

// errStepRetriesExhausted — внутренний маркер: шаг не прошёл за бюджет повторов
var errStepRetriesExhausted = errors.New("step retries exhausted")

// Coordinator применяет ReservationPlan к леджеру как единую логическую
// операцию поверх single-key conditional write: либо все списания проходят,
// либо уже применённые откатываются до возврата из Apply
type Coordinator struct {
	logger          *zap.Logger
	ledger          repository.StockLedger
	stepRetries     int
	rollbackRetries int
}

// NewCoordinator создаёт координатор резервирования с дефолтными бюджетами повторов
func NewCoordinator(logger *zap.Logger, ledger repository.StockLedger) *Coordinator {
	return &Coordinator{
		logger:          logger,
		ledger:          ledger,
		stepRetries:     defaultStepRetries,
		rollbackRetries: defaultRollbackRetries,
	}
}

// Apply применяет план: дельты идут в порядке плана (возрастание product_id),
// каждая — условное списание с повтором по конфликту версий.
// Любой отказ ведёт к синхронному откату уже применённых дельт через леджер
// напрямую: откат здесь локальный, в рамках того же вызова, без проблемы
// "заказ уже виден", ради которой существует CompensationEngine.
// Если сам откат упал на storage ошибке, возвращается *UnreversedError
// с ещё применёнными дельтами — вызывающий обязан их durably зафиксировать
func (c *Coordinator) Apply(ctx context.Context, plan ReservationPlan) (ReservationResult, error) {
	applied := make([]LineDelta, 0, len(plan.Deltas))

	for _, d := range plan.Deltas {
		err := c.applyStep(ctx, plan.StoreID, d)
		if err == nil {
			applied = append(applied, d)
			continue
		}

		switch {
		case errors.Is(err, repository.ErrInsufficientStock) || errors.Is(err, repository.ErrNotFound):
			c.logger.Info("reservation rejected: insufficient stock",
				zap.String("reservation_id", plan.ReservationID),
				zap.String("store_id", plan.StoreID),
				zap.String("product_id", d.ProductID),
				zap.Int32("quantity", d.Quantity),
			)
			if rbErr := c.rollback(ctx, plan, applied); rbErr != nil {
				return ReservationResult{}, rbErr
			}
			return ReservationResult{
				FailingProductID: d.ProductID,
				Reason:           ReasonInsufficientStock,
			}, nil

		case errors.Is(err, errStepRetriesExhausted):
			c.logger.Warn("reservation rejected: contention retries exhausted",
				zap.String("reservation_id", plan.ReservationID),
				zap.String("store_id", plan.StoreID),
				zap.String("product_id", d.ProductID),
				zap.Int("retries", c.stepRetries),
			)
			if rbErr := c.rollback(ctx, plan, applied); rbErr != nil {
				return ReservationResult{}, rbErr
			}
			return ReservationResult{
				FailingProductID: d.ProductID,
				Reason:           ReasonConcurrencyExhausted,
			}, nil

		default:
			// Storage ошибка на форвардном пути — откатываем то, что успели
			c.logger.Error("reservation step failed",
				zap.Error(err),
				zap.String("reservation_id", plan.ReservationID),
				zap.String("product_id", d.ProductID),
			)
			if rbErr := c.rollback(ctx, plan, applied); rbErr != nil {
				return ReservationResult{}, rbErr
			}
			return ReservationResult{}, fmt.Errorf("apply delta for product %s: %w", d.ProductID, err)
		}
	}

	return ReservationResult{
		Committed:     true,
		AppliedDeltas: applied,
	}, nil
}

// applyStep выполняет одно списание: чтение версии + условная запись,
// с повтором по конфликту версий до stepRetries раз
func (c *Coordinator) applyStep(ctx context.Context, storeID string, d LineDelta) error {
	var lastErr error
	for attempt := 1; attempt <= c.stepRetries; attempt++ {
		rec, err := c.ledger.Read(ctx, storeID, d.ProductID)
		if err != nil {
			return err
		}

		_, err = c.ledger.ApplyDelta(ctx, storeID, d.ProductID, -d.Quantity, rec.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		// Другой писатель успел между чтением и записью — перечитываем и повторяем
		lastErr = err
	}
	return fmt.Errorf("%w: %v", errStepRetriesExhausted, lastErr)
}

// rollback возвращает уже применённые дельты в обратном порядке
// Возвраты — положительные дельты: по остатку не падают, конфликт версий
// повторяется до rollbackRetries раз на дельту
func (c *Coordinator) rollback(ctx context.Context, plan ReservationPlan, applied []LineDelta) error {
	for i := len(applied) - 1; i >= 0; i-- {
		d := applied[i]
		if err := c.creditStep(ctx, plan.StoreID, d); err != nil {
			// Откат не доведён: дельты applied[:i+1] всё ещё на леджере
			remaining := make([]LineDelta, i+1)
			copy(remaining, applied[:i+1])
			c.logger.Error("local rollback incomplete",
				zap.Error(err),
				zap.String("reservation_id", plan.ReservationID),
				zap.Int("unreversed", len(remaining)),
			)
			return &UnreversedError{
				ReservationID: plan.ReservationID,
				Remaining:     remaining,
				Err:           err,
			}
		}
	}
	return nil
}

func (c *Coordinator) creditStep(ctx context.Context, storeID string, d LineDelta) error {
	var lastErr error
	for attempt := 1; attempt <= c.rollbackRetries; attempt++ {
		rec, err := c.ledger.Read(ctx, storeID, d.ProductID)
		if err != nil {
			return err
		}

		_, err = c.ledger.ApplyDelta(ctx, storeID, d.ProductID, d.Quantity, rec.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("rollback credit retries exhausted: %w", lastErr)
}
