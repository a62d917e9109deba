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

const (
	// defaultMaxAttempts — retry budget компенсации, после него exhausted + алерт
	defaultMaxAttempts = 5
	// defaultBackoffBase — базовый backoff повторов по конфликту версий
	defaultBackoffBase = 100 * time.Millisecond
	// creditConflictRetries — повторы одной кредитной дельты по конфликту версий
	// в рамках одной попытки Reconcile
	creditConflictRetries = 5
)

// CompensationEngine гарантирует, что каждое закоммиченное резервирование,
// не ставшее заказом, будет рано или поздно отменено.
// Единственный компонент, которому разрешено реверсировать закоммиченный план
type CompensationEngine struct {
	logger      *zap.Logger
	ledger      repository.StockLedger
	repo        repository.CompensationRepository
	alerts      AlertPublisher
	sleeper     Sleeper
	maxAttempts int
	backoffBase time.Duration
}

// NewCompensationEngine создаёт движок компенсаций с дефолтными бюджетами
// alerts может быть nil — алерты тогда остаются только в логах
func NewCompensationEngine(
	logger *zap.Logger,
	ledger repository.StockLedger,
	repo repository.CompensationRepository,
	alerts AlertPublisher,
) *CompensationEngine {
	return &CompensationEngine{
		logger:      logger,
		ledger:      ledger,
		repo:        repo,
		alerts:      alerts,
		sleeper:     &DefaultSleeper{},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
	}
}

// NewCompensationEngineWithSleeper создаёт движок с кастомным sleeper (для тестов)
func NewCompensationEngineWithSleeper(
	logger *zap.Logger,
	ledger repository.StockLedger,
	repo repository.CompensationRepository,
	alerts AlertPublisher,
	sleeper Sleeper,
) *CompensationEngine {
	e := NewCompensationEngine(logger, ledger, repo, alerts)
	e.sleeper = sleeper
	return e
}

// Reconcile применяет обратные дельты записи и доводит её до терминального статуса.
// Идемпотентен: completed/exhausted записи — no-op; внутри одной записи каждая
// дельта после применения помечается Applied и персистится, поэтому повторный
// запуск (sweep с нескольких инстансов, retry после падения) не вернёт сток дважды
func (e *CompensationEngine) Reconcile(ctx context.Context, rec repository.CompensationRecord) error {
	if rec.Status == repository.CompensationStatusCompleted ||
		rec.Status == repository.CompensationStatusExhausted {
		return nil
	}

	rec.Attempts++
	e.logger.Info("reconciling compensation",
		zap.String("reservation_id", rec.ReservationID),
		zap.String("store_id", rec.StoreID),
		zap.Int("attempt", rec.Attempts),
	)

	var stepErr error
	for i := range rec.Deltas {
		d := &rec.Deltas[i]
		if d.Applied {
			continue
		}

		if err := e.creditWithBackoff(ctx, rec.StoreID, d.ProductID, d.Quantity); err != nil {
			stepErr = fmt.Errorf("credit product %s: %w", d.ProductID, err)
			break
		}

		d.Applied = true
		// Персистим прогресс после каждой дельты; если Update упал, прерываемся —
		// применённая, но не зафиксированная дельта лучше, чем продолжать
		// наращивать незафиксированный прогресс
		if err := e.repo.Update(ctx, rec); err != nil {
			stepErr = fmt.Errorf("persist compensation progress: %w", err)
			break
		}
	}

	if stepErr == nil {
		rec.Status = repository.CompensationStatusCompleted
		rec.LastError = ""
		if err := e.repo.Update(ctx, rec); err != nil {
			e.logger.Error("failed to mark compensation completed",
				zap.Error(err),
				zap.String("reservation_id", rec.ReservationID),
			)
			return err
		}
		e.logger.Info("compensation completed",
			zap.String("reservation_id", rec.ReservationID),
			zap.Int("attempts", rec.Attempts),
		)
		return nil
	}

	rec.LastError = stepErr.Error()

	if rec.Attempts >= e.maxAttempts {
		rec.Status = repository.CompensationStatusExhausted
		if err := e.repo.Update(ctx, rec); err != nil {
			e.logger.Error("failed to mark compensation exhausted",
				zap.Error(err),
				zap.String("reservation_id", rec.ReservationID),
			)
		}
		e.logger.Error("compensation exhausted, stock is out of sync until operator intervenes",
			zap.String("reservation_id", rec.ReservationID),
			zap.String("store_id", rec.StoreID),
			zap.Int("attempts", rec.Attempts),
			zap.String("last_error", rec.LastError),
		)
		e.publishExhaustedAlert(ctx, rec)
		return stepErr
	}

	if err := e.repo.Update(ctx, rec); err != nil {
		e.logger.Error("failed to persist compensation attempt",
			zap.Error(err),
			zap.String("reservation_id", rec.ReservationID),
		)
	}
	return stepErr
}

// creditWithBackoff применяет одну положительную дельту
// Кредит не может упасть по остатку, только по конфликту версий —
// тот повторяется с экспоненциальным backoff
func (e *CompensationEngine) creditWithBackoff(ctx context.Context, storeID, productID string, quantity int32) error {
	var lastErr error
	backoff := e.backoffBase

	for attempt := 1; attempt <= creditConflictRetries; attempt++ {
		rec, err := e.ledger.Read(ctx, storeID, productID)
		if err != nil {
			return err
		}

		_, err = e.ledger.ApplyDelta(ctx, storeID, productID, quantity, rec.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}

		lastErr = err
		if attempt < creditConflictRetries {
			if err := e.sleeper.Sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return lastErr
}

// publishExhaustedAlert отправляет операторский алерт fire-and-forget:
// ошибка публикации логируется, но не влияет на исход Reconcile
func (e *CompensationEngine) publishExhaustedAlert(ctx context.Context, rec repository.CompensationRecord) {
	if e.alerts == nil {
		return
	}

	event := CompensationExhaustedEvent{
		EventID:       uuid.New().String(),
		ReservationID: rec.ReservationID,
		StoreID:       rec.StoreID,
		Attempts:      rec.Attempts,
		LastError:     rec.LastError,
		OccurredAt:    time.Now().UTC(),
	}
	if err := e.alerts.PublishCompensationExhausted(ctx, event); err != nil {
		e.logger.Error("failed to publish compensation exhausted alert",
			zap.Error(err),
			zap.String("reservation_id", rec.ReservationID),
		)
	}
}
