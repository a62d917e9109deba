package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// CompensationSweeper — фоновая страховка поверх inline-компенсации:
// периодически добирает pending записи, которые inline-проход не довёл
// до конца (упавший процесс, временно недоступный леджер)
type CompensationSweeper struct {
	logger    *zap.Logger
	engine    *CompensationEngine
	repo      repository.CompensationRepository
	batchSize int
	interval  time.Duration
	// grace — минимальный возраст записи для подбора: свежие записи ещё
	// может дорабатывать inline-проход, не толкаемся с ним
	grace time.Duration
}

// NewCompensationSweeper создаёт новый sweeper
func NewCompensationSweeper(
	logger *zap.Logger,
	engine *CompensationEngine,
	repo repository.CompensationRepository,
	batchSize int, //batchSize - количество записей, которые будут обработаны за один раз
	interval time.Duration, //interval - интервал между проходами
	grace time.Duration, //grace - минимальный возраст pending записи для подбора
) *CompensationSweeper {
	return &CompensationSweeper{
		logger:    logger,
		engine:    engine,
		repo:      repo,
		batchSize: batchSize,
		interval:  interval,
		grace:     grace,
	}
}

// Start запускает sweeper в фоновом режиме
func (s *CompensationSweeper) Start(ctx context.Context) error {
	s.logger.Info("starting compensation sweeper",
		zap.Int("batch_size", s.batchSize),
		zap.Duration("interval", s.interval),
		zap.Duration("grace", s.grace),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Обрабатываем сразу при старте: после рестарта процесса могли остаться
	// записи, ждущие с прошлой жизни
	if err := s.processBatch(ctx); err != nil {
		s.logger.Error("failed to process initial batch", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("compensation sweeper context cancelled, stopping")
			return nil
		case <-ticker.C:
			if err := s.processBatch(ctx); err != nil {
				s.logger.Error("failed to process batch", zap.Error(err))
			}
		}
	}
}

// processBatch обрабатывает батч pending компенсаций
func (s *CompensationSweeper) processBatch(ctx context.Context) error {
	// Проверяем контекст перед запросом к БД
	if ctx.Err() != nil {
		return ctx.Err()
	}

	olderThan := time.Now().UTC().Add(-s.grace)
	records, err := s.repo.ListPending(ctx, olderThan, s.batchSize)
	if err != nil {
		// Если контекст отменён, не логируем как ошибку
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to list pending compensations: %w", err)
	}

	if len(records) == 0 {
		return nil
	}

	s.logger.Debug("processing compensation batch",
		zap.Int("count", len(records)),
	)

	for _, rec := range records {
		// Проверяем контекст перед обработкой каждой записи
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.engine.Reconcile(ctx, rec); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("failed to reconcile compensation",
				zap.Error(err),
				zap.String("reservation_id", rec.ReservationID),
			)
			// Продолжаем обработку следующих записей
		}
	}

	return nil
}
