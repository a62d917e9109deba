package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// StockAdmin — админская обвязка над леджером: первичное оприходование
// и read-only выборка. Мутации остатков после создания идут только через
// Coordinator и CompensationEngine
type StockAdmin struct {
	logger *zap.Logger
	ledger repository.StockLedger
	now    func() time.Time
}

// NewStockAdmin создаёт админский сервис леджера
func NewStockAdmin(logger *zap.Logger, ledger repository.StockLedger) *StockAdmin {
	return &StockAdmin{
		logger: logger,
		ledger: ledger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateStock создаёт запись остатка при первом поступлении товара
func (s *StockAdmin) CreateStock(ctx context.Context, storeID, productID string, available int32) (repository.StockRecord, error) {
	if storeID == "" {
		return repository.StockRecord{}, fmt.Errorf("%w: store id is required", ErrInvalidRequest)
	}
	if productID == "" {
		return repository.StockRecord{}, fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}
	if available < 0 {
		return repository.StockRecord{}, fmt.Errorf("%w: available must not be negative", ErrInvalidRequest)
	}

	rec := repository.StockRecord{
		StoreID:   storeID,
		ProductID: productID,
		Available: available,
		Version:   1,
		UpdatedAt: s.now(),
	}
	if err := s.ledger.Create(ctx, rec); err != nil {
		return repository.StockRecord{}, err
	}

	s.logger.Info("stock record created",
		zap.String("store_id", storeID),
		zap.String("product_id", productID),
		zap.Int32("available", available),
	)
	return rec, nil
}

// ListStock возвращает все остатки магазина
func (s *StockAdmin) ListStock(ctx context.Context, storeID string) ([]repository.StockRecord, error) {
	if storeID == "" {
		return nil, fmt.Errorf("%w: store id is required", ErrInvalidRequest)
	}
	return s.ledger.List(ctx, storeID)
}
