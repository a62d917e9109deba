package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// StockLedger реализует repository.StockLedger используя in-memory хранилище
// Используется для разработки и unit-тестов
// В production заменяется реализацией на MongoDB
type StockLedger struct {
	mu      sync.Mutex
	records map[ledgerKey]repository.StockRecord
}

type ledgerKey struct {
	storeID   string
	productID string
}

// NewStockLedger создаёт новый in-memory леджер
func NewStockLedger() *StockLedger {
	return &StockLedger{
		records: make(map[ledgerKey]repository.StockRecord),
	}
}

// Read получает StockRecord из памяти
func (l *StockLedger) Read(ctx context.Context, storeID, productID string) (repository.StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, exists := l.records[ledgerKey{storeID, productID}]
	if !exists {
		return repository.StockRecord{}, repository.ErrNotFound
	}

	return rec, nil
}

// ApplyDelta условно изменяет остаток — та же семантика, что у MongoDB реализации:
// проверка версии, затем проверка достаточности, мутация только при успехе обеих
func (l *StockLedger) ApplyDelta(ctx context.Context, storeID, productID string, delta int32, expectedVersion int64) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{storeID, productID}
	rec, exists := l.records[key]
	if !exists {
		return 0, repository.ErrNotFound
	}

	if rec.Version != expectedVersion {
		return 0, repository.ErrVersionConflict
	}

	if rec.Available+delta < 0 {
		// Остаток не трогаем — отказ атомарен
		return 0, repository.ErrInsufficientStock
	}

	rec.Available += delta
	rec.Reserved -= delta
	rec.Version++
	rec.UpdatedAt = time.Now()
	l.records[key] = rec

	return rec.Version, nil
}

// Create создаёт запись при первом поступлении товара
func (l *StockLedger) Create(ctx context.Context, rec repository.StockRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{rec.StoreID, rec.ProductID}
	if _, exists := l.records[key]; exists {
		return repository.ErrAlreadyExists
	}

	if rec.Version == 0 {
		rec.Version = 1
	}
	rec.UpdatedAt = time.Now()
	l.records[key] = rec
	return nil
}

// List возвращает все записи магазина, отсортированные по product_id —
// тот же порядок, что у MongoDB реализации
func (l *StockLedger) List(ctx context.Context, storeID string) ([]repository.StockRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]repository.StockRecord, 0)
	for key, rec := range l.records {
		if key.storeID == storeID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}
