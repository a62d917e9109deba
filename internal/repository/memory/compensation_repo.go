package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// CompensationRepository реализует repository.CompensationRepository в памяти
// Используется для разработки и unit-тестов
type CompensationRepository struct {
	mu      sync.Mutex
	records map[string]repository.CompensationRecord
}

// NewCompensationRepository создаёт новый in-memory репозиторий компенсаций
func NewCompensationRepository() *CompensationRepository {
	return &CompensationRepository{
		records: make(map[string]repository.CompensationRecord),
	}
}

// Create сохраняет новую компенсацию
// Идемпотентен по reservation_id: повторный Create существующей записи — no-op
func (r *CompensationRepository) Create(ctx context.Context, rec repository.CompensationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ReservationID]; exists {
		return nil
	}

	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	r.records[rec.ReservationID] = cloneRecord(rec)
	return nil
}

// Get возвращает компенсацию по reservation_id
func (r *CompensationRepository) Get(ctx context.Context, reservationID string) (repository.CompensationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[reservationID]
	if !exists {
		return repository.CompensationRecord{}, repository.ErrNotFound
	}

	return cloneRecord(rec), nil
}

// Update перезаписывает мутабельные поля записи
func (r *CompensationRepository) Update(ctx context.Context, rec repository.CompensationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ReservationID]; !exists {
		return repository.ErrNotFound
	}

	rec.UpdatedAt = time.Now()
	r.records[rec.ReservationID] = cloneRecord(rec)
	return nil
}

// ListPending возвращает pending записи старше olderThan, максимум limit
func (r *CompensationRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]repository.CompensationRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]repository.CompensationRecord, 0)
	for _, rec := range r.records {
		if rec.Status != repository.CompensationStatusPending {
			continue
		}
		if rec.CreatedAt.After(olderThan) {
			continue
		}
		out = append(out, cloneRecord(rec))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// cloneRecord копирует запись вместе со slice дельт,
// чтобы вызывающий код не мутировал хранилище через общий slice
func cloneRecord(rec repository.CompensationRecord) repository.CompensationRecord {
	deltas := make([]repository.CompensationDelta, len(rec.Deltas))
	copy(deltas, rec.Deltas)
	rec.Deltas = deltas
	return rec
}
