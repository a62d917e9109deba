package service

import (
	"context"
	"time"
)

// OrderPlacedEvent — событие успешного размещения заказа
type OrderPlacedEvent struct {
	EventID       string
	OrderID       string
	StoreID       string
	CustomerRef   string
	ReservationID string
	TotalCents    int64
	OccurredAt    time.Time
}

// CompensationExhaustedEvent — алерт: компенсация исчерпала retry budget,
// сток durably разошёлся с реальностью, требуется вмешательство оператора
type CompensationExhaustedEvent struct {
	EventID       string
	ReservationID string
	StoreID       string
	Attempts      int
	LastError     string
	OccurredAt    time.Time
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OrderEventPublisher --dir=. --output=./mocks --outpkg=mocks

// OrderEventPublisher определяет интерфейс публикации событий заказов
// Использует доменные типы — service не знает о Kafka
type OrderEventPublisher interface {
	// PublishOrderPlaced публикует событие размещения заказа (fire-and-forget)
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=AlertPublisher --dir=. --output=./mocks --outpkg=mocks

// AlertPublisher определяет интерфейс отправки операторских алертов
// Подтверждение доставки не ожидается (fire-and-forget)
type AlertPublisher interface {
	// PublishCompensationExhausted отправляет алерт об исчерпанной компенсации
	PublishCompensationExhausted(ctx context.Context, event CompensationExhaustedEvent) error
}

// Sleeper определяет интерфейс для задержки (используется для тестирования backoff)
type Sleeper interface {
	// Sleep выполняет задержку на указанное время или до отмены контекста
	Sleep(ctx context.Context, d time.Duration) error
}

// DefaultSleeper реализует Sleeper используя time.After
type DefaultSleeper struct{}

// Sleep выполняет задержку используя time.After
func (s *DefaultSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
