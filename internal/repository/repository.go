package repository

import (
	"context"
	"errors"
	"time"
)

// StockRecord представляет остаток товара в магазине
// Version монотонно растёт на каждую мутацию — основа optimistic concurrency:
// писатель читает версию и пишет условно, при несовпадении повторяет попытку
type StockRecord struct {
	StoreID   string
	ProductID string
	// Available — доступный остаток, всегда >= 0
	Available int32
	// Reserved — информационный счётчик зарезервированного (не участвует в проверках)
	Reserved  int32
	Version   int64
	UpdatedAt time.Time
}

// Order представляет доменную модель заказа
// После создания неизменяем, кроме перехода статуса в cancelled
type Order struct {
	ID          string
	StoreID     string
	CustomerRef string
	Status      string
	// ReservationID связывает заказ с планом резервирования, который списал его сток
	ReservationID string
	Items         []OrderItem
	TotalCents    int64
	CreatedAt     time.Time
}

// OrderItem представляет позицию заказа
// Цена фиксируется на момент заказа (снимок, не живая ссылка на каталог)
type OrderItem struct {
	ProductID      string
	Quantity       int32
	UnitPriceCents int64
}

// Статусы заказа
const (
	OrderStatusPlaced    = "placed"
	OrderStatusCancelled = "cancelled"
)

// CompensationRecord фиксирует обязательство вернуть уже списанный сток,
// если заказ не был сохранён после успешного резервирования
type CompensationRecord struct {
	ReservationID string
	StoreID       string
	// Deltas — обратные дельты (положительные количества к возврату)
	Deltas    []CompensationDelta
	Attempts  int
	LastError string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CompensationDelta — одна обратная дельта
// Applied выставляется после успешного применения, чтобы повторный запуск
// Reconcile не вернул сток дважды
type CompensationDelta struct {
	ProductID string
	Quantity  int32
	Applied   bool
}

// Статусы компенсации
const (
	CompensationStatusPending   = "pending"
	CompensationStatusCompleted = "completed"
	CompensationStatusExhausted = "exhausted"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=StockLedger --dir=. --output=./mocks --outpkg=mocks

// StockLedger определяет интерфейс леджера остатков — единственный владелец
// мутаций StockRecord. Все записи условны по версии (single-key conditional write),
// мультиключевых транзакций от хранилища не требуется
type StockLedger interface {
	// Read возвращает текущий StockRecord
	// Возвращает ErrNotFound, если записи нет
	Read(ctx context.Context, storeID, productID string) (StockRecord, error)

	// ApplyDelta условно изменяет Available на delta (отрицательная — резерв,
	// положительная — возврат/компенсация) и возвращает новую версию.
	// Возвращает ErrVersionConflict, если expectedVersion не совпала с текущей;
	// ErrInsufficientStock, если отрицательная delta увела бы Available ниже нуля
	// (мутация при этом не происходит); ErrNotFound, если записи нет.
	// При успехе Version увеличивается ровно на 1
	ApplyDelta(ctx context.Context, storeID, productID string, delta int32, expectedVersion int64) (int64, error)

	// Create создаёт запись при первом поступлении товара
	// Возвращает ErrAlreadyExists, если запись уже есть
	Create(ctx context.Context, rec StockRecord) error

	// List возвращает все записи магазина (админская выборка)
	List(ctx context.Context, storeID string) ([]StockRecord, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=OrderRepository --dir=. --output=./mocks --outpkg=mocks

// OrderRepository определяет интерфейс хранилища заказов
// Никакой собственной consistency-логики: обычный durable store
type OrderRepository interface {
	// Create сохраняет новый заказ
	// Возвращает ErrAlreadyExists при дубликате (store_id, reservation_id) —
	// на этом строится идемпотентность повторных попыток
	Create(ctx context.Context, order Order) error

	// GetByID возвращает заказ по (store_id, order_id)
	// Возвращает ErrNotFound, если заказа нет
	GetByID(ctx context.Context, storeID, orderID string) (Order, error)

	// GetByReservationID возвращает заказ по (store_id, reservation_id)
	// Используется dedup-проверкой оркестратора перед новым резервированием
	GetByReservationID(ctx context.Context, storeID, reservationID string) (Order, error)

	// UpdateStatus переводит заказ в новый статус (единственная мутация — cancelled)
	UpdateStatus(ctx context.Context, storeID, orderID, status string) error
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.5 --name=CompensationRepository --dir=. --output=./mocks --outpkg=mocks

// CompensationRepository определяет интерфейс хранилища компенсаций
// Мутирует записи только CompensationEngine
type CompensationRepository interface {
	// Create сохраняет новую компенсацию (идемпотентно по reservation_id:
	// повторный Create той же записи возвращает nil, не дубликат)
	Create(ctx context.Context, rec CompensationRecord) error

	// Get возвращает компенсацию по reservation_id
	// Возвращает ErrNotFound, если записи нет
	Get(ctx context.Context, reservationID string) (CompensationRecord, error)

	// Update перезаписывает attempts, deltas, last_error, status
	Update(ctx context.Context, rec CompensationRecord) error

	// ListPending возвращает pending записи старше olderThan, максимум limit
	// Используется фоновым sweep-ом
	ListPending(ctx context.Context, olderThan time.Time, limit int) ([]CompensationRecord, error)
}

// ErrNotFound возвращается, когда запись не найдена в хранилище
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists возвращается при попытке создать уже существующую запись
var ErrAlreadyExists = errors.New("record already exists")

// ErrVersionConflict возвращается, когда условная запись не прошла по версии
// (другой писатель успел между чтением и записью) — нужно перечитать и повторить
var ErrVersionConflict = errors.New("stock version conflict")

// ErrInsufficientStock возвращается, когда списание увело бы остаток ниже нуля
var ErrInsufficientStock = errors.New("insufficient stock")
