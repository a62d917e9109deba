package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

// StockDocument представляет документ в коллекции stock
type StockDocument struct {
	StoreID   string    `bson:"store_id"`
	ProductID string    `bson:"product_id"`
	Available int32     `bson:"available"`
	Reserved  int32     `bson:"reserved"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// StockLedger реализует repository.StockLedger используя MongoDB
// Леджеру достаточно single-key conditional write: условный FindOneAndUpdate
// по (store_id, product_id, version) — мультидокументных транзакций не требуется
type StockLedger struct {
	col *mongo.Collection
}

// NewStockLedger создаёт новый MongoDB леджер
// Создаёт уникальный составной индекс (store_id, product_id) при инициализации
func NewStockLedger(client *mongo.Client, dbName string) *StockLedger {
	col := client.Database(dbName).Collection("stock")

	indexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "store_id", Value: 1},
			{Key: "product_id", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Если индекс уже существует — игнорируем ошибку
	_, _ = col.Indexes().CreateOne(ctx, indexModel)

	return &StockLedger{col: col}
}

// Read получает StockRecord из MongoDB
// Возвращает ErrNotFound, если записи нет
func (l *StockLedger) Read(ctx context.Context, storeID, productID string) (repository.StockRecord, error) {
	var doc StockDocument
	err := l.col.FindOne(ctx, bson.M{"store_id": storeID, "product_id": productID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.StockRecord{}, repository.ErrNotFound
		}
		return repository.StockRecord{}, err
	}

	return docToRecord(doc), nil
}

// ApplyDelta условно изменяет остаток атомарно
// Фильтр требует совпадения версии и, для списаний, достаточного остатка —
// при провале любого условия документ не мутируется
func (l *StockLedger) ApplyDelta(ctx context.Context, storeID, productID string, delta int32, expectedVersion int64) (int64, error) {
	filter := bson.M{
		"store_id":   storeID,
		"product_id": productID,
		"version":    expectedVersion,
	}
	if delta < 0 {
		// available >= -delta, иначе списание увело бы остаток ниже нуля
		filter["available"] = bson.M{"$gte": -delta}
	}

	update := bson.M{
		"$inc": bson.M{
			"available": delta,
			"reserved":  -delta,
			"version":   1,
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated StockDocument
	err := l.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&updated)
	if err == nil {
		return updated.Version, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, err
	}

	// Условная запись не прошла — классифицируем причину повторным чтением:
	// нет документа / ушла версия / не хватило остатка
	var current StockDocument
	err = l.col.FindOne(ctx, bson.M{"store_id": storeID, "product_id": productID}).Decode(&current)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, repository.ErrNotFound
		}
		return 0, err
	}
	if current.Version != expectedVersion {
		return 0, repository.ErrVersionConflict
	}
	return 0, repository.ErrInsufficientStock
}

// Create создаёт запись при первом поступлении товара
// Дубликат ключа отклоняется уникальным индексом
func (l *StockLedger) Create(ctx context.Context, rec repository.StockRecord) error {
	if rec.Version == 0 {
		rec.Version = 1
	}

	doc := StockDocument{
		StoreID:   rec.StoreID,
		ProductID: rec.ProductID,
		Available: rec.Available,
		Reserved:  rec.Reserved,
		Version:   rec.Version,
		UpdatedAt: time.Now(),
	}

	_, err := l.col.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return repository.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// List возвращает все записи магазина, отсортированные по product_id
func (l *StockLedger) List(ctx context.Context, storeID string) ([]repository.StockRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "product_id", Value: 1}})
	cursor, err := l.col.Find(ctx, bson.M{"store_id": storeID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]repository.StockRecord, 0)
	for cursor.Next(ctx) {
		var doc StockDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, docToRecord(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func docToRecord(doc StockDocument) repository.StockRecord {
	return repository.StockRecord{
		StoreID:   doc.StoreID,
		ProductID: doc.ProductID,
		Available: doc.Available,
		Reserved:  doc.Reserved,
		Version:   doc.Version,
		UpdatedAt: doc.UpdatedAt,
	}
}
