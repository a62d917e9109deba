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

// CompensationDocument представляет документ в коллекции compensations
type CompensationDocument struct {
	ReservationID string                      `bson:"reservation_id"`
	StoreID       string                      `bson:"store_id"`
	Deltas        []CompensationDeltaDocument `bson:"deltas"`
	Attempts      int                         `bson:"attempts"`
	LastError     string                      `bson:"last_error"`
	Status        string                      `bson:"status"`
	CreatedAt     time.Time                   `bson:"created_at"`
	UpdatedAt     time.Time                   `bson:"updated_at"`
}

// CompensationDeltaDocument — одна обратная дельта в документе
type CompensationDeltaDocument struct {
	ProductID string `bson:"product_id"`
	Quantity  int32  `bson:"quantity"`
	Applied   bool   `bson:"applied"`
}

// CompensationRepository реализует repository.CompensationRepository используя MongoDB
type CompensationRepository struct {
	col *mongo.Collection
}

// NewCompensationRepository создаёт новый MongoDB репозиторий компенсаций
// Создаёт уникальный индекс на reservation_id и индекс (status, created_at) для sweep-а
func NewCompensationRepository(client *mongo.Client, dbName string) *CompensationRepository {
	col := client.Database(dbName).Collection("compensations")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _ = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "reservation_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "created_at", Value: 1},
		},
	})

	return &CompensationRepository{col: col}
}

// Create сохраняет новую компенсацию
// Идемпотентен по reservation_id: дубликат ключа не считается ошибкой —
// повторная попытка после падения между записью и ответом безопасна
func (r *CompensationRepository) Create(ctx context.Context, rec repository.CompensationRecord) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	_, err := r.col.InsertOne(ctx, recordToDoc(rec))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		return err
	}
	return nil
}

// Get возвращает компенсацию по reservation_id
func (r *CompensationRepository) Get(ctx context.Context, reservationID string) (repository.CompensationRecord, error) {
	var doc CompensationDocument
	err := r.col.FindOne(ctx, bson.M{"reservation_id": reservationID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return repository.CompensationRecord{}, repository.ErrNotFound
		}
		return repository.CompensationRecord{}, err
	}

	return docToCompensation(doc), nil
}

// Update перезаписывает мутабельные поля записи
func (r *CompensationRepository) Update(ctx context.Context, rec repository.CompensationRecord) error {
	update := bson.M{
		"$set": bson.M{
			"deltas":     deltasToDocs(rec.Deltas),
			"attempts":   rec.Attempts,
			"last_error": rec.LastError,
			"status":     rec.Status,
			"updated_at": time.Now(),
		},
	}

	res, err := r.col.UpdateOne(ctx, bson.M{"reservation_id": rec.ReservationID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListPending возвращает pending записи старше olderThan, максимум limit
func (r *CompensationRepository) ListPending(ctx context.Context, olderThan time.Time, limit int) ([]repository.CompensationRecord, error) {
	filter := bson.M{
		"status":     repository.CompensationStatusPending,
		"created_at": bson.M{"$lte": olderThan},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make([]repository.CompensationRecord, 0)
	for cursor.Next(ctx) {
		var doc CompensationDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, docToCompensation(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func recordToDoc(rec repository.CompensationRecord) CompensationDocument {
	return CompensationDocument{
		ReservationID: rec.ReservationID,
		StoreID:       rec.StoreID,
		Deltas:        deltasToDocs(rec.Deltas),
		Attempts:      rec.Attempts,
		LastError:     rec.LastError,
		Status:        rec.Status,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
}

func deltasToDocs(deltas []repository.CompensationDelta) []CompensationDeltaDocument {
	docs := make([]CompensationDeltaDocument, 0, len(deltas))
	for _, d := range deltas {
		docs = append(docs, CompensationDeltaDocument{
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			Applied:   d.Applied,
		})
	}
	return docs
}

func docToCompensation(doc CompensationDocument) repository.CompensationRecord {
	deltas := make([]repository.CompensationDelta, 0, len(doc.Deltas))
	for _, d := range doc.Deltas {
		deltas = append(deltas, repository.CompensationDelta{
			ProductID: d.ProductID,
			Quantity:  d.Quantity,
			Applied:   d.Applied,
		})
	}
	return repository.CompensationRecord{
		ReservationID: doc.ReservationID,
		StoreID:       doc.StoreID,
		Deltas:        deltas,
		Attempts:      doc.Attempts,
		LastError:     doc.LastError,
		Status:        doc.Status,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
}
