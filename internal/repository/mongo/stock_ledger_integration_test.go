//go:build integration

package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

func setupMongo(t *testing.T, ctx context.Context) *mongo.Client {
	t.Helper()

	// Поднимаем MongoDB контейнер
	mongoC, err := mongodb.RunContainer(ctx,
		tc.WithImage("mongo:6"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, mongoC.Terminate(context.Background())) })

	mongoURI, err := mongoC.ConnectionString(ctx)
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(mongoURI))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	// Ждём готовности MongoDB (ping с retry)
	var pingErr error
	for i := 0; i < 20; i++ {
		pingErr = client.Database("admin").RunCommand(ctx, bson.D{{Key: "ping", Value: 1}}).Err()
		if pingErr == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, pingErr, "MongoDB did not become ready in time")

	return client
}

func TestStockLedger_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := setupMongo(t, ctx)
	ledger := NewStockLedger(client, "stock_test")

	require.NoError(t, ledger.Create(ctx, repository.StockRecord{
		StoreID:   "store-1",
		ProductID: "p-1",
		Available: 10,
		Version:   1,
	}))

	t.Run("duplicate create is rejected", func(t *testing.T) {
		err := ledger.Create(ctx, repository.StockRecord{
			StoreID:   "store-1",
			ProductID: "p-1",
			Available: 99,
			Version:   1,
		})
		require.True(t, errors.Is(err, repository.ErrAlreadyExists))
	})

	t.Run("conditional debit and credit", func(t *testing.T) {
		version, err := ledger.ApplyDelta(ctx, "store-1", "p-1", -4, 1)
		require.NoError(t, err)
		require.Equal(t, int64(2), version)

		rec, err := ledger.Read(ctx, "store-1", "p-1")
		require.NoError(t, err)
		require.Equal(t, int32(6), rec.Available)
		require.Equal(t, int32(4), rec.Reserved)

		version, err = ledger.ApplyDelta(ctx, "store-1", "p-1", 4, 2)
		require.NoError(t, err)
		require.Equal(t, int64(3), version)

		rec, err = ledger.Read(ctx, "store-1", "p-1")
		require.NoError(t, err)
		require.Equal(t, int32(10), rec.Available)
		require.Equal(t, int32(0), rec.Reserved)
	})

	t.Run("stale version is classified as conflict", func(t *testing.T) {
		_, err := ledger.ApplyDelta(ctx, "store-1", "p-1", -1, 1)
		require.True(t, errors.Is(err, repository.ErrVersionConflict), "got: %v", err)
	})

	t.Run("overdraft is classified as insufficient stock", func(t *testing.T) {
		rec, err := ledger.Read(ctx, "store-1", "p-1")
		require.NoError(t, err)

		_, err = ledger.ApplyDelta(ctx, "store-1", "p-1", -(rec.Available + 1), rec.Version)
		require.True(t, errors.Is(err, repository.ErrInsufficientStock), "got: %v", err)

		// Документ не изменился
		after, err := ledger.Read(ctx, "store-1", "p-1")
		require.NoError(t, err)
		require.Equal(t, rec.Available, after.Available)
		require.Equal(t, rec.Version, after.Version)
	})

	t.Run("missing product", func(t *testing.T) {
		_, err := ledger.ApplyDelta(ctx, "store-1", "p-missing", -1, 1)
		require.True(t, errors.Is(err, repository.ErrNotFound), "got: %v", err)

		_, err = ledger.Read(ctx, "store-1", "p-missing")
		require.True(t, errors.Is(err, repository.ErrNotFound))
	})

	t.Run("list is sorted by product id", func(t *testing.T) {
		require.NoError(t, ledger.Create(ctx, repository.StockRecord{
			StoreID: "store-1", ProductID: "p-0", Available: 1, Version: 1,
		}))

		records, err := ledger.List(ctx, "store-1")
		require.NoError(t, err)
		require.Len(t, records, 2)
		require.Equal(t, "p-0", records[0].ProductID)
		require.Equal(t, "p-1", records[1].ProductID)
	})
}

func TestCompensationRepository_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := setupMongo(t, ctx)
	repo := NewCompensationRepository(client, "stock_test")

	rec := repository.CompensationRecord{
		ReservationID: "res-1",
		StoreID:       "store-1",
		Deltas: []repository.CompensationDelta{
			{ProductID: "p-1", Quantity: 3},
			{ProductID: "p-2", Quantity: 1},
		},
		Status:    repository.CompensationStatusPending,
		CreatedAt: time.Now().UTC().Add(-2 * time.Minute),
		UpdatedAt: time.Now().UTC(),
	}

	t.Run("create is idempotent by reservation id", func(t *testing.T) {
		require.NoError(t, repo.Create(ctx, rec))
		require.NoError(t, repo.Create(ctx, rec))

		got, err := repo.Get(ctx, "res-1")
		require.NoError(t, err)
		require.Len(t, got.Deltas, 2)
		require.Equal(t, repository.CompensationStatusPending, got.Status)
	})

	t.Run("update persists per-delta progress", func(t *testing.T) {
		got, err := repo.Get(ctx, "res-1")
		require.NoError(t, err)

		got.Attempts = 1
		got.Deltas[0].Applied = true
		got.LastError = "credit p-2: ledger down"
		require.NoError(t, repo.Update(ctx, got))

		reread, err := repo.Get(ctx, "res-1")
		require.NoError(t, err)
		require.Equal(t, 1, reread.Attempts)
		require.True(t, reread.Deltas[0].Applied)
		require.False(t, reread.Deltas[1].Applied)
		require.Equal(t, "credit p-2: ledger down", reread.LastError)
	})

	t.Run("list pending honors age and status", func(t *testing.T) {
		pending, err := repo.ListPending(ctx, time.Now().UTC().Add(-time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		require.Equal(t, "res-1", pending[0].ReservationID)

		// Завершённая запись выпадает из выборки
		done, err := repo.Get(ctx, "res-1")
		require.NoError(t, err)
		done.Status = repository.CompensationStatusCompleted
		require.NoError(t, repo.Update(ctx, done))

		pending, err = repo.ListPending(ctx, time.Now().UTC(), 10)
		require.NoError(t, err)
		require.Empty(t, pending)
	})

	t.Run("get missing record", func(t *testing.T) {
		_, err := repo.Get(ctx, "res-missing")
		require.True(t, errors.Is(err, repository.ErrNotFound))
	})
}
