//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	_ "github.com/jackc/pgx/v5/stdlib" //для goose миграций

	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository"
)

func TestOrderRepository_Integration(t *testing.T) {
	ctx := context.Background()

	// Поднимаем PostgreSQL контейнер через testcontainers
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		postgres.WithDatabase("orders"),
		postgres.WithUsername("orders_user"),
		postgres.WithPassword("orders_password"),
	)
	require.NoError(t, err)
	defer func() {
		err := postgresContainer.Terminate(ctx)
		require.NoError(t, err)
	}()

	// Получаем DSN из контейнера
	dsn, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Открываем *sql.DB через pgx stdlib для goose миграций
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer db.Close()

	// Ждём готовности БД через ping с retry
	var pingErr error
	for i := 0; i < 10; i++ {
		pingErr = db.PingContext(ctx)
		if pingErr == nil {
			break
		}
		time.Sleep(1 * time.Second)
	}
	require.NoError(t, pingErr, "Failed to ping database after retries")

	// Вычисляем путь к migrations относительно текущего файла
	_, filename, _, ok := runtime.Caller(0)
	require.True(t, ok, "Failed to get current file path")

	// Текущий файл: internal/repository/postgres/order_repo_integration_test.go
	// Нужно получить: migrations в корне модуля
	testDir := filepath.Dir(filename)
	repoDir := filepath.Dir(testDir)       // internal/repository
	internalDir := filepath.Dir(repoDir)   // internal
	moduleDir := filepath.Dir(internalDir) // корень модуля
	migrationsDir := filepath.Join(moduleDir, "migrations")

	// Накатываем миграции через goose
	err = goose.UpContext(ctx, db, migrationsDir)
	require.NoError(t, err, "Failed to run migrations")

	// Создаём pgxpool для repository
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	repo := NewOrderRepository(pool)

	t.Run("Create and GetByID", func(t *testing.T) {
		order := repository.Order{
			ID:            "order-1",
			StoreID:       "store-1",
			CustomerRef:   "customer-1",
			Status:        repository.OrderStatusPlaced,
			ReservationID: "res-1",
			Items: []repository.OrderItem{
				{ProductID: "product-1", Quantity: 2, UnitPriceCents: 1500},
				{ProductID: "product-2", Quantity: 1, UnitPriceCents: 700},
			},
			TotalCents: 3700,
		}

		err := repo.Create(ctx, order)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, "store-1", "order-1")
		require.NoError(t, err)

		require.Equal(t, order.ID, got.ID)
		require.Equal(t, order.StoreID, got.StoreID)
		require.Equal(t, order.CustomerRef, got.CustomerRef)
		require.Equal(t, order.Status, got.Status)
		require.Equal(t, order.ReservationID, got.ReservationID)
		require.Equal(t, order.TotalCents, got.TotalCents)

		require.Len(t, got.Items, 2)
		require.Equal(t, "product-1", got.Items[0].ProductID)
		require.Equal(t, int32(2), got.Items[0].Quantity)
		require.Equal(t, int64(1500), got.Items[0].UnitPriceCents)
	})

	t.Run("GetByReservationID", func(t *testing.T) {
		got, err := repo.GetByReservationID(ctx, "store-1", "res-1")
		require.NoError(t, err)
		require.Equal(t, "order-1", got.ID)
	})

	t.Run("duplicate reservation is rejected", func(t *testing.T) {
		// Тот же (store_id, reservation_id) — уникальный индекс должен отбить
		dup := repository.Order{
			ID:            "order-2",
			StoreID:       "store-1",
			CustomerRef:   "customer-2",
			Status:        repository.OrderStatusPlaced,
			ReservationID: "res-1",
			TotalCents:    100,
		}
		err := repo.Create(ctx, dup)
		require.Error(t, err)
		require.True(t, errors.Is(err, repository.ErrAlreadyExists), "Expected ErrAlreadyExists, got: %v", err)

		// Та же резервация в другом магазине — допустима
		otherStore := dup
		otherStore.ID = "order-3"
		otherStore.StoreID = "store-2"
		require.NoError(t, repo.Create(ctx, otherStore))
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "store-1", "order-1", repository.OrderStatusCancelled)
		require.NoError(t, err)

		got, err := repo.GetByID(ctx, "store-1", "order-1")
		require.NoError(t, err)
		require.Equal(t, repository.OrderStatusCancelled, got.Status)
	})

	t.Run("UpdateStatus_NotFound", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, "store-1", "missing", repository.OrderStatusCancelled)
		require.True(t, errors.Is(err, repository.ErrNotFound))
	})

	t.Run("GetByID_NotFound", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "store-1", "missing")
		require.Error(t, err)
		require.True(t, errors.Is(err, repository.ErrNotFound), "Expected ErrNotFound, got: %v", err)
	})
}
