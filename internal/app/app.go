package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	platformlogging "github.com/dev-prakash/vyapaarai-order-saga/platform/logging"
	platformobservability "github.com/dev-prakash/vyapaarai-order-saga/platform/observability"
	platformshutdown "github.com/dev-prakash/vyapaarai-order-saga/platform/shutdown"

	httpapi "github.com/dev-prakash/vyapaarai-order-saga/internal/api/http"
	"github.com/dev-prakash/vyapaarai-order-saga/internal/config"
	eventkafka "github.com/dev-prakash/vyapaarai-order-saga/internal/event/kafka"
	mongorepo "github.com/dev-prakash/vyapaarai-order-saga/internal/repository/mongo"
	"github.com/dev-prakash/vyapaarai-order-saga/internal/repository/postgres"
	"github.com/dev-prakash/vyapaarai-order-saga/internal/service"
)

// App содержит все зависимости для запуска и корректного shutdown Order Saga Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	sweeper     *service.CompensationSweeper
	shutdownMgr *platformshutdown.Manager
	readiness   func() bool
	sweepCancel context.CancelFunc
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Order Saga Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "order-saga",
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Order Saga service", zap.String("http_addr", cfg.HTTPAddr))

	// Инициализируем OpenTelemetry (noop если выключено)
	otelShutdown, err := platformobservability.Init(context.Background(), platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           "order-saga",
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	// Подключаемся к MongoDB (леджер остатков + компенсации)
	logger.Info("Connecting to MongoDB")
	mongoCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mongoClient, err := mongo.Connect(mongoCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, err
	}
	if err := mongoClient.Ping(mongoCtx, nil); err != nil {
		mongoClient.Disconnect(mongoCtx)
		return nil, err
	}
	logger.Info("MongoDB connection established")

	// Подключаемся к PostgreSQL (заказы)
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		mongoClient.Disconnect(context.Background())
		return nil, err
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		mongoClient.Disconnect(context.Background())
		return nil, err
	}
	logger.Info("PostgreSQL connection established")

	// Функция readiness для health check: оба хранилища должны отвечать
	readiness := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			return false
		}
		if err := mongoClient.Ping(ctx, nil); err != nil {
			return false
		}
		return true
	}
	readiness() // Первая проверка
	logger.Info("Readiness check enabled")

	// Репозитории
	stockLedger := mongorepo.NewStockLedger(mongoClient, cfg.MongoDBName)
	compRepo := mongorepo.NewCompensationRepository(mongoClient, cfg.MongoDBName)
	orderRepo := postgres.NewOrderRepository(pool)

	// Kafka publishers
	orderPublisher := eventkafka.NewKafkaOrderEventPublisher(logger, cfg.KafkaBrokers, cfg.OrderTopic)
	alertPublisher := eventkafka.NewKafkaAlertPublisher(logger, cfg.KafkaBrokers, cfg.AlertTopic)

	// Сага: координатор, компенсации, оркестратор
	coordinator := service.NewCoordinator(logger, stockLedger)
	engine := service.NewCompensationEngine(logger, stockLedger, compRepo, alertPublisher)
	orchestrator := service.NewOrchestrator(logger, coordinator, engine, orderRepo, compRepo, orderPublisher)
	stockAdmin := service.NewStockAdmin(logger, stockLedger)

	// Фоновый sweep недоделанных компенсаций
	sweeper := service.NewCompensationSweeper(
		logger,
		engine,
		compRepo,
		cfg.SweepBatchSize,
		cfg.SweepInterval,
		cfg.SweepGrace,
	)

	// HTTP слой
	handler := httpapi.NewHandler(logger, orchestrator, stockAdmin)
	router := httpapi.NewRouter(handler, readiness, logger)

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Создаём shutdown manager
	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции (выполняются в обратном порядке регистрации)
	shutdownMgr.Add("otel", otelShutdown)
	shutdownMgr.Add("mongodb", platformshutdown.DisconnectMongo(mongoClient))
	shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
	shutdownMgr.Add("kafka_order_publisher", platformshutdown.CloseWriter(orderPublisher))
	shutdownMgr.Add("kafka_alert_publisher", platformshutdown.CloseWriter(alertPublisher))
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		sweeper:     sweeper,
		shutdownMgr: shutdownMgr,
		readiness:   readiness,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Order Saga service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	// Фоновый sweep живёт до отмены контекста в shutdown
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	a.sweepCancel = sweepCancel
	a.shutdownMgr.Add("compensation_sweeper", func(ctx context.Context) error {
		sweepCancel()
		return nil
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.sweeper.Start(sweepCtx); err != nil {
			a.logger.Error("Compensation sweeper error", zap.Error(err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Order Saga service stopped")
	return nil
}
