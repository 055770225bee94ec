package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/store/memstore"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, cfg.Server.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger := util.GetLogger()
	logger.Info("Starting checkout service", zap.String("env", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg)
	stop()
	if err != nil {
		logger.Error("Service exited with error", zap.Error(err))
		util.SyncLogger()
		os.Exit(1)
	}
	util.SyncLogger()
}

// run wires the service and serves until ctx is done. Startup failures are
// returned so that every deferred close still runs.
func run(ctx context.Context, cfg *config.Config) error {
	logger := util.GetLogger()

	if cfg.Observ.TracingEnabled {
		tp, err := util.InitTracer("checkout-service", cfg.Server.Env, cfg.Observ.JaegerEndpoint)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Error shutting down tracer", zap.Error(err))
			}
		}()
	}

	readiness := map[string]api.Pinger{}

	var repo store.Repository
	switch cfg.Database.Driver {
	case "memory":
		mem := memstore.New()
		seedDemoData(mem)
		repo = mem
		readiness["database"] = mem
		logger.Warn("Using in-memory store, data is lost on restart")
	case "postgres":
		db, err := store.NewStore(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		if cfg.Database.AutoMigrate {
			if err := db.Migrate(); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		repo = db
		readiness["database"] = db
		logger.Info("Database connected")
	default:
		return fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}

	var (
		locker      service.Locker
		idempotency service.IdempotencyCache
	)
	if cfg.Redis.Enabled {
		redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		defer redisClient.Close()
		locker, idempotency = redisClient, redisClient
		readiness["redis"] = redisClient
		logger.Info("Redis connected")
	} else {
		kv := memstore.NewKV()
		locker, idempotency = kv, kv
		logger.Warn("Redis disabled, checkout locks are local to this process")
	}

	var (
		consumer  *broker.Consumer
		publisher service.EventPublisher
	)
	if cfg.Kafka.Enabled {
		consumer = broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	}
	notificationWorker := worker.NewNotificationWorker(consumer, repo, worker.NewLogDispatcher())

	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicOrder))
	} else {
		publisher = broker.NewEventPublisher(broker.NewInlinePublisher(notificationWorker.Handler().HandleMessage))
		logger.Info("Kafka disabled, events are delivered in-process")
	}

	notifier := service.NewNotifier(publisher, cfg.Business.NotifyTimeout())
	inventory := service.NewInventoryAdjuster()

	cartService := service.NewCartService(repo)
	checkoutService := service.NewCheckoutService(repo, inventory, locker, idempotency, notifier, service.CheckoutOptions{
		ExpectedDeliveryDays: cfg.Business.ExpectedDeliveryDays,
		LockTTL:              cfg.Business.CheckoutLockTTL(),
		IdempotencyTTL:       cfg.Business.IdempotencyTTL(),
	})
	orderService := service.NewOrderService(repo, inventory, notifier)
	paymentService := service.NewPaymentService(repo, notifier)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	if consumer != nil {
		go func() {
			if err := notificationWorker.Start(workerCtx); err != nil {
				logger.Error("Notification worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(cartService, checkoutService, orderService, paymentService, api.Options{
		AdminAPIKey: cfg.Server.AdminAPIKey,
		Readiness:   readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		runErr = fmt.Errorf("failed to start server: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	notifier.Close()
	workerCancel()
	if err := notificationWorker.Stop(); err != nil {
		logger.Error("Failed to stop notification worker", zap.Error(err))
	}

	logger.Info("Server exited")
	return runErr
}
