package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/chatrapathi4/bluebank/internal/adapter/cache"
	"github.com/chatrapathi4/bluebank/internal/adapter/handler"
	"github.com/chatrapathi4/bluebank/internal/adapter/storage"
	"github.com/chatrapathi4/bluebank/internal/core/config"
	"github.com/chatrapathi4/bluebank/internal/core/metrics"
	"github.com/chatrapathi4/bluebank/internal/core/notifications"
	"github.com/chatrapathi4/bluebank/internal/core/onboarding"
	"github.com/chatrapathi4/bluebank/internal/core/transfer"
	"github.com/chatrapathi4/bluebank/internal/core/worker"
)

func main() {
	// 1. Setup Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 2. Load Config
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open Storage
	backend, err := storage.Open(ctx, storage.Options{
		Kind:        cfg.Storage,
		DatabaseURL: cfg.DatabaseURL,
		LockTimeout: cfg.LockTimeout,
		AutoMigrate: cfg.AutoMigrate,
	})
	if err != nil {
		slog.Error("❌ Storage initialization failed", "error", err)
		os.Exit(1)
	}

	if cfg.Storage == config.StorageMemory {
		// Nothing persists in memory, so hand out a fresh owner on every start.
		o := onboarding.New(backend.Directory)
		owner, key, err := o.Register(ctx, "Demo", "User")
		if err == nil {
			_, err = o.OpenAccount(ctx, owner, "")
		}
		if err != nil {
			slog.Error("❌ Demo onboarding failed", "error", err)
			os.Exit(1)
		}
		slog.Info("🔑 Demo owner ready", "user_id", owner, "api_key", key)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []transfer.Option{transfer.WithMetrics(metrics.New(reg))}
	// 4. Redis is optional: without it replays hit the store and events are not published.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("❌ Invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(redisOpts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			slog.Warn("⚠️ Redis unreachable, continuing without cache and events", "error", err)
		}
		opts = append(opts,
			transfer.WithCache(cache.NewIdempotencyCache(rdb, cfg.IdempotencyTTL)),
			transfer.WithPublisher(notifications.NewPublisher(rdb)),
		)
	}

	// 5. Setup Engine & Handlers
	engine := transfer.NewEngine(backend.Store, transfer.Config{
		Limit:             cfg.TransferLimit,
		LockTimeout:       cfg.LockTimeout,
		IdempotencyTTL:    cfg.IdempotencyTTL,
		ReferenceAttempts: cfg.ReferenceAttempts,
	}, opts...)
	transactionHandler := &handler.TransactionHandler{Engine: engine}

	// 6. Setup Fiber
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator:  func() string { return ulid.Make().String() },
		ContextKey: handler.RequestIDKey,
	}))
	app.Use(cors.New())

	// 7. Routes
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	handler.Register(app, transactionHandler, backend.Directory)

	// 8. Start Worker
	worker.NewSweeper(backend.Store.Idempotency(), cfg.IdempotencyTTL, cfg.SweepInterval).Start(ctx)

	go func() {
		slog.Info("🚀 Server starting", "env", cfg.Env, "port", cfg.Port, "storage", cfg.Storage)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
			stop()
		}
	}()

	// Block here until we receive a stop signal
	<-ctx.Done()
	slog.Info("🛑 Shutting down server...")

	// Tell Fiber to stop accepting new requests and finish active ones
	if err := app.Shutdown(); err != nil {
		slog.Error("Server shutdown failed", "error", err)
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			slog.Error("Redis close failed", "error", err)
		}
	}
	backend.Close()
	slog.Info("✅ Storage closed")

	slog.Info("👋 Server exited successfully")
}
