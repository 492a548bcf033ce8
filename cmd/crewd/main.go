package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mvidal/crewd/internal/application/assignment"
	"github.com/mvidal/crewd/internal/application/pool"
	"github.com/mvidal/crewd/internal/application/trace"
	"github.com/mvidal/crewd/internal/application/workflow"
	"github.com/mvidal/crewd/internal/config"
	eventsredis "github.com/mvidal/crewd/pkg/adapters/events/redis"
	"github.com/mvidal/crewd/pkg/adapters/metrics/prometheus"
	"github.com/mvidal/crewd/pkg/adapters/runtime"
	redisstorage "github.com/mvidal/crewd/pkg/adapters/storage/redis"
	"github.com/mvidal/crewd/pkg/api/http"
	"github.com/mvidal/crewd/pkg/api/websocket"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting crewd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	// Initialize Redis client
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect to Redis", zap.Error(err))
	}
	logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

	// Initialize adapters
	itemStore := redisstorage.NewWorkItemStore(redisClient, logger)
	templateStore := redisstorage.NewTemplateStore(redisClient, logger)
	workerStore := redisstorage.NewWorkerStore(redisClient, logger)
	traceStore := redisstorage.NewTraceStore(redisClient, logger)

	sessionRuntime, err := runtime.NewRuntime(&runtime.Config{
		Provider:     cfg.Runtime.Provider,
		APIKey:       cfg.Runtime.APIKey,
		DefaultModel: cfg.Runtime.DefaultModel,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to create session runtime", zap.Error(err))
	}

	metricsCollector := prometheus.NewCollector()

	// Initialize application components
	hub, err := trace.NewHub(traceStore, metricsCollector, logger, cfg.Trace.RetentionLimit)
	if err != nil {
		logger.Fatal("failed to create trace hub", zap.Error(err))
	}

	relay := eventsredis.NewStreamRelay(redisClient, int64(cfg.Trace.RetentionLimit), logger)
	relay.Attach(hub)

	workerPool, err := pool.New(
		workerStore,
		metricsCollector,
		logger,
		cfg.Pool.MaxWorkers,
		cfg.Pool.ContextWindowLimit,
	)
	if err != nil {
		logger.Fatal("failed to create worker pool", zap.Error(err))
	}

	engine := workflow.NewEngine(itemStore, metricsCollector, logger, cfg.Approvals.Defaults())

	assigner, err := assignment.New(
		workerPool,
		engine,
		itemStore,
		templateStore,
		sessionRuntime,
		metricsCollector,
		logger,
		cfg.Roles.Templates(),
	)
	if err != nil {
		logger.Fatal("failed to create assigner", zap.Error(err))
	}
	assigner.Start()

	// Initialize API server
	httpServer := http.NewServer(&http.Config{
		Port:      cfg.HTTPPort,
		Pool:      workerPool,
		Engine:    engine,
		Assigner:  assigner,
		Hub:       hub,
		Items:     itemStore,
		Templates: templateStore,
		Runtime:   sessionRuntime,
		Logger:    logger,
	})

	// Add WebSocket handler to HTTP server
	wsHandler := websocket.NewHandler(hub, cfg.Trace.SubscriberBuffer, logger)
	httpServer.SetupWebSocket(wsHandler)

	// Start server
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("crewd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("max_workers", cfg.Pool.MaxWorkers),
		zap.Int("trace_retention", cfg.Trace.RetentionLimit))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	// Shutdown components
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	assigner.Stop()

	relay.Detach(hub)

	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close error", zap.Error(err))
	}

	logger.Info("crewd shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
