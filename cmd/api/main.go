package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fraudnet/backend/internal/alerts"
	"github.com/fraudnet/backend/internal/analyzer"
	"github.com/fraudnet/backend/internal/api"
	"github.com/fraudnet/backend/internal/asn"
	"github.com/fraudnet/backend/internal/config"
	"github.com/fraudnet/backend/internal/graph"
	"github.com/fraudnet/backend/internal/monitoring"
	"github.com/fraudnet/backend/internal/risk"
	"github.com/fraudnet/backend/internal/stream"
	"github.com/fraudnet/backend/internal/worker"
)

func main() {
	// .env is optional; environment wins over file values either way.
	_ = godotenv.Load()

	logger := newLogger()
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := graph.NewNeo4jStore(ctx, cfg.Neo4j.URI, cfg.Neo4j.User,
		cfg.Neo4j.Password, cfg.Neo4j.Database, cfg.Neo4j.MaxPoolSize, logger)
	if err != nil {
		logger.Error("neo4j connection failed", "uri", cfg.Neo4j.URI, "error", err)
		os.Exit(1)
	}
	defer store.Close(context.Background())

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("schema setup failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}

	queue := stream.NewRedisStream(rdb, cfg.Redis.StreamKey, cfg.Redis.ConsumerGroup, logger)
	if err := queue.EnsureGroup(ctx); err != nil {
		logger.Error("stream setup failed", "error", err)
		os.Exit(1)
	}

	metrics := monitoring.NewMetrics()

	resolver := asn.NewResolver(cfg.Features.MMDBPath, store, logger)
	defer resolver.Close()

	cache := analyzer.NewCache()
	detector := analyzer.NewDetector(store, cache, cfg.Analyzer, logger)

	engine := risk.NewEngine(store, store, resolver, cfg, logger)
	engine.SetCollusionSource(cache)

	background := analyzer.New(store, detector, cfg.Analyzer,
		cfg.Features.DormantDaysThreshold, metrics, logger)

	hub := alerts.NewHub(metrics, logger)

	pool := worker.NewPool(queue, store, engine, resolver, hub, metrics, cfg.Worker, logger)

	server := api.NewServer(cfg, api.Deps{
		Writer:     store,
		Insights:   store,
		Health:     store,
		Scorer:     engine,
		Resolver:   resolver,
		Throughput: pool,
		Collusion:  cache,
		Analyzer:   background,
		Hub:        hub,
		Redis:      api.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}, logger)

	analyzerCtx, stopAnalyzer := context.WithCancel(ctx)
	analyzerDone := make(chan struct{})
	go func() {
		defer close(analyzerDone)
		background.Run(analyzerCtx)
	}()

	workerCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		pool.Run(workerCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", "signal", sig.String())

		// Stop consuming first so in-flight records finish or redeliver,
		// then the analyzer, then the HTTP surface.
		stopWorkers()
		<-workersDone

		stopAnalyzer()
		<-analyzerDone

		hub.Close()

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
