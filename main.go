package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/config"
	"github.com/jupark12/jobdesc-ingest/docintel"
	"github.com/jupark12/jobdesc-ingest/extract"
	"github.com/jupark12/jobdesc-ingest/logging"
	"github.com/jupark12/jobdesc-ingest/queue"
	"github.com/jupark12/jobdesc-ingest/server"
	"github.com/jupark12/jobdesc-ingest/storage"
	"github.com/jupark12/jobdesc-ingest/worker"
)

func main() {
	// Configuration
	cfg, err := config.Load("", ".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	blobs, err := storage.NewAzureStore(cfg.Storage.ConnectionString, cfg.Storage.AccountKey)
	if err != nil {
		logger.Fatal("failed to create blob client", zap.Error(err))
	}

	// Initialize the job queue
	store, closeStore, err := openJobStore(ctx, cfg.Jobs, logger)
	if err != nil {
		logger.Fatal("failed to open job store", zap.String("store", cfg.Jobs.Store), zap.Error(err))
	}
	defer closeStore()

	jobQueue := queue.NewJobQueue(store, logger)

	// Load existing jobs
	if err := jobQueue.LoadJobs(ctx); err != nil {
		logger.Warn("failed to load existing jobs", zap.Error(err))
	}

	var extractor worker.Extractor
	if cfg.Server.Workers > 0 {
		extractor = extract.NewRoutine(blobs, newAnalyzer(cfg, logger), logger)
	}

	// Create and start the server
	srv := server.NewServer(jobQueue, blobs, extractor, server.Options{
		Addr:            cfg.Server.Addr,
		Container:       cfg.Storage.Container,
		SASExpiry:       cfg.Storage.SASExpiry,
		MultipartMemory: cfg.Server.MultipartMemory,
		AutoExtract:     cfg.Server.AutoExtract,
		AllowOrigin:     cfg.Server.AllowOrigin,
		Workers:         cfg.Server.Workers,
		PollInterval:    cfg.Server.PollInterval,
	}, logger)
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	logger.Info("job description ingest started",
		zap.Int("workers", cfg.Server.Workers),
		zap.String("extractor", cfg.Extractor.Backend),
		zap.String("job_store", cfg.Jobs.Store),
	)

	// Wait for termination signal
	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		os.Exit(1)
	}
}

func newAnalyzer(cfg *config.Config, logger *zap.Logger) extract.Analyzer {
	if cfg.Extractor.Backend == config.BackendLocal {
		return extract.NewPDFAnalyzer()
	}
	return docintel.NewClient(docintel.Config{
		Endpoint:     cfg.DocIntel.Endpoint,
		Key:          cfg.DocIntel.Key,
		ModelID:      cfg.DocIntel.ModelID,
		APIVersion:   cfg.DocIntel.APIVersion,
		PollInterval: cfg.DocIntel.PollInterval,
		Timeout:      cfg.DocIntel.Timeout,
	}, logger)
}

func openJobStore(ctx context.Context, cfg config.JobsConfig, logger *zap.Logger) (queue.Store, func(), error) {
	switch cfg.Store {
	case config.StorePostgres:
		store, err := queue.OpenPostgresStore(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
		return queue.NewRedisStore(client, cfg.RedisPrefix, logger), func() { client.Close() }, nil
	default:
		store, err := queue.NewFileStore(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
