package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/config"
	"github.com/jupark12/jobdesc-ingest/docintel"
	"github.com/jupark12/jobdesc-ingest/extract"
	"github.com/jupark12/jobdesc-ingest/logging"
	"github.com/jupark12/jobdesc-ingest/storage"
)

func main() {
	var (
		container = flag.String("container", "", "storage container (default from STORAGE_CONTAINER)")
		blobPath  = flag.String("path", "", "object path inside the container, e.g. <job_id>/offer.pdf (required)")
		envFile   = flag.String("env", ".env", "dotenv file to load")
		timeout   = flag.Duration("timeout", 5*time.Minute, "overall deadline")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: extract -path <job_id>/<file> [flags]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *blobPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load("", *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}
	if *container != "" {
		cfg.Storage.Container = *container
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := cfg.ValidateExtraction(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	blobs, err := storage.NewAzureStore(cfg.Storage.ConnectionString, cfg.Storage.AccountKey)
	if err != nil {
		log.Fatalf("create blob client: %v", err)
	}

	var analyzer extract.Analyzer
	if cfg.Extractor.Backend == config.BackendLocal {
		analyzer = extract.NewPDFAnalyzer()
	} else {
		analyzer = docintel.NewClient(docintel.Config{
			Endpoint:     cfg.DocIntel.Endpoint,
			Key:          cfg.DocIntel.Key,
			ModelID:      cfg.DocIntel.ModelID,
			APIVersion:   cfg.DocIntel.APIVersion,
			PollInterval: cfg.DocIntel.PollInterval,
			Timeout:      cfg.DocIntel.Timeout,
		}, logger)
	}

	start := time.Now()
	outputPath, err := extract.NewRoutine(blobs, analyzer, logger).Run(ctx, cfg.Storage.Container, *blobPath)
	if err != nil {
		logger.Error("text extraction failed",
			zap.String("container", cfg.Storage.Container),
			zap.String("blob_path", *blobPath),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		os.Exit(1)
	}

	fmt.Println(outputPath)
}
