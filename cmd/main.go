package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"photoflow/internal/blobstore"
	"photoflow/internal/labels"
	"photoflow/internal/logging"
	"photoflow/internal/models"
	"photoflow/internal/progress"
	"photoflow/internal/queue"
	"photoflow/internal/server"
	"photoflow/internal/storage"
	"photoflow/internal/stream"
	"photoflow/internal/uploads"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := models.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.NewStorage(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to init storage", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	blobs, err := blobstore.New(ctx, cfg.S3)
	if err != nil {
		logger.Error("failed to init blob store", "error", err)
		os.Exit(1)
	}

	notifier := progress.NewNotifier(logger)

	var background sync.WaitGroup
	if cfg.Kafka.Broker != "" {
		mirror := progress.NewKafkaMirror(cfg.Kafka, logger)
		notifier.SetMirror(mirror)
		background.Add(1)
		go func() {
			defer background.Done()
			mirror.Run(ctx)
		}()
	}

	policy := queue.Policy{
		MaxAttempts: cfg.Queue.MaxAttempts,
		BaseBackoff: time.Duration(cfg.Queue.BaseBackoffSec) * time.Second,
	}
	store := queue.NewPGStore(db.Pool(), policy)

	detector := labels.NewHTTPDetector(cfg.Labels)
	dispatcher := queue.NewDispatcher(store, logger, time.Duration(cfg.Queue.PollIntervalMS)*time.Millisecond)
	dispatcher.Register(queue.KindThumbnail, queue.NewThumbnailHandler(blobs, db), cfg.Queue.ThumbnailWorkers)
	dispatcher.Register(queue.KindLabels, queue.NewLabelHandler(blobs, detector, db), cfg.Queue.LabelWorkers)

	background.Add(1)
	go func() {
		defer background.Done()
		dispatcher.Run(ctx)
	}()

	svc := uploads.NewService(db, db, blobs, notifier, store, logger, cfg.S3.UploadTTL())
	streams := stream.NewServer(db, notifier, cfg.Stream.PingInterval(), logger)
	srv := server.New(cfg, svc, streams, db, blobs, logger)

	go func() {
		logger.Info("server starting", "addr", cfg.ServerAddr)
		if err := srv.Start(); err != nil {
			logger.Error("server stopped", "error", err)
			cancel()
		}
	}()

	// Graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("http shutdown", "error", err)
	}
	background.Wait()
}
