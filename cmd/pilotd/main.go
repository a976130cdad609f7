package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/export"
	"github.com/protocolpilot/protocolpilot/internal/ingest"
	"github.com/protocolpilot/protocolpilot/internal/jobs"
	"github.com/protocolpilot/protocolpilot/internal/llm"
	"github.com/protocolpilot/protocolpilot/internal/pipeline"
	"github.com/protocolpilot/protocolpilot/internal/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := artifact.NewStore(cfg.Store.DataRoot, logger)
	registry, err := jobs.Open(cfg.Store.IndexDSN, logger)
	if err != nil {
		logger.Error("open job index", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	client := llm.NewHTTPClient(cfg.LLM, logger)
	runner := pipeline.NewRunner(store, client, cfg.Pipeline, logger)
	ingestSvc := ingest.NewService(store, registry, runner, logger)
	exportSvc := export.NewService(store, logger)

	queue := ingest.NewQueue(ingestSvc, cfg.Ingest.Workers, cfg.Ingest.QueueSize, cfg.Ingest.JobTimeout, logger)
	queue.Start(ctx)

	if len(cfg.Ingest.InboxRoots) > 0 {
		events, watchErrs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
			Roots:       cfg.Ingest.InboxRoots,
			InitialScan: cfg.Ingest.InitialScan,
			Debounce:    cfg.Ingest.Debounce,
		}, logger)
		if err != nil {
			logger.Error("start inbox watcher", "error", err)
			os.Exit(1)
		}
		go func() {
			for path := range events {
				job, err := ingestSvc.IngestPath(ctx, path)
				if err != nil {
					logger.Warn("inbox ingest rejected", "path", path, "error", err)
					continue
				}
				if err := queue.Enqueue(job); err != nil {
					logger.Warn("inbox job dropped, queue full", "job_id", job.ID)
				}
			}
		}()
		go func() {
			for err := range watchErrs {
				logger.Error("inbox watcher error", "error", err)
			}
		}()
	}

	srv := server.New(ingestSvc, queue, registry, store, exportSvc, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http serving", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	queue.Shutdown(shutdownCtx)
	logger.Info("stopped")
}
