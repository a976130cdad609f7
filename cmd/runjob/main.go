package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/ingest"
	"github.com/protocolpilot/protocolpilot/internal/jobs"
	"github.com/protocolpilot/protocolpilot/internal/llm"
	"github.com/protocolpilot/protocolpilot/internal/pipeline"
)

// runjob processes one PDF end to end and prints the final status artifact.
// Useful for debugging a single document without the daemon.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: runjob <document.pdf>")
		os.Exit(2)
	}
	sourcePath := os.Args[1]

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	store := artifact.NewStore(cfg.Store.DataRoot, logger)
	registry, err := jobs.Open(cfg.Store.IndexDSN, logger)
	if err != nil {
		logger.Error("open job index", "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	client := llm.NewHTTPClient(cfg.LLM, logger)
	runner := pipeline.NewRunner(store, client, cfg.Pipeline, logger)
	svc := ingest.NewService(store, registry, runner, logger)

	job, err := svc.IngestPath(ctx, sourcePath)
	if err != nil {
		logger.Error("ingest failed", "path", sourcePath, "error", err)
		os.Exit(1)
	}
	logger.Info("job registered", "job_id", job.ID)

	runErr := svc.Process(ctx, job)

	raw, err := store.GetRaw(job.ID, constants.ArtifactStatus)
	if err != nil {
		logger.Error("read status artifact", "job_id", job.ID, "error", err)
		os.Exit(1)
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err == nil {
		raw = pretty.Bytes()
	}
	os.Stdout.Write(append(raw, '\n'))

	if runErr != nil {
		logger.Error("job failed", "job_id", job.ID, "error", runErr)
		os.Exit(1)
	}
}
