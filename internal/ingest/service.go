package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/jobs"
	"github.com/protocolpilot/protocolpilot/internal/pipeline"
)

// UploadedName is the filename every accepted document gets inside its job's
// upload directory.
const UploadedName = "document.pdf"

// Service turns a discovered or uploaded document into a registered job and
// drives it through the pipeline.
type Service struct {
	store    *artifact.Store
	registry *jobs.Registry
	runner   *pipeline.Runner
	logger   *slog.Logger
}

func NewService(store *artifact.Store, registry *jobs.Registry, runner *pipeline.Runner, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, registry: registry, runner: runner, logger: logger}
}

// IngestPath registers a job for the document at path, copying it into the
// job's upload directory. A path that already has a non-failed job is
// returned as-is instead of spawning a duplicate.
func (s *Service) IngestPath(ctx context.Context, path string) (entity.Job, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return entity.Job{}, common.WrapError(err, "resolve source path")
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return entity.Job{}, common.NewAppError("UNSUPPORTED_FILE",
			fmt.Sprintf("unsupported extension %q", ext), common.ErrInvalidInput)
	}

	if existing, err := s.registry.FindBySourcePath(ctx, abs); err == nil && existing.Stage != constants.StageError {
		s.logger.Info("ingest.dedup", "job_id", existing.ID, "source", abs)
		return existing, nil
	}

	job := entity.Job{
		ID:         uuid.NewString(),
		SourcePath: abs,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.EnsureDirs(job.ID); err != nil {
		return entity.Job{}, err
	}
	if err := copyFile(abs, filepath.Join(s.store.UploadDir(job.ID), UploadedName)); err != nil {
		return entity.Job{}, common.WrapError(err, "copy document into upload dir")
	}
	if err := s.registry.Create(ctx, job); err != nil {
		return entity.Job{}, err
	}
	s.logger.Info("ingest.accepted", "job_id", job.ID, "source", abs)
	return job, nil
}

// IngestBytes registers a job for an in-memory document (HTTP uploads).
func (s *Service) IngestBytes(ctx context.Context, filename string, data []byte) (entity.Job, error) {
	ext := constants.NormalizeExt(filepath.Ext(filename))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return entity.Job{}, common.NewAppError("UNSUPPORTED_FILE",
			fmt.Sprintf("unsupported extension %q", ext), common.ErrInvalidInput)
	}

	job := entity.Job{
		ID:         uuid.NewString(),
		SourcePath: filename,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.EnsureDirs(job.ID); err != nil {
		return entity.Job{}, err
	}
	dest := filepath.Join(s.store.UploadDir(job.ID), UploadedName)
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return entity.Job{}, common.WrapError(err, "write uploaded document")
	}
	if err := s.registry.Create(ctx, job); err != nil {
		return entity.Job{}, err
	}
	s.logger.Info("ingest.accepted", "job_id", job.ID, "source", filename, "bytes", len(data))
	return job, nil
}

// Process runs the pipeline for a registered job and mirrors the outcome
// into the job index.
func (s *Service) Process(ctx context.Context, job entity.Job) error {
	uploaded := filepath.Join(s.store.UploadDir(job.ID), UploadedName)
	status, runErr := s.runner.Run(ctx, job.ID, uploaded)

	if status.Stage != "" {
		if err := s.registry.UpdateStatus(ctx, job.ID, status.Stage, status.Outcome); err != nil {
			s.logger.Error("ingest.index.update_failed", "job_id", job.ID, "error", err)
		}
	}
	return runErr
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
