package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// Ingestor accepts uploaded documents and hands the resulting jobs to the
// worker pool.
type Ingestor interface {
	IngestBytes(ctx context.Context, filename string, data []byte) (entity.Job, error)
}

// Enqueuer schedules a registered job for processing.
type Enqueuer interface {
	Enqueue(job entity.Job) error
}

// JobIndex is the read side of the job registry.
type JobIndex interface {
	Get(ctx context.Context, id string) (entity.Job, error)
	List(ctx context.Context, limit int) ([]entity.Job, error)
}

// ArtifactReader serves persisted artifacts verbatim.
type ArtifactReader interface {
	GetRaw(jobID, name string) ([]byte, error)
}

// Exporter renders a finished job's results for download.
type Exporter interface {
	ExportJobXLSX(jobID string) ([]byte, error)
	ExportJobCSV(jobID string) ([]byte, error)
}

// Server is the HTTP front of the daemon: uploads in, status and artifacts
// out. All processing stays behind the queue.
type Server struct {
	ingestor Ingestor
	queue    Enqueuer
	index    JobIndex
	store    ArtifactReader
	exporter Exporter
	logger   *slog.Logger
}

func New(ingestor Ingestor, queue Enqueuer, index JobIndex, store ArtifactReader, exporter Exporter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ingestor: ingestor,
		queue:    queue,
		index:    index,
		store:    store,
		exporter: exporter,
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/status", s.handleGetStatus)
	mux.HandleFunc("GET /jobs/{id}/artifacts/{name}", s.handleGetArtifact)
	mux.HandleFunc("GET /jobs/{id}/export.xlsx", s.handleExport)
	mux.HandleFunc("GET /jobs/{id}/export.csv", s.handleExportCSV)
	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

// handleUpload accepts a multipart form with a "file" part and registers a
// job for it. The job is queued immediately; the response carries its id so
// the caller can poll /jobs/{id}/status.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	const maxUpload = 64 << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart form with a 'file' part is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read upload: "+err.Error())
		return
	}

	job, err := s.ingestor.IngestBytes(r.Context(), header.Filename, data)
	if err != nil {
		if errors.Is(err, common.ErrInvalidInput) {
			writeError(w, http.StatusUnsupportedMediaType, "only PDF documents are accepted")
			return
		}
		s.logger.Error("server.upload.failed", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("server.upload.queue_full", "job_id", job.ID)
		writeError(w, http.StatusServiceUnavailable, "processing queue is full, retry later")
		return
	}

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.index.List(r.Context(), 0)
	if err != nil {
		s.logger.Error("server.jobs.list_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list jobs failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.index.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "get job failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r.PathValue("id"), constants.ArtifactStatus)
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !knownArtifact(name) {
		writeError(w, http.StatusNotFound, "unknown artifact")
		return
	}
	s.serveArtifact(w, r.PathValue("id"), name)
}

func (s *Server) serveArtifact(w http.ResponseWriter, jobID, name string) {
	raw, err := s.store.GetRaw(jobID, name)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("server.artifact.read_failed", "job_id", jobID, "name", name, "error", err)
		writeError(w, http.StatusInternalServerError, "read artifact failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	data, err := s.exporter.ExportJobXLSX(jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job has no exportable results")
			return
		}
		s.logger.Error("server.export.failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="protocol-`+jobID+`.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	data, err := s.exporter.ExportJobCSV(jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job has no exportable results")
			return
		}
		s.logger.Error("server.export.failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="protocol-`+jobID+`.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func knownArtifact(name string) bool {
	switch name {
	case constants.ArtifactPages, constants.ArtifactMeta, constants.ArtifactDocFlags,
		constants.ArtifactSections, constants.ArtifactCandidates, constants.ArtifactWinners,
		constants.ArtifactGapReport, constants.ArtifactStatus:
		return true
	}
	return false
}
