package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/protocolpilot/protocolpilot/internal/common"
)

// Store is the durable, job-scoped key→document store. Every artifact is a
// JSON file under <root>/artifacts/<job_id>/<name>.json. Writes go through
// a temp file and rename so a reader never observes a partial document.
type Store struct {
	root   string
	logger *slog.Logger
}

func NewStore(root string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{root: root, logger: logger}
}

// ArtifactDir returns the artifact directory for a job.
func (s *Store) ArtifactDir(jobID string) string {
	return filepath.Join(s.root, "artifacts", jobID)
}

// UploadDir returns the upload directory for a job.
func (s *Store) UploadDir(jobID string) string {
	return filepath.Join(s.root, "uploads", jobID)
}

// EnsureDirs creates the upload and artifact directories for a job.
func (s *Store) EnsureDirs(jobID string) error {
	if err := os.MkdirAll(s.UploadDir(jobID), 0o755); err != nil {
		return common.WrapError(err, "create upload dir")
	}
	if err := os.MkdirAll(s.ArtifactDir(jobID), 0o755); err != nil {
		return common.WrapError(err, "create artifact dir")
	}
	return nil
}

func (s *Store) path(jobID, name string) string {
	return filepath.Join(s.ArtifactDir(jobID), name+".json")
}

// Put atomically writes a named document for a job.
func (s *Store) Put(jobID, name string, doc any) error {
	dir := s.ArtifactDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return common.WrapError(err, "create artifact dir")
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return common.WrapError(err, "encode artifact")
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return common.WrapError(err, "create temp artifact")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return common.WrapError(err, "write temp artifact")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return common.WrapError(err, "sync temp artifact")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return common.WrapError(err, "close temp artifact")
	}
	if err := os.Rename(tmpName, s.path(jobID, name)); err != nil {
		_ = os.Remove(tmpName)
		return common.WrapError(err, "replace artifact")
	}

	s.logger.Debug("artifact.put", "job_id", jobID, "name", name, "bytes", len(b))
	return nil
}

// Get reads a named document into out. Returns common.ErrNotFound when the
// artifact does not exist.
func (s *Store) Get(jobID, name string, out any) error {
	b, err := os.ReadFile(s.path(jobID, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return common.ErrNotFound
		}
		return common.WrapError(err, "read artifact")
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode artifact %s/%s: %w", jobID, name, err)
	}
	return nil
}

// GetRaw reads a named document as raw JSON bytes.
func (s *Store) GetRaw(jobID, name string) ([]byte, error) {
	b, err := os.ReadFile(s.path(jobID, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, common.ErrNotFound
		}
		return nil, common.WrapError(err, "read artifact")
	}
	return b, nil
}

// Exists reports whether a named document exists for a job.
func (s *Store) Exists(jobID, name string) bool {
	st, err := os.Stat(s.path(jobID, name))
	return err == nil && !st.IsDir()
}
