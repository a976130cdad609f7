package jobs

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// Registry is the queryable job index backed by SQLite. The status artifact
// stays the source of truth for a job's progress; the index exists so the
// API can list and look up jobs without scanning the artifact tree.
type Registry struct {
	db     *sql.DB
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	source_path TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL,
	updated_at  TIMESTAMP NOT NULL,
	stage       TEXT NOT NULL,
	outcome     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at DESC);
`

// Open opens (creating if needed) the job index at the given DSN.
func Open(dsn string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, common.WrapError(err, "open job index")
	}
	// modernc.org/sqlite serializes writes per connection; one connection
	// avoids SQLITE_BUSY under concurrent ingest workers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, common.WrapError(err, "migrate job index")
	}
	logger.Info("jobs.registry.open", "dsn", dsn)
	return &Registry{db: db, logger: logger}, nil
}

func (r *Registry) Close() error {
	return r.db.Close()
}

// Create registers a new job in the index.
func (r *Registry) Create(ctx context.Context, job entity.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.Stage == "" {
		job.Stage = constants.StageCreated
	}
	if job.Outcome == "" {
		job.Outcome = constants.OutcomePending
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_path, created_at, updated_at, stage, outcome) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.SourcePath, job.CreatedAt, job.UpdatedAt, string(job.Stage), string(job.Outcome),
	)
	if err != nil {
		return common.WrapError(err, "insert job")
	}
	r.logger.Info("jobs.create", "job_id", job.ID, "source", job.SourcePath)
	return nil
}

// UpdateStatus mirrors the latest stage and outcome into the index.
func (r *Registry) UpdateStatus(ctx context.Context, id string, stage constants.Stage, outcome constants.Outcome) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET stage = ?, outcome = ?, updated_at = ? WHERE id = ?`,
		string(stage), string(outcome), time.Now().UTC(), id,
	)
	if err != nil {
		return common.WrapError(err, "update job")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.ErrNotFound
	}
	return nil
}

// Get returns one job by id, or common.ErrNotFound.
func (r *Registry) Get(ctx context.Context, id string) (entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, source_path, created_at, updated_at, stage, outcome FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Job{}, common.ErrNotFound
	}
	if err != nil {
		return entity.Job{}, common.WrapError(err, "get job")
	}
	return job, nil
}

// FindBySourcePath returns the most recent job for a source document, or
// common.ErrNotFound. Used to keep re-delivered inbox files idempotent.
func (r *Registry) FindBySourcePath(ctx context.Context, sourcePath string) (entity.Job, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, source_path, created_at, updated_at, stage, outcome FROM jobs WHERE source_path = ? ORDER BY created_at DESC LIMIT 1`,
		sourcePath)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Job{}, common.ErrNotFound
	}
	if err != nil {
		return entity.Job{}, common.WrapError(err, "find job by source")
	}
	return job, nil
}

// List returns jobs newest first, capped at limit (0 means a default cap).
func (r *Registry) List(ctx context.Context, limit int) ([]entity.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, source_path, created_at, updated_at, stage, outcome FROM jobs ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	defer rows.Close()

	jobs := []entity.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, common.WrapError(err, "scan job")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, common.WrapError(err, "list jobs")
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (entity.Job, error) {
	var job entity.Job
	var stage, outcome string
	if err := row.Scan(&job.ID, &job.SourcePath, &job.CreatedAt, &job.UpdatedAt, &stage, &outcome); err != nil {
		return entity.Job{}, err
	}
	job.Stage = constants.Stage(stage)
	job.Outcome = constants.Outcome(outcome)
	return job, nil
}
