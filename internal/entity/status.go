package entity

import (
	"time"

	"github.com/protocolpilot/protocolpilot/constants"
)

// StageResult is one append-only log entry of the status artifact.
type StageResult struct {
	StageName    constants.Stage       `json:"stage_name"`
	Status       constants.StageStatus `json:"status"`
	AttemptCount int                   `json:"attempt_count"`
	ErrorKind    string                `json:"error_kind,omitempty"`
	ErrorDetail  string                `json:"error_detail,omitempty"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Status is the "status" artifact: the sole contract the presentation layer
// polls. Stage is a projection of the latest StageResult.
type Status struct {
	SchemaVersion int               `json:"schema_version"`
	JobID         string            `json:"job_id"`
	Stage         constants.Stage   `json:"stage"`
	Outcome       constants.Outcome `json:"outcome"`
	Processing    string            `json:"processing,omitempty"` // stage currently executing, if any
	UpdatedAt     time.Time         `json:"updated_at"`
	PerStage      []StageResult     `json:"per_stage"`
}

// Job is one document's end-to-end processing run as tracked by the index.
type Job struct {
	ID         string            `json:"id"`
	SourcePath string            `json:"source_path"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Stage      constants.Stage   `json:"stage"`
	Outcome    constants.Outcome `json:"outcome"`
}
