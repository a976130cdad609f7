package constants

// Stage is the canonical pipeline stage for a job. The orchestrator walks
// these in order; a job's Stage is a projection of its latest StageResult.
type Stage string

// Stable values (stored verbatim in the status artifact and the job index).
const (
	StageCreated             Stage = "CREATED"
	StageTitleInferred       Stage = "TITLE_INFERRED"
	StageVerdictReached      Stage = "VERDICT_REACHED"
	StagePagesTriaged        Stage = "PAGES_TRIAGED"
	StageCandidatesExtracted Stage = "CANDIDATES_EXTRACTED"
	StageAdjudicated         Stage = "ADJUDICATED"
	StageGapsBuilt           Stage = "GAPS_BUILT"
	StageDone                Stage = "DONE"
	StageError               Stage = "ERROR"
)

// Outcome is the terminal disposition of a job.
type Outcome string

const (
	OutcomePending    Outcome = "PENDING"
	OutcomeImaging    Outcome = "IMAGING"
	OutcomeNonImaging Outcome = "NON_IMAGING"
	OutcomeError      Outcome = "ERROR"
)

// StageStatus records how a single stage attempt set ended.
type StageStatus string

const (
	StageOK      StageStatus = "OK"
	StageFailed  StageStatus = "FAILED"
	StageSkipped StageStatus = "SKIPPED"
)
