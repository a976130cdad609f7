package constants

// Artifact names used by the pipeline. Each is stored as <name>.json under
// the job's artifact directory; the set of names is closed.
const (
	ArtifactPages      = "pages"
	ArtifactMeta       = "meta"
	ArtifactDocFlags   = "doc_flags"
	ArtifactSections   = "sections"
	ArtifactCandidates = "candidates"
	ArtifactWinners    = "winners"
	ArtifactGapReport  = "gap_report"
	ArtifactStatus     = "status"
)
