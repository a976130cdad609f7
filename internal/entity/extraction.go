package entity

// PageRange is an inclusive span of page indices.
type PageRange struct {
	Start uint `json:"start"`
	End   uint `json:"end"`
}

// Candidate is a single proposed value for one named parameter, emitted by
// one extraction window. Candidates are append-only within a job.
type Candidate struct {
	ParameterName   string    `json:"parameter_name"`
	Value           any       `json:"value"`
	Unit            string    `json:"unit,omitempty"`
	SourcePageRange PageRange `json:"source_page_range"`
	RawSnippet      string    `json:"raw_snippet"`
	Confidence      float64   `json:"confidence"`
}

// CandidateLog is the "candidates" artifact: an append-only log plus a
// record of windows that failed after retries.
type CandidateLog struct {
	SchemaVersion int         `json:"schema_version"`
	Candidates    []Candidate `json:"candidates"`
	FailedWindows []PageRange `json:"failed_windows,omitempty"`
}

// Winner is the reconciled value for one parameter. Zero or one per
// parameter per job; derived, never hand-edited.
type Winner struct {
	ParameterName  string      `json:"parameter_name"`
	Value          any         `json:"value"`
	Unit           string      `json:"unit,omitempty"`
	Confidence     float64     `json:"confidence"`
	Provenance     []PageRange `json:"provenance"`
	AgreementCount uint        `json:"agreement_count"`
	Conflicted     bool        `json:"conflicted,omitempty"`
}

// Winners is the "winners" artifact.
type Winners struct {
	SchemaVersion int      `json:"schema_version"`
	Winners       []Winner `json:"winners"`
}

// AmbiguousItem names a parameter whose winner is not trustworthy.
type AmbiguousItem struct {
	ParameterName string `json:"parameter_name"`
	Reason        string `json:"reason"`
}

// ConflictItem carries the competing candidate values for one parameter.
type ConflictItem struct {
	ParameterName string      `json:"parameter_name"`
	Candidates    []Candidate `json:"candidates"`
}

// GapReport is the "gap_report" artifact.
type GapReport struct {
	SchemaVersion int             `json:"schema_version"`
	Missing       []string        `json:"missing"`
	Ambiguous     []AmbiguousItem `json:"ambiguous"`
	Conflicts     []ConflictItem  `json:"conflicts"`
	Questions     []string        `json:"questions"`
	Degraded      bool            `json:"degraded,omitempty"`
}
