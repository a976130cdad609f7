package entity

// PageRecord is one physical page of the submitted document. Records are
// immutable once produced; their order is significant because extraction
// windows are built over consecutive indices.
type PageRecord struct {
	Index       uint   `json:"index"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
}

// Pages is the "pages" artifact.
type Pages struct {
	SchemaVersion int          `json:"schema_version"`
	SourcePath    string       `json:"source_path,omitempty"`
	Pages         []PageRecord `json:"pages"`
}

// Meta is the "meta" artifact: the inferred document title.
type Meta struct {
	SchemaVersion int      `json:"schema_version"`
	Title         string   `json:"title"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
	Degraded      bool     `json:"degraded,omitempty"`
}

// DocFlags is the "doc_flags" artifact: the imaging verdict. Produced
// exactly once per job; downstream stages branch on IsImaging.
type DocFlags struct {
	SchemaVersion  int      `json:"schema_version"`
	IsImaging      bool     `json:"is_imaging"`
	Modalities     []string `json:"modalities"`
	Confidence     float64  `json:"confidence"`
	Reasons        []string `json:"reasons,omitempty"`
	CounterSignals []string `json:"counter_signals,omitempty"`
}

// SectionCandidate is one triaged page.
type SectionCandidate struct {
	PageIndex  uint     `json:"page_index"`
	Relevance  float64  `json:"relevance"`
	Reason     string   `json:"reason,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	Modalities []string `json:"modalities,omitempty"`
	Snippets   []string `json:"snippets,omitempty"`
}

// Sections is the "sections" artifact.
type Sections struct {
	SchemaVersion int                `json:"schema_version"`
	Candidates    []SectionCandidate `json:"candidates"`
}
