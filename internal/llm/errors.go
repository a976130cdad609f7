package llm

import (
	"errors"
	"fmt"
)

// FailureKind classifies reasoning-service failures. Callers decide
// recoverability from the kind; the client never panics past its boundary.
type FailureKind string

const (
	TransportFailure  FailureKind = "transport_failure"  // network, timeout, non-2xx
	MalformedOutput   FailureKind = "malformed_output"   // no parsable JSON in the response
	SchemaViolation   FailureKind = "schema_violation"   // parsed but invalid structure
	ExtractionFailure FailureKind = "extraction_failure" // pipeline stage produced nothing usable
	BudgetExhausted   FailureKind = "budget_exhausted"   // retry budget used up
)

// Failure is the typed error every client call path returns on failure.
type Failure struct {
	Kind   FailureKind
	Detail string
	Err    error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Detail, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure wraps an error with a failure kind.
func NewFailure(kind FailureKind, detail string, err error) *Failure {
	return &Failure{Kind: kind, Detail: detail, Err: err}
}

// KindOf returns the failure kind of err, or "" if err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// retryable reports whether a failure kind may succeed on retry.
func retryable(kind FailureKind) bool {
	return kind == TransportFailure || kind == MalformedOutput
}
