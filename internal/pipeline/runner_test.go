package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/llm"
)

// scriptedClient dispatches on the request schema so each reasoning call
// kind can be stubbed and counted independently.
type scriptedClient struct {
	calls    map[string]int
	handlers map[string]func() (json.RawMessage, error)
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		calls:    map[string]int{},
		handlers: map[string]func() (json.RawMessage, error){},
	}
}

func (c *scriptedClient) on(kind string, fn func() (json.RawMessage, error)) {
	c.handlers[kind] = fn
}

func (c *scriptedClient) reply(kind string, doc any) {
	raw, _ := json.Marshal(doc)
	c.on(kind, func() (json.RawMessage, error) { return raw, nil })
}

func (c *scriptedClient) fail(kind string) {
	c.failWith(kind, llm.TransportFailure)
}

func (c *scriptedClient) failWith(kind string, failure llm.FailureKind) {
	c.on(kind, func() (json.RawMessage, error) {
		return nil, llm.NewFailure(failure, "stubbed failure", nil)
	})
}

func (c *scriptedClient) CallJSON(ctx context.Context, req llm.Request) (json.RawMessage, error) {
	kind := requestKind(req)
	c.calls[kind]++
	if fn, ok := c.handlers[kind]; ok {
		return fn()
	}
	return nil, llm.NewFailure(llm.TransportFailure, "no handler for "+kind, nil)
}

func requestKind(req llm.Request) string {
	props, _ := req.Schema["properties"].(map[string]any)
	switch {
	case props["is_imaging"] != nil:
		return "verdict"
	case props["title"] != nil:
		return "title"
	case props["labels"] != nil:
		return "pageclass"
	case props["candidates"] != nil:
		return "extract"
	case props["questions"] != nil:
		return "questions"
	}
	return "unknown"
}

func testPipelineConfig() common.PipelineConfig {
	return common.PipelineConfig{
		WindowSize:            2,
		Stride:                1,
		TriageTopK:            6,
		StageAttempts:         2,
		StageBackoffBase:      time.Millisecond,
		ReextractBudget:       1,
		ReextractMinRelevance: 0.75,
		NumericTolerance:      0.01,
		AmbiguityThreshold:    0.5,
		ConflictConfidenceCap: 0.3,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// seedPages writes the pages artifact directly so runner tests do not need a
// real PDF on disk.
func seedPages(t *testing.T, store *artifact.Store, jobID string, texts ...string) {
	t.Helper()
	records := make([]entity.PageRecord, len(texts))
	for i, text := range texts {
		records[i] = entity.PageRecord{Index: uint(i), Text: text, ContentHash: "h"}
	}
	require.NoError(t, store.Put(jobID, constants.ArtifactPages, entity.Pages{SchemaVersion: 1, Pages: records}))
}

func happyPathClient() *scriptedClient {
	client := newScriptedClient()
	client.reply("title", map[string]any{"title": "CT Protocol Study", "confidence": 0.9})
	client.reply("verdict", map[string]any{"is_imaging": true, "modalities": []string{"MRI"}, "confidence": 0.95})
	client.reply("pageclass", map[string]any{"labels": []string{"methods"}, "modalities": []string{"MRI"}, "score": 0.8, "evidence": []string{"TR = 500 ms"}})
	client.reply("extract", map[string]any{"candidates": []map[string]any{
		{"parameter_name": "repetition_time_ms", "value": 500, "raw_snippet": "TR = 500 ms", "confidence": 0.9},
	}})
	client.reply("questions", map[string]any{"questions": []string{"What echo time was used?"}})
	return client
}

func TestRunHappyPathImaging(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-1"
	seedPages(t, store, jobID, "intro text", "methods: TR = 500 ms", "results")

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)

	assert.Equal(t, constants.StageDone, status.Stage)
	assert.Equal(t, constants.OutcomeImaging, status.Outcome)
	assert.Empty(t, status.Processing)
	for _, name := range []string{
		constants.ArtifactMeta, constants.ArtifactDocFlags, constants.ArtifactSections,
		constants.ArtifactCandidates, constants.ArtifactWinners, constants.ArtifactGapReport,
	} {
		assert.True(t, store.Exists(jobID, name), "artifact %s should exist", name)
	}

	var winners entity.Winners
	require.NoError(t, store.Get(jobID, constants.ArtifactWinners, &winners))
	require.NotEmpty(t, winners.Winners)
	assert.Equal(t, "repetition_time_ms", winners.Winners[0].ParameterName)
}

func TestRunNonImagingShortCircuit(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := newScriptedClient()
	client.reply("title", map[string]any{"title": "A Genomics Paper", "confidence": 0.9})
	client.reply("verdict", map[string]any{"is_imaging": false, "confidence": 0.9, "reasons": []string{"no acquisition details"}})
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-noni"
	seedPages(t, store, jobID, "gene expression analysis", "sequencing methods")

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)

	assert.Equal(t, constants.StageDone, status.Stage)
	assert.Equal(t, constants.OutcomeNonImaging, status.Outcome)

	// Nothing downstream of the verdict may exist.
	for _, name := range []string{
		constants.ArtifactSections, constants.ArtifactCandidates,
		constants.ArtifactWinners, constants.ArtifactGapReport,
	} {
		assert.False(t, store.Exists(jobID, name), "artifact %s must not exist", name)
	}
	assert.Zero(t, client.calls["pageclass"])
	assert.Zero(t, client.calls["extract"])
}

func TestRunFinishedJobIsIdempotent(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-idem"
	seedPages(t, store, jobID, "page one", "methods page")
	_, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)

	before := map[string]int{}
	for k, v := range client.calls {
		before[k] = v
	}

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.StageDone, status.Stage)
	assert.Equal(t, before, client.calls, "a finished job must not trigger new reasoning calls")
}

func TestRunResumesFromPersistedArtifacts(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-resume"
	seedPages(t, store, jobID, "page one", "methods page")
	// Simulate a crash after the verdict stage: meta and doc_flags exist.
	require.NoError(t, store.Put(jobID, constants.ArtifactMeta, entity.Meta{SchemaVersion: 1, Title: "T"}))
	require.NoError(t, store.Put(jobID, constants.ArtifactDocFlags, entity.DocFlags{
		SchemaVersion: 1, IsImaging: true, Modalities: []string{"MRI"}, Confidence: 0.9,
	}))

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)

	assert.Equal(t, constants.StageDone, status.Stage)
	assert.Zero(t, client.calls["title"], "persisted meta must not be recomputed")
	assert.Zero(t, client.calls["verdict"], "persisted verdict must not be recomputed")
	assert.NotZero(t, client.calls["pageclass"])
}

func TestRunVerdictFailureIsTerminal(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := newScriptedClient()
	client.reply("title", map[string]any{"title": "T", "confidence": 0.9})
	client.fail("verdict")
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-err"
	seedPages(t, store, jobID, "some text")

	_, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.Error(t, err)

	var status entity.Status
	require.NoError(t, store.Get(jobID, constants.ArtifactStatus, &status))
	assert.Equal(t, constants.StageError, status.Stage)
	assert.Equal(t, constants.OutcomeError, status.Outcome)

	last := status.PerStage[len(status.PerStage)-1]
	assert.Equal(t, constants.StageVerdictReached, last.StageName)
	assert.Equal(t, constants.StageFailed, last.Status)
	assert.Equal(t, string(llm.TransportFailure), last.ErrorKind)
}

func TestRunFailedStageRecordsAttemptsMade(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := newScriptedClient()
	client.reply("title", map[string]any{"title": "T", "confidence": 0.9})
	client.fail("verdict")
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-attempts-exhausted"
	seedPages(t, store, jobID, "some text")

	_, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.Error(t, err)

	var status entity.Status
	require.NoError(t, store.Get(jobID, constants.ArtifactStatus, &status))
	last := status.PerStage[len(status.PerStage)-1]
	assert.Equal(t, constants.StageVerdictReached, last.StageName)
	assert.Equal(t, 2, last.AttemptCount, "transport failures burn the full retry budget")
	assert.Equal(t, 2, client.calls["verdict"])
}

func TestRunSchemaViolationFailsAfterSingleAttempt(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := newScriptedClient()
	client.reply("title", map[string]any{"title": "T", "confidence": 0.9})
	client.failWith("verdict", llm.SchemaViolation)
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-schema-violation"
	seedPages(t, store, jobID, "some text")

	_, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.Error(t, err)

	var status entity.Status
	require.NoError(t, store.Get(jobID, constants.ArtifactStatus, &status))
	last := status.PerStage[len(status.PerStage)-1]
	assert.Equal(t, string(llm.SchemaViolation), last.ErrorKind)
	assert.Equal(t, 1, last.AttemptCount, "a schema violation is not retried")
	assert.Equal(t, 1, client.calls["verdict"])
}

func TestRunRetriedStageRecordsAttemptsOnSuccess(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	verdictCalls := 0
	client.on("verdict", func() (json.RawMessage, error) {
		verdictCalls++
		if verdictCalls == 1 {
			return nil, llm.NewFailure(llm.TransportFailure, "flaky", nil)
		}
		raw, _ := json.Marshal(map[string]any{"is_imaging": true, "modalities": []string{"MRI"}, "confidence": 0.9})
		return raw, nil
	})
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-retry-ok"
	seedPages(t, store, jobID, "page one", "methods page")

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.StageDone, status.Stage)

	var verdictResult *entity.StageResult
	for i := range status.PerStage {
		if status.PerStage[i].StageName == constants.StageVerdictReached {
			verdictResult = &status.PerStage[i]
		}
	}
	require.NotNil(t, verdictResult)
	assert.Equal(t, constants.StageOK, verdictResult.Status)
	assert.Equal(t, 2, verdictResult.AttemptCount)
}

func TestRunReextractsWiderWindowWhenNoWinners(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	// The first extraction pass over a three-page run yields windows [0,1]
	// and [1,2], both empty. The widened pass covers [0,2] and finds a value.
	extractCalls := 0
	client.on("extract", func() (json.RawMessage, error) {
		extractCalls++
		if extractCalls <= 2 {
			raw, _ := json.Marshal(map[string]any{"candidates": []map[string]any{}})
			return raw, nil
		}
		raw, _ := json.Marshal(map[string]any{"candidates": []map[string]any{
			{"parameter_name": "repetition_time_ms", "value": 500, "raw_snippet": "TR = 500 ms", "confidence": 0.9},
		}})
		return raw, nil
	})
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-reextract"
	seedPages(t, store, jobID, "intro scanning", "methods: TR = 500 ms", "acquisition results")

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.StageDone, status.Stage)

	// Exactly one re-extraction pass: two first-pass windows plus one widened.
	assert.Equal(t, 3, client.calls["extract"])

	var winners entity.Winners
	require.NoError(t, store.Get(jobID, constants.ArtifactWinners, &winners))
	require.Len(t, winners.Winners, 1)
	assert.Equal(t, "repetition_time_ms", winners.Winners[0].ParameterName)

	// The persisted candidate log reflects the widened window.
	var log entity.CandidateLog
	require.NoError(t, store.Get(jobID, constants.ArtifactCandidates, &log))
	require.Len(t, log.Candidates, 1)
	assert.Equal(t, entity.PageRange{Start: 0, End: 2}, log.Candidates[0].SourcePageRange)
}

func TestRunEmptyTriageOnImagingDocIsTerminal(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	// Every page classifies as irrelevant: imaging doc, nothing to extract.
	client.reply("pageclass", map[string]any{"labels": []string{"references"}, "score": 0.0})
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-empty-triage"
	seedPages(t, store, jobID, "reference list", "acknowledgements")

	_, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.Error(t, err)
	assert.Equal(t, llm.ExtractionFailure, llm.KindOf(err))

	var status entity.Status
	require.NoError(t, store.Get(jobID, constants.ArtifactStatus, &status))
	assert.Equal(t, constants.StageError, status.Stage)
	assert.False(t, store.Exists(jobID, constants.ArtifactCandidates))
}

func TestRunTitleFailureDegradesButCompletes(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	client.fail("title")
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-degraded"
	seedPages(t, store, jobID, "page one", "methods page")

	status, err := r.Run(context.Background(), jobID, "unused.pdf")
	require.NoError(t, err)
	assert.Equal(t, constants.StageDone, status.Stage)

	var meta entity.Meta
	require.NoError(t, store.Get(jobID, constants.ArtifactMeta, &meta))
	assert.True(t, meta.Degraded)
	assert.Empty(t, meta.Title)
}

func TestRunCancelledBeforeStart(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), quietLogger())
	client := happyPathClient()
	r := NewRunner(store, client, testPipelineConfig(), quietLogger())

	jobID := "job-cancel"
	seedPages(t, store, jobID, "page one")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Run(ctx, jobID, "unused.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrCancelled)
}
