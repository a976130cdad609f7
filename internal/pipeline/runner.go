package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/document"
	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/extract"
	"github.com/protocolpilot/protocolpilot/internal/gaps"
	"github.com/protocolpilot/protocolpilot/internal/llm"
	"github.com/protocolpilot/protocolpilot/internal/triage"
)

// Runner drives one job through the fixed stage sequence. Every stage writes
// its artifact before the status advances, so a crashed run resumes from the
// first absent artifact and never re-invokes the reasoning service for work
// already persisted.
type Runner struct {
	store       *artifact.Store
	extractor   *document.Extractor
	triage      *triage.Service
	generator   *extract.Generator
	adjudicator *extract.Adjudicator
	analyzer    *gaps.Analyzer
	cfg         common.PipelineConfig
	logger      *slog.Logger
}

func NewRunner(store *artifact.Store, client llm.Client, cfg common.PipelineConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:       store,
		extractor:   document.NewExtractor(logger),
		triage:      triage.NewService(client, cfg.TriageTopK, logger),
		generator:   extract.NewGenerator(client, logger),
		adjudicator: extract.NewAdjudicator(cfg.NumericTolerance, cfg.ConflictConfidenceCap),
		analyzer:    gaps.NewAnalyzer(client, cfg.AmbiguityThreshold, logger),
		cfg:         cfg,
		logger:      logger,
	}
}

// Run processes the job end to end and returns its final status. Calling Run
// on a finished job is a no-op that returns the persisted status.
func (r *Runner) Run(ctx context.Context, jobID, sourcePath string) (entity.Status, error) {
	status, err := r.loadStatus(jobID)
	if err != nil {
		return entity.Status{}, err
	}
	if status.Stage == constants.StageDone || status.Stage == constants.StageError {
		r.logger.Info("pipeline.skip.finished", "job_id", jobID, "stage", status.Stage)
		return status, nil
	}

	r.logger.Info("pipeline.run.start", "job_id", jobID, "resume_stage", status.Stage)

	pages, err := r.stagePages(ctx, jobID, &status, sourcePath)
	if err != nil {
		return status, err
	}

	if err := r.stageTitle(ctx, jobID, &status, pages); err != nil {
		return status, err
	}

	flags, err := r.stageVerdict(ctx, jobID, &status, pages)
	if err != nil {
		return status, err
	}
	if !flags.IsImaging {
		// Hard short-circuit: no triage, extraction, or gap artifacts exist
		// for a non-imaging document.
		status.Stage = constants.StageDone
		status.Outcome = constants.OutcomeNonImaging
		status.Processing = ""
		if err := r.putStatus(jobID, &status); err != nil {
			return status, err
		}
		r.logger.Info("pipeline.run.done", "job_id", jobID, "outcome", status.Outcome)
		return status, nil
	}
	status.Outcome = constants.OutcomeImaging

	sections, err := r.stageTriage(ctx, jobID, &status, pages)
	if err != nil {
		return status, err
	}
	if len(sections.Candidates) == 0 {
		// An imaging document with no triaged pages has nothing to extract
		// from; per-parameter gaps would be meaningless.
		err := llm.NewFailure(llm.ExtractionFailure, "no relevant pages found for an imaging document", nil)
		return status, r.failStage(jobID, &status, constants.StagePagesTriaged, 1, err)
	}

	log, err := r.stageExtract(ctx, jobID, &status, pages, sections.Candidates)
	if err != nil {
		return status, err
	}

	winners, conflicts, err := r.stageAdjudicate(ctx, jobID, &status, pages, sections.Candidates, log)
	if err != nil {
		return status, err
	}

	if err := r.stageGaps(ctx, jobID, &status, flags, winners, conflicts); err != nil {
		return status, err
	}

	status.Stage = constants.StageDone
	status.Processing = ""
	if err := r.putStatus(jobID, &status); err != nil {
		return status, err
	}
	r.logger.Info("pipeline.run.done", "job_id", jobID, "outcome", status.Outcome)
	return status, nil
}

// stagePages produces the page records, reading the persisted artifact when a
// previous run already extracted them.
func (r *Runner) stagePages(ctx context.Context, jobID string, status *entity.Status, sourcePath string) ([]entity.PageRecord, error) {
	if r.store.Exists(jobID, constants.ArtifactPages) {
		var pages entity.Pages
		if err := r.store.Get(jobID, constants.ArtifactPages, &pages); err == nil {
			return pages.Pages, nil
		}
	}
	if err := r.beginStage(ctx, jobID, status, constants.StageCreated); err != nil {
		return nil, err
	}

	var records []entity.PageRecord
	attempts, err := r.withRetry(ctx, "document.extract", func() error {
		data, err := os.ReadFile(sourcePath)
		if err != nil {
			return common.WrapError(err, "read source document")
		}
		records, err = r.extractor.Extract(data)
		return err
	})
	if err != nil {
		return nil, r.failStage(jobID, status, constants.StageCreated, attempts, err)
	}

	doc := entity.Pages{SchemaVersion: 1, SourcePath: sourcePath, Pages: records}
	if err := r.store.Put(jobID, constants.ArtifactPages, doc); err != nil {
		return nil, r.failStage(jobID, status, constants.StageCreated, attempts, err)
	}
	if err := r.okStage(jobID, status, constants.StageCreated, attempts); err != nil {
		return nil, err
	}
	return records, nil
}

// stageTitle is non-gating: when inference fails after retries the job keeps
// going with a degraded meta artifact.
func (r *Runner) stageTitle(ctx context.Context, jobID string, status *entity.Status, pages []entity.PageRecord) error {
	if r.store.Exists(jobID, constants.ArtifactMeta) {
		return nil
	}
	if err := r.beginStage(ctx, jobID, status, constants.StageTitleInferred); err != nil {
		return err
	}

	var meta entity.Meta
	attempts, err := r.withRetry(ctx, "triage.title", func() error {
		var err error
		meta, err = r.triage.InferTitle(ctx, pages)
		return err
	})
	if err != nil {
		r.logger.Warn("pipeline.title.degraded", "job_id", jobID, "error", err)
		meta = entity.Meta{SchemaVersion: 1, Degraded: true, Reasons: []string{"title inference failed"}}
	}

	if putErr := r.store.Put(jobID, constants.ArtifactMeta, meta); putErr != nil {
		return r.failStage(jobID, status, constants.StageTitleInferred, attempts, putErr)
	}
	return r.okStage(jobID, status, constants.StageTitleInferred, attempts)
}

func (r *Runner) stageVerdict(ctx context.Context, jobID string, status *entity.Status, pages []entity.PageRecord) (entity.DocFlags, error) {
	if r.store.Exists(jobID, constants.ArtifactDocFlags) {
		var flags entity.DocFlags
		if err := r.store.Get(jobID, constants.ArtifactDocFlags, &flags); err == nil {
			return flags, nil
		}
	}
	if err := r.beginStage(ctx, jobID, status, constants.StageVerdictReached); err != nil {
		return entity.DocFlags{}, err
	}

	var flags entity.DocFlags
	attempts, err := r.withRetry(ctx, "triage.verdict", func() error {
		var err error
		flags, err = r.triage.ImagingVerdict(ctx, pages)
		return err
	})
	if err != nil {
		return entity.DocFlags{}, r.failStage(jobID, status, constants.StageVerdictReached, attempts, err)
	}

	if err := r.store.Put(jobID, constants.ArtifactDocFlags, flags); err != nil {
		return entity.DocFlags{}, r.failStage(jobID, status, constants.StageVerdictReached, attempts, err)
	}
	if err := r.okStage(jobID, status, constants.StageVerdictReached, attempts); err != nil {
		return entity.DocFlags{}, err
	}
	return flags, nil
}

func (r *Runner) stageTriage(ctx context.Context, jobID string, status *entity.Status, pages []entity.PageRecord) (entity.Sections, error) {
	if r.store.Exists(jobID, constants.ArtifactSections) {
		var sections entity.Sections
		if err := r.store.Get(jobID, constants.ArtifactSections, &sections); err == nil {
			return sections, nil
		}
	}
	if err := r.beginStage(ctx, jobID, status, constants.StagePagesTriaged); err != nil {
		return entity.Sections{}, err
	}

	var sections entity.Sections
	attempts, err := r.withRetry(ctx, "triage.pages", func() error {
		var err error
		sections, err = r.triage.TriagePages(ctx, pages)
		return err
	})
	if err != nil {
		return entity.Sections{}, r.failStage(jobID, status, constants.StagePagesTriaged, attempts, err)
	}

	if err := r.store.Put(jobID, constants.ArtifactSections, sections); err != nil {
		return entity.Sections{}, r.failStage(jobID, status, constants.StagePagesTriaged, attempts, err)
	}
	if err := r.okStage(jobID, status, constants.StagePagesTriaged, attempts); err != nil {
		return entity.Sections{}, err
	}
	return sections, nil
}

func (r *Runner) stageExtract(ctx context.Context, jobID string, status *entity.Status, pages []entity.PageRecord, triaged []entity.SectionCandidate) (entity.CandidateLog, error) {
	if r.store.Exists(jobID, constants.ArtifactCandidates) {
		var log entity.CandidateLog
		if err := r.store.Get(jobID, constants.ArtifactCandidates, &log); err == nil {
			return log, nil
		}
	}
	if err := r.beginStage(ctx, jobID, status, constants.StageCandidatesExtracted); err != nil {
		return entity.CandidateLog{}, err
	}

	var log entity.CandidateLog
	attempts, err := r.withRetry(ctx, "extract.generate", func() error {
		var err error
		log, err = r.generator.Generate(ctx, pages, triaged, r.cfg.WindowSize, r.cfg.Stride)
		return err
	})
	if err != nil {
		return entity.CandidateLog{}, r.failStage(jobID, status, constants.StageCandidatesExtracted, attempts, err)
	}

	if err := r.store.Put(jobID, constants.ArtifactCandidates, log); err != nil {
		return entity.CandidateLog{}, r.failStage(jobID, status, constants.StageCandidatesExtracted, attempts, err)
	}
	if err := r.okStage(jobID, status, constants.StageCandidatesExtracted, attempts); err != nil {
		return entity.CandidateLog{}, err
	}
	return log, nil
}

// stageAdjudicate reconciles candidates into winners. When adjudication
// yields nothing despite a highly relevant triaged page, one wider
// re-extraction pass is spent before accepting the empty result.
func (r *Runner) stageAdjudicate(ctx context.Context, jobID string, status *entity.Status, pages []entity.PageRecord, triaged []entity.SectionCandidate, log entity.CandidateLog) ([]entity.Winner, []entity.ConflictItem, error) {
	if r.store.Exists(jobID, constants.ArtifactWinners) {
		var winners entity.Winners
		if err := r.store.Get(jobID, constants.ArtifactWinners, &winners); err == nil {
			_, conflicts := r.adjudicator.Adjudicate(log.Candidates)
			return winners.Winners, conflicts, nil
		}
	}
	if err := r.beginStage(ctx, jobID, status, constants.StageAdjudicated); err != nil {
		return nil, nil, err
	}

	winners, conflicts := r.adjudicator.Adjudicate(log.Candidates)

	if len(winners) == 0 && r.cfg.ReextractBudget > 0 && maxRelevance(triaged) >= r.cfg.ReextractMinRelevance {
		r.logger.Info("pipeline.reextract", "job_id", jobID, "window_size", r.cfg.WindowSize+1)
		wider, err := r.generator.Generate(ctx, pages, triaged, r.cfg.WindowSize+1, r.cfg.Stride)
		if err != nil {
			r.logger.Warn("pipeline.reextract.failed", "job_id", jobID,
				"error", llm.NewFailure(llm.BudgetExhausted, "re-extraction pass failed", err))
		} else {
			if putErr := r.store.Put(jobID, constants.ArtifactCandidates, wider); putErr != nil {
				return nil, nil, r.failStage(jobID, status, constants.StageAdjudicated, 1, putErr)
			}
			winners, conflicts = r.adjudicator.Adjudicate(wider.Candidates)
		}
	}

	doc := entity.Winners{SchemaVersion: 1, Winners: winners}
	if doc.Winners == nil {
		doc.Winners = []entity.Winner{}
	}
	if err := r.store.Put(jobID, constants.ArtifactWinners, doc); err != nil {
		return nil, nil, r.failStage(jobID, status, constants.StageAdjudicated, 1, err)
	}
	if err := r.okStage(jobID, status, constants.StageAdjudicated, 1); err != nil {
		return nil, nil, err
	}
	return winners, conflicts, nil
}

// stageGaps never fails the job: the analyzer degrades internally and any
// residual error just yields a stub report.
func (r *Runner) stageGaps(ctx context.Context, jobID string, status *entity.Status, flags entity.DocFlags, winners []entity.Winner, conflicts []entity.ConflictItem) error {
	if r.store.Exists(jobID, constants.ArtifactGapReport) {
		return nil
	}
	if err := r.beginStage(ctx, jobID, status, constants.StageGapsBuilt); err != nil {
		return err
	}

	var meta entity.Meta
	_ = r.store.Get(jobID, constants.ArtifactMeta, &meta)

	report := r.analyzer.Analyze(ctx, meta, flags, winners, conflicts)
	if err := r.store.Put(jobID, constants.ArtifactGapReport, report); err != nil {
		return r.failStage(jobID, status, constants.StageGapsBuilt, 1, err)
	}
	return r.okStage(jobID, status, constants.StageGapsBuilt, 1)
}

// loadStatus reads the status artifact, initializing it on first run.
func (r *Runner) loadStatus(jobID string) (entity.Status, error) {
	var status entity.Status
	err := r.store.Get(jobID, constants.ArtifactStatus, &status)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return entity.Status{}, err
	}
	status = entity.Status{
		SchemaVersion: 1,
		JobID:         jobID,
		Stage:         constants.StageCreated,
		Outcome:       constants.OutcomePending,
		UpdatedAt:     time.Now().UTC(),
	}
	if err := r.putStatus(jobID, &status); err != nil {
		return entity.Status{}, err
	}
	return status, nil
}

func (r *Runner) putStatus(jobID string, status *entity.Status) error {
	status.UpdatedAt = time.Now().UTC()
	return r.store.Put(jobID, constants.ArtifactStatus, status)
}

// beginStage checks for cancellation and marks the stage as in flight so a
// poller can distinguish "working" from "stuck between stages".
func (r *Runner) beginStage(ctx context.Context, jobID string, status *entity.Status, stage constants.Stage) error {
	if err := ctx.Err(); err != nil {
		return common.NewAppError("CANCELLED", fmt.Sprintf("job cancelled before %s", stage), common.ErrCancelled)
	}
	status.Processing = string(stage)
	return r.putStatus(jobID, status)
}

func (r *Runner) okStage(jobID string, status *entity.Status, stage constants.Stage, attempts int) error {
	status.Stage = stage
	status.Processing = ""
	status.PerStage = append(status.PerStage, entity.StageResult{
		StageName:    stage,
		Status:       constants.StageOK,
		AttemptCount: attempts,
		Timestamp:    time.Now().UTC(),
	})
	return r.putStatus(jobID, status)
}

// failStage records the failure, transitions the job to its terminal error
// state, and returns the original error. attempts is the number of attempts
// the stage actually made, which can be fewer than the configured budget when
// the failure is not worth retrying.
func (r *Runner) failStage(jobID string, status *entity.Status, stage constants.Stage, attempts int, cause error) error {
	status.Stage = constants.StageError
	status.Outcome = constants.OutcomeError
	status.Processing = ""
	status.PerStage = append(status.PerStage, entity.StageResult{
		StageName:    stage,
		Status:       constants.StageFailed,
		AttemptCount: attempts,
		ErrorKind:    errorKind(cause),
		ErrorDetail:  cause.Error(),
		Timestamp:    time.Now().UTC(),
	})
	if err := r.putStatus(jobID, status); err != nil {
		r.logger.Error("pipeline.status.write_failed", "job_id", jobID, "error", err)
	}
	r.logger.Error("pipeline.stage.failed", "job_id", jobID, "stage", stage, "error", cause)
	return cause
}

// withRetry runs fn up to StageAttempts times with exponential backoff and
// returns how many attempts were actually made. This is a coarse outer layer
// over the reasoning client's own per-call retries, covering transient
// faults the client classifies as terminal for one call.
func (r *Runner) withRetry(ctx context.Context, name string, fn func() error) (int, error) {
	budget := r.cfg.StageAttempts
	if budget < 1 {
		budget = 1
	}
	made := 0
	var lastErr error
	for i := 0; i < budget; i++ {
		if err := ctx.Err(); err != nil {
			return made, common.NewAppError("CANCELLED", "job cancelled during "+name, common.ErrCancelled)
		}
		made++
		lastErr = fn()
		if lastErr == nil {
			return made, nil
		}
		if kind := llm.KindOf(lastErr); kind == llm.SchemaViolation {
			break // deterministic contract failure, another pass won't help
		}
		if i < budget-1 {
			r.logger.Warn("pipeline.stage.retry", "stage", name, "attempt", made, "error", lastErr)
			delay := r.cfg.StageBackoffBase << uint(i)
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return made, common.NewAppError("CANCELLED", "job cancelled during "+name, common.ErrCancelled)
				}
			}
		}
	}
	return made, lastErr
}

func errorKind(err error) string {
	if kind := llm.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, document.ErrNoText) {
		return "no_text"
	}
	if errors.Is(err, common.ErrCancelled) {
		return "cancelled"
	}
	return "internal"
}

func maxRelevance(triaged []entity.SectionCandidate) float64 {
	max := 0.0
	for _, c := range triaged {
		if c.Relevance > max {
			max = c.Relevance
		}
	}
	return max
}
