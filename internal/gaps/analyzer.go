package gaps

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/llm"
)

// Analyzer builds the gap report from the adjudicated winners. The report
// itself is deterministic; only the follow-up questions involve the
// reasoning service, and those fall back to templates, so analysis never
// fails outright.
type Analyzer struct {
	client             llm.Client
	logger             *slog.Logger
	ambiguityThreshold float64
}

func NewAnalyzer(client llm.Client, ambiguityThreshold float64, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if ambiguityThreshold <= 0 {
		ambiguityThreshold = 0.5
	}
	return &Analyzer{client: client, logger: logger, ambiguityThreshold: ambiguityThreshold}
}

// Analyze compares the winners against the required parameters for the
// document's modalities. A parameter with any winner, conflicted or not, is
// not missing; conflicts are reported separately.
func (a *Analyzer) Analyze(ctx context.Context, meta entity.Meta, flags entity.DocFlags, winners []entity.Winner, conflicts []entity.ConflictItem) entity.GapReport {
	have := make(map[string]entity.Winner, len(winners))
	for _, w := range winners {
		have[w.ParameterName] = w
	}

	report := entity.GapReport{
		SchemaVersion: 1,
		Missing:       []string{},
		Ambiguous:     []entity.AmbiguousItem{},
		Conflicts:     conflicts,
		Questions:     []string{},
	}
	if report.Conflicts == nil {
		report.Conflicts = []entity.ConflictItem{}
	}

	for _, name := range constants.RequiredForModalities(flags.Modalities) {
		if _, ok := have[name]; !ok {
			report.Missing = append(report.Missing, name)
		}
	}

	for _, w := range winners {
		if w.Conflicted {
			continue // already covered by the conflict entry
		}
		if w.Confidence < a.ambiguityThreshold {
			report.Ambiguous = append(report.Ambiguous, entity.AmbiguousItem{
				ParameterName: w.ParameterName,
				Reason:        fmt.Sprintf("low confidence (%.2f)", w.Confidence),
			})
			continue
		}
		if disjointProvenance(w.Provenance) {
			report.Ambiguous = append(report.Ambiguous, entity.AmbiguousItem{
				ParameterName: w.ParameterName,
				Reason:        "evidence spans disjoint page ranges",
			})
		}
	}

	gaps := gapLines(report)
	if len(gaps) == 0 {
		a.logger.Info("gaps.analyze.ok", "missing", 0, "ambiguous", 0, "conflicts", 0)
		return report
	}

	questions, err := a.generateQuestions(ctx, meta, flags, gaps)
	if err != nil {
		a.logger.Warn("gaps.questions.fallback", "error", err)
		questions = templateQuestions(report)
		report.Degraded = true
	}
	report.Questions = questions

	a.logger.Info("gaps.analyze.ok",
		"missing", len(report.Missing),
		"ambiguous", len(report.Ambiguous),
		"conflicts", len(report.Conflicts),
		"questions", len(report.Questions),
	)
	return report
}

func (a *Analyzer) generateQuestions(ctx context.Context, meta entity.Meta, flags entity.DocFlags, gaps []string) ([]string, error) {
	raw, err := a.client.CallJSON(ctx, llm.Request{
		System: questionsSystemPrompt,
		User:   fmt.Sprintf(questionsUserTemplate, meta.Title, strings.Join(flags.Modalities, ", "), strings.Join(gaps, "\n")),
		Schema: llm.BuildQuestionsJSONSchema(),
	})
	if err != nil {
		return nil, err
	}
	var resp struct {
		Questions []string `json:"questions"`
	}
	if err := llm.DecodeInto(raw, &resp); err != nil {
		return nil, err
	}
	if len(resp.Questions) == 0 {
		return nil, fmt.Errorf("question generation returned no questions")
	}
	return resp.Questions, nil
}

// disjointProvenance reports whether the supporting page ranges leave a gap:
// agreement from far-apart pages may describe different acquisitions.
func disjointProvenance(ranges []entity.PageRange) bool {
	if len(ranges) < 2 {
		return false
	}
	sorted := make([]entity.PageRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	maxEnd := sorted[0].End
	for _, r := range sorted[1:] {
		if r.Start > maxEnd+1 {
			return true
		}
		if r.End > maxEnd {
			maxEnd = r.End
		}
	}
	return false
}

// gapLines flattens the report into one line per gap for the prompt.
func gapLines(report entity.GapReport) []string {
	var lines []string
	for _, name := range report.Missing {
		lines = append(lines, fmt.Sprintf("MISSING: %s (no value found)", name))
	}
	for _, item := range report.Ambiguous {
		lines = append(lines, fmt.Sprintf("AMBIGUOUS: %s (%s)", item.ParameterName, item.Reason))
	}
	for _, c := range report.Conflicts {
		values := make([]string, 0, len(c.Candidates))
		for _, cd := range c.Candidates {
			values = append(values, fmt.Sprintf("%v", cd.Value))
		}
		lines = append(lines, fmt.Sprintf("CONFLICT: %s (competing values: %s)", c.ParameterName, strings.Join(values, " vs ")))
	}
	return lines
}

// templateQuestions produces one deterministic question per gap, in the same
// order as gapLines, when the reasoning service is unavailable.
func templateQuestions(report entity.GapReport) []string {
	var questions []string
	for _, name := range report.Missing {
		questions = append(questions, fmt.Sprintf("What %s was used for this acquisition?", displayName(name)))
	}
	for _, item := range report.Ambiguous {
		questions = append(questions, fmt.Sprintf("Can you confirm the %s? The reported value had %s.", displayName(item.ParameterName), item.Reason))
	}
	for _, c := range report.Conflicts {
		values := make([]string, 0, len(c.Candidates))
		for _, cd := range c.Candidates {
			values = append(values, fmt.Sprintf("%v", cd.Value))
		}
		questions = append(questions, fmt.Sprintf("The text reports different values for %s (%s); which one applies?", displayName(c.ParameterName), strings.Join(values, ", ")))
	}
	return questions
}

func displayName(parameter string) string {
	if p, ok := constants.ParameterByName(parameter); ok && p.Unit != "" {
		return fmt.Sprintf("%s (in %s)", strings.ReplaceAll(p.Name, "_", " "), p.Unit)
	}
	return strings.ReplaceAll(parameter, "_", " ")
}
