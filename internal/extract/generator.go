package extract

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/llm"
)

// Generator asks the reasoning service to propose parameter candidates per
// extraction window. A window that fails after the client's retries
// contributes zero candidates and is recorded, never fatal on its own.
type Generator struct {
	client llm.Client
	logger *slog.Logger
}

func NewGenerator(client llm.Client, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{client: client, logger: logger}
}

// Generate runs one reasoning call per window and appends candidates in
// window-traversal order. It returns an error only when every window failed,
// since then nothing downstream can adjudicate.
func (g *Generator) Generate(ctx context.Context, pages []entity.PageRecord, triaged []entity.SectionCandidate, windowSize, stride int) (entity.CandidateLog, error) {
	windows := BuildWindows(pages, triaged, windowSize, stride)

	log := entity.CandidateLog{
		SchemaVersion: 1,
		Candidates:    []entity.Candidate{},
	}
	if len(windows) == 0 {
		return log, nil
	}

	schema := llm.BuildCandidatesJSONSchema(constants.ParameterNames())
	attempted := 0
	failed := 0
	for _, w := range windows {
		if w.Text == "" {
			continue
		}
		attempted++
		raw, err := g.client.CallJSON(ctx, llm.Request{
			System: extractSystemPrompt,
			User:   fmt.Sprintf(extractUserTemplate, w.Text, w.Start, w.End),
			Schema: schema,
		})
		if err != nil {
			failed++
			log.FailedWindows = append(log.FailedWindows, entity.PageRange{Start: w.Start, End: w.End})
			g.logger.Warn("extract.window.failed", "start", w.Start, "end", w.End, "error", err)
			continue
		}

		var resp struct {
			Candidates []struct {
				ParameterName string  `json:"parameter_name"`
				Value         any     `json:"value"`
				Unit          string  `json:"unit"`
				RawSnippet    string  `json:"raw_snippet"`
				Confidence    float64 `json:"confidence"`
			} `json:"candidates"`
		}
		if err := llm.DecodeInto(raw, &resp); err != nil {
			failed++
			log.FailedWindows = append(log.FailedWindows, entity.PageRange{Start: w.Start, End: w.End})
			g.logger.Warn("extract.window.failed", "start", w.Start, "end", w.End, "error", err)
			continue
		}

		kept := 0
		for _, c := range resp.Candidates {
			cand, ok := coerceCandidate(c.ParameterName, c.Value, c.Unit, c.RawSnippet, c.Confidence, w)
			if !ok {
				continue
			}
			log.Candidates = append(log.Candidates, cand)
			kept++
		}
		g.logger.Info("extract.window.ok", "start", w.Start, "end", w.End, "candidates", kept)
	}

	// Windows with no text are never submitted, so they don't count toward
	// the all-failed check.
	if attempted > 0 && failed == attempted {
		return log, llm.NewFailure(llm.ExtractionFailure,
			fmt.Sprintf("all %d extraction windows failed", attempted), nil)
	}
	return log, nil
}

// coerceCandidate normalizes one raw model proposal into a Candidate.
// Unknown parameter names are mapped through the synonym table; proposals
// that still don't resolve, or lack a snippet, are dropped.
func coerceCandidate(name string, value any, unit, snippet string, confidence float64, w Window) (entity.Candidate, bool) {
	param, ok := constants.ParameterByName(name)
	if !ok {
		canonical, found := constants.CanonicalParameter(name)
		if !found {
			return entity.Candidate{}, false
		}
		param, _ = constants.ParameterByName(canonical)
	}
	if snippet == "" || value == nil {
		return entity.Candidate{}, false
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	if unit == "" {
		unit = param.Unit
	}
	if len(snippet) > 120 {
		snippet = snippet[:120]
	}
	return entity.Candidate{
		ParameterName:   param.Name,
		Value:           value,
		Unit:            unit,
		SourcePageRange: entity.PageRange{Start: w.Start, End: w.End},
		RawSnippet:      snippet,
		Confidence:      confidence,
	}, true
}
