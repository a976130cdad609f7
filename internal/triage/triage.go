package triage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/llm"
)

// Service runs the document-level reasoning stages that precede extraction:
// title inference, the imaging verdict, and per-page triage.
type Service struct {
	client llm.Client
	logger *slog.Logger
	topK   int
}

func NewService(client llm.Client, topK int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if topK <= 0 {
		topK = 6
	}
	return &Service{client: client, logger: logger, topK: topK}
}

// InferTitle extracts the main article title from the first pages.
func (s *Service) InferTitle(ctx context.Context, pages []entity.PageRecord) (entity.Meta, error) {
	early := earlyText(pages, 2, 3000)
	if early == "" {
		return entity.Meta{SchemaVersion: 1, Reasons: []string{"no text available"}}, nil
	}

	raw, err := s.client.CallJSON(ctx, llm.Request{
		System: titleSystemPrompt,
		User:   fmt.Sprintf(titleUserTemplate, early),
		Schema: llm.BuildTitleJSONSchema(),
	})
	if err != nil {
		return entity.Meta{}, fmt.Errorf("title inference: %w", err)
	}

	var resp struct {
		Title      string   `json:"title"`
		Confidence float64  `json:"confidence"`
		Reasons    []string `json:"reasons"`
	}
	if err := llm.DecodeInto(raw, &resp); err != nil {
		return entity.Meta{}, fmt.Errorf("decode title response: %w", err)
	}

	title := cleanTitle(resp.Title)
	s.logger.Info("triage.title.ok", "title", title, "confidence", resp.Confidence)
	return entity.Meta{
		SchemaVersion: 1,
		Title:         title,
		Confidence:    resp.Confidence,
		Reasons:       resp.Reasons,
	}, nil
}

// ImagingVerdict classifies the document as imaging or non-imaging from its
// early pages.
func (s *Service) ImagingVerdict(ctx context.Context, pages []entity.PageRecord) (entity.DocFlags, error) {
	early := earlyText(pages, 3, 6000)

	raw, err := s.client.CallJSON(ctx, llm.Request{
		System: verdictSystemPrompt,
		User:   fmt.Sprintf(verdictUserTemplate, early),
		Schema: llm.BuildVerdictJSONSchema(),
	})
	if err != nil {
		return entity.DocFlags{}, fmt.Errorf("imaging verdict: %w", err)
	}

	var resp struct {
		IsImaging      bool     `json:"is_imaging"`
		Modalities     []string `json:"modalities"`
		Confidence     float64  `json:"confidence"`
		Reasons        []string `json:"reasons"`
		CounterSignals []string `json:"counter_signals"`
	}
	if err := llm.DecodeInto(raw, &resp); err != nil {
		return entity.DocFlags{}, fmt.Errorf("decode verdict response: %w", err)
	}

	flags := entity.DocFlags{
		SchemaVersion:  1,
		IsImaging:      resp.IsImaging,
		Modalities:     resp.Modalities,
		Confidence:     resp.Confidence,
		Reasons:        resp.Reasons,
		CounterSignals: resp.CounterSignals,
	}
	if flags.Modalities == nil {
		flags.Modalities = []string{}
	}
	s.logger.Info("triage.verdict.ok",
		"is_imaging", flags.IsImaging,
		"modalities", strings.Join(flags.Modalities, ","),
		"confidence", flags.Confidence,
	)
	return flags, nil
}

// TriagePages classifies every page and keeps the top-k that look like
// methods/acquisition content. A page whose classification fails is skipped;
// the stage fails only when every attempted page failed.
func (s *Service) TriagePages(ctx context.Context, pages []entity.PageRecord) (entity.Sections, error) {
	var candidates []entity.SectionCandidate
	attempted, failed := 0, 0

	for _, p := range pages {
		if p.Text == "" {
			continue
		}
		attempted++

		raw, err := s.client.CallJSON(ctx, llm.Request{
			System: pageClassSystemPrompt,
			User:   fmt.Sprintf(pageClassUserTemplate, p.Text),
			Schema: llm.BuildPageClassJSONSchema(),
		})
		if err != nil {
			failed++
			s.logger.Warn("triage.page.skipped", "page", p.Index, "error", err)
			continue
		}

		var resp struct {
			Labels     []string `json:"labels"`
			Modalities []string `json:"modalities"`
			Score      float64  `json:"score"`
			Evidence   []string `json:"evidence"`
		}
		if err := llm.DecodeInto(raw, &resp); err != nil {
			failed++
			s.logger.Warn("triage.page.skipped", "page", p.Index, "error", err)
			continue
		}

		if !relevantPage(resp.Labels, resp.Modalities, resp.Score) {
			continue
		}
		if len(resp.Evidence) > 3 {
			resp.Evidence = resp.Evidence[:3]
		}
		candidates = append(candidates, entity.SectionCandidate{
			PageIndex:  p.Index,
			Relevance:  resp.Score,
			Reason:     strings.Join(resp.Labels, ","),
			Labels:     resp.Labels,
			Modalities: resp.Modalities,
			Snippets:   resp.Evidence,
		})
	}

	if attempted > 0 && failed == attempted {
		return entity.Sections{}, fmt.Errorf("page triage: all %d pages failed classification", attempted)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Relevance > candidates[j].Relevance
	})
	if len(candidates) > s.topK {
		candidates = candidates[:s.topK]
	}
	if candidates == nil {
		candidates = []entity.SectionCandidate{}
	}

	s.logger.Info("triage.pages.ok", "attempted", attempted, "failed", failed, "kept", len(candidates))
	return entity.Sections{SchemaVersion: 1, Candidates: candidates}, nil
}

func relevantPage(labels, modalities []string, score float64) bool {
	if score <= 0 {
		return false
	}
	if len(modalities) > 0 {
		return true
	}
	for _, l := range labels {
		if l == "methods" || l == "acquisition" {
			return true
		}
	}
	return false
}

// earlyText joins the first maxPages non-empty pages, capped at maxChars.
func earlyText(pages []entity.PageRecord, maxPages, maxChars int) string {
	var blocks []string
	for i, p := range pages {
		if i >= maxPages {
			break
		}
		if t := strings.TrimSpace(p.Text); t != "" {
			blocks = append(blocks, t)
		}
	}
	joined := strings.Join(blocks, "\n\n")
	if len(joined) > maxChars {
		joined = joined[:maxChars]
	}
	return joined
}

func cleanTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	if len(title) > 300 {
		title = title[:297] + "..."
	}
	if strings.HasPrefix(strings.ToLower(title), "abstract") {
		title = strings.Trim(title[len("abstract"):], " :-")
	}
	return title
}
