package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocolpilot/protocolpilot/internal/entity"
	"github.com/protocolpilot/protocolpilot/internal/llm"
)

func pagesOf(texts ...string) []entity.PageRecord {
	out := make([]entity.PageRecord, len(texts))
	for i, t := range texts {
		out[i] = entity.PageRecord{Index: uint(i), Text: t}
	}
	return out
}

func TestInferTitleCleansResult(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"title": "Abstract:  Deep   learning for CT\nreconstruction", "confidence": 0.85, "reasons": ["heading before abstract"]}`), nil
	})
	s := NewService(client, 6, nil)

	meta, err := s.InferTitle(context.Background(), pagesOf("front matter"))
	require.NoError(t, err)
	assert.Equal(t, "Deep learning for CT reconstruction", meta.Title)
	assert.InDelta(t, 0.85, meta.Confidence, 1e-9)
}

func TestInferTitleNoTextShortCircuits(t *testing.T) {
	called := false
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		called = true
		return nil, nil
	})
	s := NewService(client, 6, nil)

	meta, err := s.InferTitle(context.Background(), pagesOf("", ""))
	require.NoError(t, err)
	assert.Empty(t, meta.Title)
	assert.False(t, called)
}

func TestImagingVerdict(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"is_imaging": true, "modalities": ["MRI"], "confidence": 0.9, "reasons": ["TR/TE present"]}`), nil
	})
	s := NewService(client, 6, nil)

	flags, err := s.ImagingVerdict(context.Background(), pagesOf("TR 500 ms, TE 30 ms"))
	require.NoError(t, err)
	assert.True(t, flags.IsImaging)
	assert.Equal(t, []string{"MRI"}, flags.Modalities)
}

func TestImagingVerdictPropagatesFailure(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		return nil, llm.NewFailure(llm.TransportFailure, "boom", nil)
	})
	s := NewService(client, 6, nil)

	_, err := s.ImagingVerdict(context.Background(), pagesOf("text"))
	require.Error(t, err)
	assert.Equal(t, llm.TransportFailure, llm.KindOf(err))
}

func TestTriagePagesKeepsRelevantSorted(t *testing.T) {
	scores := map[string]string{
		"page a": `{"labels": ["methods"], "modalities": ["CT"], "score": 0.6, "evidence": ["kVp 120"]}`,
		"page b": `{"labels": ["other"], "modalities": [], "score": 0.9, "evidence": []}`,
		"page c": `{"labels": ["acquisition"], "modalities": [], "score": 0.8, "evidence": ["slice thickness"]}`,
	}
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		for key, resp := range scores {
			if containsText(req.User, key) {
				return json.RawMessage(resp), nil
			}
		}
		return nil, fmt.Errorf("unexpected page")
	})
	s := NewService(client, 6, nil)

	sections, err := s.TriagePages(context.Background(), pagesOf("page a", "page b", "page c"))
	require.NoError(t, err)
	// "page b" is labeled other with no modalities and must be dropped;
	// remaining candidates sorted by relevance.
	require.Len(t, sections.Candidates, 2)
	assert.Equal(t, uint(2), sections.Candidates[0].PageIndex)
	assert.Equal(t, uint(0), sections.Candidates[1].PageIndex)
}

func TestTriagePagesSkipsFailedPages(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		if containsText(req.User, "bad page") {
			return nil, llm.NewFailure(llm.MalformedOutput, "noise", nil)
		}
		return json.RawMessage(`{"labels": ["methods"], "modalities": [], "score": 0.7, "evidence": []}`), nil
	})
	s := NewService(client, 6, nil)

	sections, err := s.TriagePages(context.Background(), pagesOf("good page", "bad page"))
	require.NoError(t, err)
	require.Len(t, sections.Candidates, 1)
	assert.Equal(t, uint(0), sections.Candidates[0].PageIndex)
}

func TestTriagePagesAllFailedIsError(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		return nil, llm.NewFailure(llm.TransportFailure, "down", nil)
	})
	s := NewService(client, 6, nil)

	_, err := s.TriagePages(context.Background(), pagesOf("one", "two"))
	require.Error(t, err)
}

func TestTriagePagesHonorsTopK(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (json.RawMessage, error) {
		return json.RawMessage(`{"labels": ["methods"], "modalities": [], "score": 0.7, "evidence": []}`), nil
	})
	s := NewService(client, 2, nil)

	sections, err := s.TriagePages(context.Background(), pagesOf("a", "b", "c", "d"))
	require.NoError(t, err)
	assert.Len(t, sections.Candidates, 2)
}

func containsText(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}
