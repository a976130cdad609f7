package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protocolpilot/protocolpilot/internal/entity"
)

func cand(name string, value any, conf float64, start, end uint) entity.Candidate {
	return entity.Candidate{
		ParameterName:   name,
		Value:           value,
		Unit:            "",
		SourcePageRange: entity.PageRange{Start: start, End: end},
		RawSnippet:      "snippet",
		Confidence:      conf,
	}
}

func TestAdjudicateUnanimousAgreement(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate([]entity.Candidate{
		cand("repetition_time_ms", float64(500), 0.9, 1, 2),
		cand("repetition_time_ms", float64(500), 0.85, 2, 3),
		cand("repetition_time_ms", float64(500), 0.8, 3, 4),
	})

	require.Len(t, winners, 1)
	assert.Empty(t, conflicts)
	w := winners[0]
	assert.Equal(t, "repetition_time_ms", w.ParameterName)
	assert.Equal(t, float64(500), w.Value)
	assert.Equal(t, uint(3), w.AgreementCount)
	assert.False(t, w.Conflicted)
	assert.InDelta(t, 0.85, w.Confidence, 1e-9)
	require.Len(t, w.Provenance, 3)
	assert.Equal(t, uint(1), w.Provenance[0].Start)
}

func TestAdjudicateMajorityWins(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate([]entity.Candidate{
		cand("flip_angle_deg", float64(90), 0.8, 1, 2),
		cand("flip_angle_deg", float64(90), 0.7, 2, 3),
		cand("flip_angle_deg", float64(30), 0.95, 3, 4),
	})

	require.Len(t, winners, 1)
	// A 2-vs-1 split is a majority, not a conflict.
	assert.Empty(t, conflicts)
	w := winners[0]
	assert.Equal(t, float64(90), w.Value)
	assert.Equal(t, uint(2), w.AgreementCount)
	assert.False(t, w.Conflicted)
}

func TestAdjudicateConflictCapsConfidence(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate([]entity.Candidate{
		cand("kVp", float64(120), 0.9, 0, 1),
		cand("kVp", float64(100), 0.8, 2, 3),
	})

	require.Len(t, winners, 1)
	require.Len(t, conflicts, 1)
	w := winners[0]
	assert.True(t, w.Conflicted)
	assert.Equal(t, float64(120), w.Value)
	assert.LessOrEqual(t, w.Confidence, 0.3)
	assert.Equal(t, "kVp", conflicts[0].ParameterName)
	assert.Len(t, conflicts[0].Candidates, 2)
}

func TestAdjudicateNumericTolerance(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate([]entity.Candidate{
		cand("slice_thickness_mm", float64(1.25), 0.9, 0, 1),
		cand("slice_thickness_mm", float64(1.253), 0.8, 1, 2),
	})

	require.Len(t, winners, 1)
	assert.Empty(t, conflicts)
	assert.Equal(t, uint(2), winners[0].AgreementCount)
}

func TestAdjudicateCategoricalCaseInsensitive(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate([]entity.Candidate{
		cand("kernel", "B30f", 0.9, 0, 1),
		cand("kernel", "b30f", 0.8, 1, 2),
	})

	require.Len(t, winners, 1)
	assert.Empty(t, conflicts)
	assert.Equal(t, uint(2), winners[0].AgreementCount)
	assert.Equal(t, "B30f", winners[0].Value)
}

func TestAdjudicateVectorsElementwise(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate([]entity.Candidate{
		cand("voxel_size_mm", []any{float64(1), float64(1), float64(3)}, 0.9, 0, 1),
		cand("voxel_size_mm", []any{float64(1), float64(1), float64(3)}, 0.8, 1, 2),
		cand("voxel_size_mm", []any{float64(1), float64(1), float64(1)}, 0.85, 2, 3),
	})

	require.Len(t, winners, 1)
	assert.Empty(t, conflicts)
	assert.Equal(t, uint(2), winners[0].AgreementCount)
}

func TestAdjudicateTieBrokenByMeanConfidence(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, _ := a.Adjudicate([]entity.Candidate{
		cand("mAs", float64(150), 0.6, 0, 1),
		cand("mAs", float64(200), 0.9, 1, 2),
	})

	require.Len(t, winners, 1)
	assert.Equal(t, float64(200), winners[0].Value)
}

func TestAdjudicateDedupesProvenance(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, _ := a.Adjudicate([]entity.Candidate{
		cand("echo_time_ms", float64(30), 0.9, 1, 2),
		cand("echo_time_ms", float64(30), 0.8, 1, 2),
	})

	require.Len(t, winners, 1)
	assert.Len(t, winners[0].Provenance, 1)
	assert.Equal(t, uint(2), winners[0].AgreementCount)
}

func TestAdjudicateEmptyInput(t *testing.T) {
	a := NewAdjudicator(0.01, 0.3)
	winners, conflicts := a.Adjudicate(nil)
	assert.Empty(t, winners)
	assert.Empty(t, conflicts)
}
