package export

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/common"
	"github.com/protocolpilot/protocolpilot/internal/entity"
)

func seededStore(t *testing.T) *artifact.Store {
	t.Helper()
	store := artifact.NewStore(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, store.Put("job-1", constants.ArtifactMeta, entity.Meta{SchemaVersion: 1, Title: "MRI Protocol Study"}))
	require.NoError(t, store.Put("job-1", constants.ArtifactWinners, entity.Winners{
		SchemaVersion: 1,
		Winners: []entity.Winner{
			{
				ParameterName:  "repetition_time_ms",
				Value:          500.0,
				Unit:           "ms",
				Confidence:     0.9,
				Provenance:     []entity.PageRange{{Start: 1, End: 2}, {Start: 3, End: 3}},
				AgreementCount: 3,
			},
			{
				ParameterName:  "flip_angle_deg",
				Value:          90.0,
				Unit:           "deg",
				Confidence:     0.3,
				Provenance:     []entity.PageRange{{Start: 2, End: 3}},
				AgreementCount: 1,
				Conflicted:     true,
			},
		},
	}))
	require.NoError(t, store.Put("job-1", constants.ArtifactGapReport, entity.GapReport{
		SchemaVersion: 1,
		Missing:       []string{"echo_time_ms"},
		Ambiguous:     []entity.AmbiguousItem{{ParameterName: "fov_mm", Reason: "low confidence (0.20)"}},
		Questions:     []string{"What echo time was used?"},
	}))
	return store
}

func TestExportJobXLSX(t *testing.T) {
	svc := NewService(seededStore(t), slog.New(slog.DiscardHandler))

	data, err := svc.ExportJobXLSX("job-1")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("Protocol", "B1")
	require.NoError(t, err)
	assert.Equal(t, "MRI Protocol Study", title)

	param, err := f.GetCellValue("Protocol", "A4")
	require.NoError(t, err)
	assert.Equal(t, "repetition_time_ms", param)

	pages, err := f.GetCellValue("Protocol", "F4")
	require.NoError(t, err)
	assert.Equal(t, "1-2, 3", pages)

	conflicted, err := f.GetCellValue("Protocol", "G5")
	require.NoError(t, err)
	assert.Equal(t, "yes", conflicted)

	kind, err := f.GetCellValue("Gaps", "A2")
	require.NoError(t, err)
	assert.Equal(t, "missing", kind)

	question, err := f.GetCellValue("Gaps", "C4")
	require.NoError(t, err)
	assert.Equal(t, "What echo time was used?", question)
}

func TestExportJobCSV(t *testing.T) {
	svc := NewService(seededStore(t), slog.New(slog.DiscardHandler))

	data, err := svc.ExportJobCSV("job-1")
	require.NoError(t, err)

	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "parameter")
	assert.Contains(t, string(lines[1]), "repetition_time_ms")
	assert.Contains(t, string(lines[1]), "1-2, 3")
	assert.Contains(t, string(lines[2]), "yes")
}

func TestExportJobXLSXWithoutWinners(t *testing.T) {
	store := artifact.NewStore(t.TempDir(), slog.New(slog.DiscardHandler))
	svc := NewService(store, slog.New(slog.DiscardHandler))

	_, err := svc.ExportJobXLSX("missing-job")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
