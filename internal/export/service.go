package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/protocolpilot/protocolpilot/constants"
	"github.com/protocolpilot/protocolpilot/internal/artifact"
	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// Service produces XLSX workbooks from a finished job's artifacts: one sheet
// for the reconciled protocol parameters, one for the gap report.
type Service struct {
	store  *artifact.Store
	logger *slog.Logger
}

func NewService(store *artifact.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// ExportJobXLSX returns an XLSX workbook for one job. Requires the winners
// artifact; the gap report sheet is filled when the artifact exists.
func (s *Service) ExportJobXLSX(jobID string) ([]byte, error) {
	start := time.Now()

	var winners entity.Winners
	if err := s.store.Get(jobID, constants.ArtifactWinners, &winners); err != nil {
		return nil, fmt.Errorf("load winners: %w", err)
	}
	var meta entity.Meta
	_ = s.store.Get(jobID, constants.ArtifactMeta, &meta)

	f := excelize.NewFile()
	if err := s.writeProtocolSheet(f, meta, winners.Winners); err != nil {
		return nil, err
	}

	var report entity.GapReport
	if err := s.store.Get(jobID, constants.ArtifactGapReport, &report); err == nil {
		if err := s.writeGapsSheet(f, report); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", jobID,
		"winners", len(winners.Winners),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// ExportJobCSV returns the winners table as CSV, one row per parameter.
func (s *Service) ExportJobCSV(jobID string) ([]byte, error) {
	var winners entity.Winners
	if err := s.store.Get(jobID, constants.ArtifactWinners, &winners); err != nil {
		return nil, fmt.Errorf("load winners: %w", err)
	}

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	_ = cw.Write([]string{"parameter", "value", "unit", "confidence", "agreement", "pages", "conflicted"})
	for _, w := range winners.Winners {
		conflicted := ""
		if w.Conflicted {
			conflicted = "yes"
		}
		_ = cw.Write([]string{
			w.ParameterName,
			fmt.Sprintf("%v", w.Value),
			w.Unit,
			strconv.FormatFloat(w.Confidence, 'f', 2, 64),
			strconv.FormatUint(uint64(w.AgreementCount), 10),
			formatProvenance(w.Provenance),
			conflicted,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}

	s.logger.Info("export.csv.ok", "job_id", jobID, "winners", len(winners.Winners))
	return buf.Bytes(), nil
}

const protocolSheet = "Protocol"

func (s *Service) writeProtocolSheet(f *excelize.File, meta entity.Meta, winners []entity.Winner) error {
	if err := f.SetSheetName("Sheet1", protocolSheet); err != nil {
		return err
	}
	idx, _ := f.GetSheetIndex(protocolSheet)
	f.SetActiveSheet(idx)

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(protocolSheet, cell, v)
	}

	write(1, 1, "Document Title")
	write(2, 1, meta.Title)

	headers := []string{"Parameter", "Value", "Unit", "Confidence", "Agreement", "Pages", "Conflicted"}
	for i, h := range headers {
		write(i+1, 3, h)
	}

	row := 4
	for _, w := range winners {
		write(1, row, w.ParameterName)
		write(2, row, fmt.Sprintf("%v", w.Value))
		write(3, row, w.Unit)
		write(4, row, w.Confidence)
		write(5, row, int(w.AgreementCount))
		write(6, row, formatProvenance(w.Provenance))
		if w.Conflicted {
			write(7, row, "yes")
		}
		row++
	}

	_ = f.SetColWidth(protocolSheet, "A", "A", 24)
	_ = f.SetColWidth(protocolSheet, "B", "B", 20)
	_ = f.SetColWidth(protocolSheet, "F", "F", 18)
	return nil
}

const gapsSheet = "Gaps"

func (s *Service) writeGapsSheet(f *excelize.File, report entity.GapReport) error {
	if _, err := f.NewSheet(gapsSheet); err != nil {
		return err
	}
	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(gapsSheet, cell, v)
	}

	for i, h := range []string{"Kind", "Parameter", "Detail"} {
		write(i+1, 1, h)
	}

	row := 2
	for _, name := range report.Missing {
		write(1, row, "missing")
		write(2, row, name)
		row++
	}
	for _, item := range report.Ambiguous {
		write(1, row, "ambiguous")
		write(2, row, item.ParameterName)
		write(3, row, item.Reason)
		row++
	}
	for _, c := range report.Conflicts {
		values := make([]string, 0, len(c.Candidates))
		for _, cd := range c.Candidates {
			values = append(values, fmt.Sprintf("%v", cd.Value))
		}
		write(1, row, "conflict")
		write(2, row, c.ParameterName)
		write(3, row, strings.Join(values, " vs "))
		row++
	}
	for _, q := range report.Questions {
		write(1, row, "question")
		write(3, row, q)
		row++
	}

	_ = f.SetColWidth(gapsSheet, "B", "B", 24)
	_ = f.SetColWidth(gapsSheet, "C", "C", 64)
	return nil
}

func formatProvenance(ranges []entity.PageRange) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == r.End {
			parts = append(parts, fmt.Sprintf("%d", r.Start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Start, r.End))
		}
	}
	return strings.Join(parts, ", ")
}
