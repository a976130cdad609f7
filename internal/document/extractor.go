package document

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/protocolpilot/protocolpilot/internal/entity"
)

// ErrNoText indicates the document has no extractable text layer (likely a
// scanned PDF; OCR is out of scope). Fatal to the job.
var ErrNoText = errors.New("document has no extractable text")

// Extractor converts PDF bytes into an ordered sequence of page records.
// Deterministic given identical bytes.
type Extractor struct {
	logger   *slog.Logger
	maxPages int
	maxChars int
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger:   logger,
		maxPages: 40,
		maxChars: 1200,
	}
}

// Extract pulls per-page text from a PDF. Pages that fail to parse are
// recorded with empty text so indices stay aligned with physical pages.
func (e *Extractor) Extract(data []byte) ([]entity.PageRecord, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}

	numPages := reader.NumPage()
	if numPages > e.maxPages {
		numPages = e.maxPages
	}

	records := make([]entity.PageRecord, 0, numPages)
	nonEmpty := 0
	for i := 1; i <= numPages; i++ {
		text := ""
		page := reader.Page(i)
		if !page.V.IsNull() {
			if t, err := page.GetPlainText(nil); err == nil {
				text = strings.TrimSpace(t)
			}
			// A page that fails to parse contributes an empty record.
		}
		if len(text) > e.maxChars {
			text = text[:e.maxChars]
		}
		if text != "" {
			nonEmpty++
		}
		records = append(records, entity.PageRecord{
			Index:       uint(i - 1),
			Text:        text,
			ContentHash: hashText(text),
		})
	}

	if nonEmpty == 0 {
		return nil, ErrNoText
	}

	e.logger.Info("document.extract.ok", "pages", len(records), "non_empty", nonEmpty)
	return records, nil
}

func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
