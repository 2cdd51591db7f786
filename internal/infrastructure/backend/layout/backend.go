// Package layout is the second rung of the cascade: geometric text
// extraction from digitally-born PDFs, plus line heuristics for plain
// text. It reconstructs table rows from glyph positions instead of
// relying on an explicit cell grid.
package layout

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

const backendID = "layout"

// columnGapPt is the horizontal whitespace, in points, treated as a
// column boundary when stitching glyph runs back into rows.
const columnGapPt = 12.0

type Backend struct {
	storage ports.ObjectStorage
}

func New(storage ports.ObjectStorage) *Backend {
	return &Backend{storage: storage}
}

func (b *Backend) ID() string { return backendID }

func (b *Backend) Attempt(ctx context.Context, doc *domain.Document) (*domain.ExtractionCandidate, error) {
	switch doc.Format {
	case domain.FormatPDF, domain.FormatTabular, domain.FormatUnknown:
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("format %s carries no extractable text layout", doc.Format))
	}

	reader, err := b.storage.Open(ctx, doc.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}

	var lines []string
	var meta map[string]string
	if doc.Format == domain.FormatPDF {
		lines, meta, err = pdfRowLines(raw)
	} else {
		lines, meta, err = plainTextLines(raw)
	}
	if err != nil {
		return nil, err
	}

	return &domain.ExtractionCandidate{Items: parseLines(lines), Meta: meta}, nil
}

// pdfRowLines walks every page and regroups positioned text runs into
// row strings, with tab stops wherever the glyph gap looks like a
// column boundary.
func pdfRowLines(raw []byte) ([]string, map[string]string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("open pdf: %w", err))
	}

	var lines []string
	pages := r.NumPage()
	for num := 1; num <= pages; num++ {
		page := r.Page(num)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			// Scanned or image-only pages yield no text layer; later
			// backends handle those.
			continue
		}
		for _, row := range rows {
			if line := rowText(row.Content); line != "" {
				lines = append(lines, line)
			}
		}
	}
	meta := map[string]string{
		"parser": "ledongthuc/pdf",
		"pages":  strconv.Itoa(pages),
	}
	return lines, meta, nil
}

func rowText(texts pdf.TextHorizontal) string {
	var sb strings.Builder
	lastEnd := -1.0
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		if lastEnd >= 0 {
			gap := t.X - lastEnd
			switch {
			case gap > columnGapPt:
				sb.WriteByte('\t')
			case gap > 0.5:
				sb.WriteByte(' ')
			}
		}
		sb.WriteString(t.S)
		lastEnd = t.X + t.W
	}
	return strings.TrimSpace(sb.String())
}

func plainTextLines(raw []byte) ([]string, map[string]string, error) {
	if !utf8.Valid(raw) {
		return nil, nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("document is not valid utf-8 text"))
	}
	var lines []string
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	meta := map[string]string{
		"parser": "plaintext",
		"lines":  strconv.Itoa(len(lines)),
	}
	return lines, meta, nil
}
