// Package tabular is the cheapest, highest-precision extraction backend:
// format-specific structured parsing of spreadsheet cell grids and
// delimiter-separated tables. It fails fast on anything without a
// detectable tabular structure.
package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

const backendID = "tabular"

type Backend struct {
	storage ports.ObjectStorage
}

func New(storage ports.ObjectStorage) *Backend {
	return &Backend{storage: storage}
}

func (b *Backend) ID() string { return backendID }

func (b *Backend) Attempt(ctx context.Context, doc *domain.Document) (*domain.ExtractionCandidate, error) {
	switch doc.Format {
	case domain.FormatSpreadsheet, domain.FormatTabular:
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("format %s has no cell grid", doc.Format))
	}

	reader, err := b.storage.Open(ctx, doc.StorageRef)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	var grid [][]string
	var meta map[string]string
	if doc.Format == domain.FormatSpreadsheet {
		grid, meta, err = readWorkbookGrid(reader)
	} else {
		grid, meta, err = readDelimitedGrid(reader)
	}
	if err != nil {
		return nil, err
	}

	items, err := parseGrid(grid)
	if err != nil {
		return nil, err
	}
	return &domain.ExtractionCandidate{Items: items, Meta: meta}, nil
}

// readWorkbookGrid concatenates the row grids of all sheets; multi-sheet
// quotations usually carry one bill-of-materials per sheet.
func readWorkbookGrid(r io.Reader) ([][]string, map[string]string, error) {
	workbook, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("open workbook: %w", err))
	}
	defer workbook.Close()

	var grid [][]string
	sheets := workbook.GetSheetList()
	for _, sheet := range sheets {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		grid = append(grid, rows...)
	}
	meta := map[string]string{
		"parser": "excelize",
		"sheets": strconv.Itoa(len(sheets)),
	}
	return grid, meta, nil
}

func readDelimitedGrid(r io.Reader) ([][]string, map[string]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read source document: %w", err)
	}

	delimiter := detectDelimiter(raw)
	cr := csv.NewReader(bytes.NewReader(raw))
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var grid [][]string
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
				fmt.Errorf("parse delimited table: %w", err))
		}
		grid = append(grid, record)
	}
	meta := map[string]string{
		"parser":    "csv",
		"delimiter": string(delimiter),
	}
	return grid, meta, nil
}

func detectDelimiter(raw []byte) rune {
	sample := raw
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	semicolons := bytes.Count(sample, []byte{';'})
	tabs := bytes.Count(sample, []byte{'\t'})
	commas := bytes.Count(sample, []byte{','})
	switch {
	case tabs > commas && tabs > semicolons:
		return '\t'
	case semicolons > commas:
		return ';'
	default:
		return ','
	}
}
