// Package textllm is the cascade's catch-all: flatten whatever text the
// document yields and let a language model pull line items out of it.
// Slow and loose, but it accepts almost anything with a text layer.
package textllm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

const backendID = "textllm"

type Backend struct {
	storage ports.ObjectStorage
	model   ports.TextModel
}

func New(storage ports.ObjectStorage, textModel ports.TextModel) *Backend {
	return &Backend{storage: storage, model: textModel}
}

func (b *Backend) ID() string { return backendID }

func (b *Backend) Attempt(ctx context.Context, doc *domain.Document) (*domain.ExtractionCandidate, error) {
	if doc.Format == domain.FormatImage {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("images carry no text layer"))
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

	text, source, err := flatten(doc.Format, raw)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("document yields no text"))
	}

	items, err := b.model.ExtractItemsFromText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("text model: %w", err)
	}

	meta := map[string]string{
		"source":     source,
		"text_bytes": fmt.Sprintf("%d", len(text)),
	}
	return &domain.ExtractionCandidate{Items: items, Meta: meta}, nil
}

func flatten(format domain.DocumentFormat, raw []byte) (string, string, error) {
	switch format {
	case domain.FormatPDF:
		text, err := pdfPlainText(raw)
		return text, "pdf", err
	case domain.FormatSpreadsheet:
		text, err := workbookText(raw)
		return text, "spreadsheet", err
	default:
		if !utf8.Valid(raw) {
			return "", "", domain.WrapError(domain.ErrUnsupportedFormat, backendID,
				fmt.Errorf("document is not valid utf-8 text"))
		}
		return string(raw), "text", nil
	}
}

func pdfPlainText(raw []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("open pdf: %w", err))
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("extract pdf text: %w", err))
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(text), nil
}

// workbookText flattens sheets into tab-separated lines so the model
// still sees row structure.
func workbookText(raw []byte) (string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return "", domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("open workbook: %w", err))
	}
	defer workbook.Close()

	var sb strings.Builder
	for _, sheet := range workbook.GetSheetList() {
		rows, err := workbook.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
		}
	}
	return sb.String(), nil
}
