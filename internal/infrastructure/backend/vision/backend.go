// Package vision is the expensive third rung of the cascade: it hands
// page images to a multimodal model. PDFs are carved into single-page
// documents first so each model call stays small; scanned drawings and
// photos go through as-is.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

const backendID = "vision"

const defaultMaxPages = 8

type Backend struct {
	storage  ports.ObjectStorage
	model    ports.VisionModel
	maxPages int
}

func New(storage ports.ObjectStorage, visionModel ports.VisionModel, maxPages int) *Backend {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &Backend{storage: storage, model: visionModel, maxPages: maxPages}
}

func (b *Backend) ID() string { return backendID }

func (b *Backend) Attempt(ctx context.Context, doc *domain.Document) (*domain.ExtractionCandidate, error) {
	switch doc.Format {
	case domain.FormatPDF, domain.FormatImage:
	default:
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("format %s is not page-renderable", doc.Format))
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

	if doc.Format == domain.FormatImage {
		return b.attemptImage(ctx, raw)
	}
	return b.attemptPDF(ctx, raw)
}

func (b *Backend) attemptImage(ctx context.Context, raw []byte) (*domain.ExtractionCandidate, error) {
	mimeType := http.DetectContentType(raw)
	items, err := b.model.ExtractItemsFromPage(ctx, raw, mimeType)
	if err != nil {
		return nil, fmt.Errorf("vision model on image: %w", err)
	}
	meta := map[string]string{
		"source":    "image",
		"mime_type": mimeType,
	}
	return &domain.ExtractionCandidate{Items: items, Meta: meta}, nil
}

// attemptPDF splits the document into single-page PDFs and runs the
// model page by page, capped at maxPages. Offers longer than the cap
// almost always carry their bill of materials up front.
func (b *Backend) attemptPDF(ctx context.Context, raw []byte) (*domain.ExtractionCandidate, error) {
	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(bytes.NewReader(raw), conf)
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnsupportedFormat, backendID,
			fmt.Errorf("validate pdf: %w", err))
	}

	pages := pdfCtx.PageCount
	scan := pages
	if scan > b.maxPages {
		scan = b.maxPages
	}

	var items []domain.LineItem
	for page := 1; page <= scan; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pageRaw, err := carvePage(raw, page, conf)
		if err != nil {
			return nil, fmt.Errorf("carve page %d: %w", page, err)
		}
		pageItems, err := b.model.ExtractItemsFromPage(ctx, pageRaw, "application/pdf")
		if err != nil {
			return nil, fmt.Errorf("vision model on page %d: %w", page, err)
		}
		items = append(items, pageItems...)
	}

	meta := map[string]string{
		"parser":        "pdfcpu",
		"pages":         strconv.Itoa(pages),
		"pages_scanned": strconv.Itoa(scan),
	}
	return &domain.ExtractionCandidate{Items: items, Meta: meta}, nil
}

func carvePage(raw []byte, page int, conf *model.Configuration) ([]byte, error) {
	var buf bytes.Buffer
	selected := []string{strconv.Itoa(page)}
	if err := api.Trim(bytes.NewReader(raw), &buf, selected, conf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
