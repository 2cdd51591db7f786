package ports

import (
	"context"
	"io"

	"github.com/procflow/extractor/internal/core/domain"
)

// DocumentSubmitter is the inbound contract for entering a document into
// the extraction pipeline. Submit returns as soon as the document record
// exists and the extraction request is scheduled.
type DocumentSubmitter interface {
	Submit(ctx context.Context, filename, declaredFormat string, body io.Reader) (*domain.Document, error)
}

// DocumentReader is the inbound non-blocking read model for document
// status and results.
type DocumentReader interface {
	GetResult(ctx context.Context, id string) (*domain.Document, error)
}

// DocumentCanceller requests best-effort cancellation of a running
// extraction.
type DocumentCanceller interface {
	Cancel(ctx context.Context, id string) error
}

// ExtractionRunner is the inbound contract for asynchronous extraction.
type ExtractionRunner interface {
	RunByID(ctx context.Context, documentID string) error
}
