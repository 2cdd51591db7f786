package ports

import (
	"context"
	"io"

	"github.com/procflow/extractor/internal/core/domain"
)

// ExtractionBackend is one pluggable extraction strategy. Implementations
// must be stateless (or externally pooled) so concurrent documents can
// share one instance, and must not mutate the source document. A backend
// that cannot handle the document's format fails fast with
// domain.ErrUnsupportedFormat instead of consuming its deadline.
type ExtractionBackend interface {
	ID() string
	Attempt(ctx context.Context, doc *domain.Document) (*domain.ExtractionCandidate, error)
}

// DocumentStore is the only component permitted to perform persistent
// writes. Calls for different document ids must not block one another;
// calls for the same id are serialized by the implementation.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *domain.Document) error
	MarkExtracting(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string, trail []domain.StrategyResult, items []domain.LineItem, chosenBackend string, confidence float64) error
	MarkFailed(ctx context.Context, id string, trail []domain.StrategyResult, kind, detail string) error
	GetDocument(ctx context.Context, id string) (*domain.Document, error)
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes extraction requests.
type MessageQueue interface {
	PublishExtractionRequested(ctx context.Context, documentID string) error
	SubscribeExtractionRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// VisionModel extracts line items from a rendered document page via a
// vision-capable inference service.
type VisionModel interface {
	ExtractItemsFromPage(ctx context.Context, page []byte, mimeType string) ([]domain.LineItem, error)
}

// TextModel infers line items from linearized document text via a
// language-only inference service.
type TextModel interface {
	ExtractItemsFromText(ctx context.Context, text string) ([]domain.LineItem, error)
}
