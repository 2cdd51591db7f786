package usecase

import (
	"context"
	"fmt"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

// GetResultUseCase is the non-blocking read side: callers always get a
// definitive snapshot (queued/extracting, or completed with items and
// confidence, or failed with an error kind).
type GetResultUseCase struct {
	store ports.DocumentStore
}

func NewGetResultUseCase(store ports.DocumentStore) *GetResultUseCase {
	return &GetResultUseCase{store: store}
}

func (uc *GetResultUseCase) GetResult(ctx context.Context, id string) (*domain.Document, error) {
	doc, err := uc.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	return doc, nil
}
