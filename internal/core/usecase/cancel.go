package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

// CancelDocumentUseCase flips the per-document cancellation flag. The flag
// lives in the store so the api and worker processes coordinate; the
// cascade observes it between backend invocations, never mid-call.
type CancelDocumentUseCase struct {
	store ports.DocumentStore
}

func NewCancelDocumentUseCase(store ports.DocumentStore) *CancelDocumentUseCase {
	return &CancelDocumentUseCase{store: store}
}

func (uc *CancelDocumentUseCase) Cancel(ctx context.Context, id string) error {
	doc, err := uc.store.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status.IsTerminal() {
		return domain.WrapError(domain.ErrInvalidInput, "cancel document",
			errors.New("document already in terminal status"))
	}
	if err := uc.store.RequestCancel(ctx, id); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	return nil
}
