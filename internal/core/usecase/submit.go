package usecase

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

// SubmitDocumentUseCase enters a document into the pipeline: persist the
// bytes, create the record in status queued, schedule the async run.
// Every submit produces an independent document id and an independent
// extraction run; there is no deduplication across submits.
type SubmitDocumentUseCase struct {
	store   ports.DocumentStore
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewSubmitDocumentUseCase(
	store ports.DocumentStore,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *SubmitDocumentUseCase {
	return &SubmitDocumentUseCase{
		store:   store,
		storage: storage,
		queue:   queue,
	}
}

func (uc *SubmitDocumentUseCase) Submit(
	ctx context.Context,
	filename, declaredFormat string,
	body io.Reader,
) (*domain.Document, error) {
	id := uuid.NewString()
	storageRef := fmt.Sprintf("%s_%s", id, sanitizeFilename(filename))
	now := time.Now().UTC()

	if err := uc.storage.Save(ctx, storageRef, body); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	doc := &domain.Document{
		ID:         id,
		Filename:   filename,
		Format:     domain.ParseFormat(declaredFormat),
		StorageRef: storageRef,
		Status:     domain.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := uc.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document record: %w", err)
	}

	if err := uc.queue.PublishExtractionRequested(ctx, doc.ID); err != nil {
		return nil, fmt.Errorf("publish extraction request: %w", err)
	}

	return doc, nil
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" {
		return "document.bin"
	}
	return base
}
