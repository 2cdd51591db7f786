package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/procflow/extractor/internal/core/domain"
)

type submitStoreFake struct {
	created   []*domain.Document
	createErr error
}

func (f *submitStoreFake) CreateDocument(_ context.Context, doc *domain.Document) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, doc)
	return nil
}

func (f *submitStoreFake) GetDocument(context.Context, string) (*domain.Document, error) {
	return nil, domain.ErrDocumentNotFound
}
func (f *submitStoreFake) MarkExtracting(context.Context, string) error { return nil }
func (f *submitStoreFake) MarkCompleted(context.Context, string, []domain.StrategyResult, []domain.LineItem, string, float64) error {
	return nil
}
func (f *submitStoreFake) MarkFailed(context.Context, string, []domain.StrategyResult, string, string) error {
	return nil
}
func (f *submitStoreFake) RequestCancel(context.Context, string) error { return nil }
func (f *submitStoreFake) CancelRequested(context.Context, string) (bool, error) {
	return false, nil
}

type storageFake struct {
	saved   map[string][]byte
	saveErr error
}

func (f *storageFake) Save(_ context.Context, key string, data io.Reader) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	if f.saved == nil {
		f.saved = map[string][]byte{}
	}
	f.saved[key] = raw
	return nil
}

func (f *storageFake) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type queueFake struct {
	published  []string
	publishErr error
}

func (f *queueFake) PublishExtractionRequested(_ context.Context, documentID string) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, documentID)
	return nil
}

func (f *queueFake) SubscribeExtractionRequested(context.Context, func(context.Context, string) error) error {
	return nil
}

func TestSubmitCreatesQueuedDocument(t *testing.T) {
	store := &submitStoreFake{}
	storage := &storageFake{}
	queue := &queueFake{}
	uc := NewSubmitDocumentUseCase(store, storage, queue)

	doc, err := uc.Submit(context.Background(), "Angebot 2024.xlsx", "spreadsheet", bytes.NewBufferString("payload"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if doc.ID == "" {
		t.Fatalf("expected generated document id")
	}
	if doc.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", doc.Status)
	}
	if doc.Format != domain.FormatSpreadsheet {
		t.Fatalf("format = %s, want spreadsheet", doc.Format)
	}
	if !strings.HasSuffix(doc.StorageRef, "_Angebot_2024.xlsx") {
		t.Fatalf("storage ref = %q, want sanitized filename suffix", doc.StorageRef)
	}
	if _, ok := storage.saved[doc.StorageRef]; !ok {
		t.Fatalf("document bytes not saved under %q", doc.StorageRef)
	}
	if len(queue.published) != 1 || queue.published[0] != doc.ID {
		t.Fatalf("expected one publish for %s, got %v", doc.ID, queue.published)
	}
}

func TestSubmitUnknownFormatFallsBack(t *testing.T) {
	uc := NewSubmitDocumentUseCase(&submitStoreFake{}, &storageFake{}, &queueFake{})

	doc, err := uc.Submit(context.Background(), "scan.tiff", "parchment", bytes.NewBufferString("x"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if doc.Format != domain.FormatUnknown {
		t.Fatalf("format = %s, want unknown", doc.Format)
	}
}

func TestSubmitTwiceProducesIndependentRuns(t *testing.T) {
	store := &submitStoreFake{}
	queue := &queueFake{}
	uc := NewSubmitDocumentUseCase(store, &storageFake{}, queue)

	first, err := uc.Submit(context.Background(), "bom.pdf", "pdf", bytes.NewBufferString("same bytes"))
	if err != nil {
		t.Fatalf("first Submit() error = %v", err)
	}
	second, err := uc.Submit(context.Background(), "bom.pdf", "pdf", bytes.NewBufferString("same bytes"))
	if err != nil {
		t.Fatalf("second Submit() error = %v", err)
	}

	if first.ID == second.ID {
		t.Fatalf("expected independent document ids, both %s", first.ID)
	}
	if len(store.created) != 2 || len(queue.published) != 2 {
		t.Fatalf("expected two independent records and publishes, got %d/%d",
			len(store.created), len(queue.published))
	}
}

func TestSubmitFailsWhenStorageFails(t *testing.T) {
	uc := NewSubmitDocumentUseCase(&submitStoreFake{}, &storageFake{saveErr: errors.New("disk full")}, &queueFake{})

	if _, err := uc.Submit(context.Background(), "a.pdf", "pdf", bytes.NewBufferString("x")); err == nil {
		t.Fatalf("expected error when storage save fails")
	}
}

func TestSubmitFailsWhenPublishFails(t *testing.T) {
	uc := NewSubmitDocumentUseCase(&submitStoreFake{}, &storageFake{}, &queueFake{publishErr: errors.New("nats down")})

	if _, err := uc.Submit(context.Background(), "a.pdf", "pdf", bytes.NewBufferString("x")); err == nil {
		t.Fatalf("expected error when publish fails")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"simple.pdf", "simple.pdf"},
		{"with space.xlsx", "with_space.xlsx"},
		{"../../../etc/passwd", "passwd"},
		{"файл.pdf", "____.pdf"},
		{"", "document.bin"},
	}
	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
