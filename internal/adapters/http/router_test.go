package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/usecase"
)

type memStore struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]*domain.Document{}}
}

func (s *memStore) CreateDocument(_ context.Context, doc *domain.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

func (s *memStore) MarkExtracting(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.Status = domain.StatusExtracting
	}
	return nil
}

func (s *memStore) MarkCompleted(_ context.Context, id string, trail []domain.StrategyResult, items []domain.LineItem, chosenBackend string, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.Status = domain.StatusCompleted
		doc.Trail = trail
		doc.Items = items
		doc.ChosenStrategy = chosenBackend
		doc.Confidence = confidence
	}
	return nil
}

func (s *memStore) MarkFailed(_ context.Context, id string, trail []domain.StrategyResult, kind, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc, ok := s.docs[id]; ok {
		doc.Status = domain.StatusFailed
		doc.Trail = trail
		doc.ErrorKind = kind
		doc.ErrorDetail = detail
	}
	return nil
}

func (s *memStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	cp := *doc
	return &cp, nil
}

func (s *memStore) RequestCancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[id]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	return nil
}

func (s *memStore) CancelRequested(_ context.Context, _ string) (bool, error) {
	return false, nil
}

type memStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (f *memStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.blobs == nil {
		f.blobs = map[string][]byte{}
	}
	f.blobs[key] = raw
	return nil
}

func (f *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.blobs[key]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type memQueue struct {
	mu        sync.Mutex
	published []string
}

func (q *memQueue) PublishExtractionRequested(_ context.Context, documentID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, documentID)
	return nil
}

func (q *memQueue) SubscribeExtractionRequested(context.Context, func(context.Context, string) error) error {
	return nil
}

func newTestHandler(store *memStore, queue *memQueue, options RouterOptions) http.Handler {
	storage := &memStorage{}
	submitUC := usecase.NewSubmitDocumentUseCase(store, storage, queue)
	resultUC := usecase.NewGetResultUseCase(store)
	cancelUC := usecase.NewCancelDocumentUseCase(store)
	return NewRouter(submitUC, resultUC, cancelUC, options).Handler()
}

func multipartUpload(t *testing.T, filename, format string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if format != "" {
		if err := writer.WriteField("format", format); err != nil {
			t.Fatalf("write format field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &body, writer.FormDataContentType()
}

func TestSubmitDocumentReturnsAccepted(t *testing.T) {
	store := newMemStore()
	queue := &memQueue{}
	handler := newTestHandler(store, queue, RouterOptions{})

	body, contentType := multipartUpload(t, "offer.xlsx", "spreadsheet", []byte("workbook bytes"))
	req := httptest.NewRequest(http.MethodPost, "/v1/documents", body)
	req.Header.Set("Content-Type", contentType)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", res.Code, res.Body.String())
	}

	var doc domain.Document
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.Status != domain.StatusQueued {
		t.Fatalf("status = %s, want queued", doc.Status)
	}
	if doc.Format != domain.FormatSpreadsheet {
		t.Fatalf("format = %s, want spreadsheet", doc.Format)
	}
	if len(queue.published) != 1 || queue.published[0] != doc.ID {
		t.Fatalf("published = %v, want [%s]", queue.published, doc.ID)
	}
}

func TestSubmitDocumentWithoutFileReturns400(t *testing.T) {
	handler := newTestHandler(newMemStore(), &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents", bytes.NewBufferString("no multipart"))
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestGetResultReturnsDocumentSnapshot(t *testing.T) {
	store := newMemStore()
	store.docs["doc-1"] = &domain.Document{
		ID:             "doc-1",
		Status:         domain.StatusCompleted,
		ChosenStrategy: "tabular",
		Confidence:     0.92,
		Trail: []domain.StrategyResult{
			{Backend: "tabular", Score: 0.92, Outcome: domain.OutcomeOK, EarlyExit: true},
		},
	}
	handler := newTestHandler(store, &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.Code)
	}
	var doc domain.Document
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if doc.ChosenStrategy != "tabular" || len(doc.Trail) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
}

func TestGetResultUnknownDocumentReturns404(t *testing.T) {
	handler := newTestHandler(newMemStore(), &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/missing", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", res.Code)
	}
}

func TestCancelActiveDocumentReturnsAccepted(t *testing.T) {
	store := newMemStore()
	store.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusExtracting}
	handler := newTestHandler(store, &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/cancel", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", res.Code, res.Body.String())
	}
}

func TestCancelSettledDocumentReturns400(t *testing.T) {
	store := newMemStore()
	store.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusCompleted}
	handler := newTestHandler(store, &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents/doc-1/cancel", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestExportCompletedDocumentReturnsWorkbook(t *testing.T) {
	qty := 250.0
	store := newMemStore()
	store.docs["doc-1"] = &domain.Document{
		ID:     "doc-1",
		Status: domain.StatusCompleted,
		Items: []domain.LineItem{
			{Description: "Anchor bolt M12x60", Quantity: &qty, Unit: "pcs"},
		},
	}
	handler := newTestHandler(store, &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/export", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", res.Code, res.Body.String())
	}
	if got := res.Header().Get("Content-Disposition"); got == "" {
		t.Fatalf("expected attachment disposition header")
	}

	wb, err := excelize.OpenReader(bytes.NewReader(res.Body.Bytes()))
	if err != nil {
		t.Fatalf("open exported workbook: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows("Line Items")
	if err != nil {
		t.Fatalf("read rows: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "Anchor bolt M12x60" {
		t.Fatalf("rows = %v", rows)
	}
}

func TestExportUnsettledDocumentReturns400(t *testing.T) {
	store := newMemStore()
	store.docs["doc-1"] = &domain.Document{ID: "doc-1", Status: domain.StatusQueued}
	handler := newTestHandler(store, &memQueue{}, RouterOptions{})

	req := httptest.NewRequest(http.MethodGet, "/v1/documents/doc-1/export", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.Code)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestHandler(newMemStore(), &memQueue{}, RouterOptions{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated backpressure gate, got %d", res2.Code)
	}

	var resp map[string]any
	if err := json.NewDecoder(bytes.NewReader(res2.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatalf("decode overload response: %v", err)
	}
	if resp["error"] == "" {
		t.Fatalf("expected overload error message in response")
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(1 * time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
