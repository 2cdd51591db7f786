package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
)

type completedCall struct {
	trail      []domain.StrategyResult
	items      []domain.LineItem
	chosen     string
	confidence float64
}

type failedCall struct {
	trail  []domain.StrategyResult
	kind   string
	detail string
}

type cascadeStoreFake struct {
	doc *domain.Document

	cancelFlag bool
	getErr     error

	markedExtracting bool
	completed        *completedCall
	failed           *failedCall
}

func (f *cascadeStoreFake) CreateDocument(context.Context, *domain.Document) error { return nil }

func (f *cascadeStoreFake) GetDocument(context.Context, string) (*domain.Document, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	copyDoc := *f.doc
	return &copyDoc, nil
}

func (f *cascadeStoreFake) MarkExtracting(context.Context, string) error {
	f.markedExtracting = true
	return nil
}

func (f *cascadeStoreFake) MarkCompleted(_ context.Context, _ string, trail []domain.StrategyResult, items []domain.LineItem, chosen string, confidence float64) error {
	f.completed = &completedCall{trail: trail, items: items, chosen: chosen, confidence: confidence}
	return nil
}

func (f *cascadeStoreFake) MarkFailed(_ context.Context, _ string, trail []domain.StrategyResult, kind, detail string) error {
	f.failed = &failedCall{trail: trail, kind: kind, detail: detail}
	return nil
}

func (f *cascadeStoreFake) RequestCancel(context.Context, string) error {
	f.cancelFlag = true
	return nil
}

func (f *cascadeStoreFake) CancelRequested(context.Context, string) (bool, error) {
	return f.cancelFlag, nil
}

type spyBackend struct {
	id        string
	items     []domain.LineItem
	err       error
	calls     int
	onAttempt func()
	blockCtx  bool
	panicMsg  string
}

func (b *spyBackend) ID() string { return b.id }

func (b *spyBackend) Attempt(ctx context.Context, _ *domain.Document) (*domain.ExtractionCandidate, error) {
	b.calls++
	if b.onAttempt != nil {
		b.onAttempt()
	}
	if b.panicMsg != "" {
		panic(b.panicMsg)
	}
	if b.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.err != nil {
		return nil, b.err
	}
	return &domain.ExtractionCandidate{Items: b.items}, nil
}

func qtyOf(v float64) *float64 { return &v }

func richItems(n int) []domain.LineItem {
	items := make([]domain.LineItem, n)
	for i := range items {
		items[i] = domain.LineItem{
			Description: "galvanized steel anchor bolt M12x60",
			Quantity:    qtyOf(float64(i + 1)),
			Unit:        "pcs",
		}
	}
	return items
}

func newQueuedDoc() *domain.Document {
	return &domain.Document{ID: "doc-1", Format: domain.FormatPDF, Status: domain.StatusQueued}
}

func runCascadeWith(t *testing.T, store *cascadeStoreFake, cfg CascadeConfig, backends ...*spyBackend) {
	t.Helper()
	wired := make([]ports.ExtractionBackend, len(backends))
	for i, b := range backends {
		wired[i] = b
	}
	uc := NewExtractDocumentUseCase(store, wired, cfg, nil)
	if err := uc.RunByID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("RunByID() error = %v", err)
	}
}

func TestCascadeStopsAfterHighConfidenceResult(t *testing.T) {
	// Scenario A: backend 1 unsupported, backend 2 returns 6 well-formed
	// items (score 1.0), backends 3-4 never invoked.
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", err: domain.ErrUnsupportedFormat}
	b2 := &spyBackend{id: "layout", items: richItems(6)}
	b3 := &spyBackend{id: "vision"}
	b4 := &spyBackend{id: "textllm"}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2, b3, b4)

	if b3.calls != 0 || b4.calls != 0 {
		t.Fatalf("expected backends after early exit untouched, got %d/%d calls", b3.calls, b4.calls)
	}
	if store.completed == nil {
		t.Fatalf("expected completed document, got failed=%+v", store.failed)
	}
	if store.completed.chosen != "layout" {
		t.Fatalf("chosen strategy = %q, want layout", store.completed.chosen)
	}
	if store.completed.confidence != 1.0 {
		t.Fatalf("confidence = %v, want 1.0", store.completed.confidence)
	}
	if len(store.completed.trail) != 2 {
		t.Fatalf("trail length = %d, want 2", len(store.completed.trail))
	}
	if store.completed.trail[0].Outcome != domain.OutcomeUnsupportedFormat {
		t.Fatalf("trail[0] outcome = %s, want unsupported_format", store.completed.trail[0].Outcome)
	}
	if !store.completed.trail[1].EarlyExit {
		t.Fatalf("expected early-exit flag on trail[1]")
	}
}

func TestCascadeTrailPreservesInvocationOrder(t *testing.T) {
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", err: domain.ErrUnsupportedFormat}
	b2 := &spyBackend{id: "layout", err: errors.New("parser blew up")}
	b3 := &spyBackend{id: "vision", items: richItems(4)}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2, b3)

	if store.completed == nil {
		t.Fatalf("expected completed document")
	}
	wantOrder := []string{"tabular", "layout", "vision"}
	if len(store.completed.trail) != len(wantOrder) {
		t.Fatalf("trail length = %d, want %d", len(store.completed.trail), len(wantOrder))
	}
	for i, want := range wantOrder {
		if store.completed.trail[i].Backend != want {
			t.Fatalf("trail[%d] = %s, want %s", i, store.completed.trail[i].Backend, want)
		}
	}
	if store.completed.trail[1].Outcome != domain.OutcomeBackendError {
		t.Fatalf("trail[1] outcome = %s, want backend_error", store.completed.trail[1].Outcome)
	}
}

func TestCascadeTieGoesToEarlierBackend(t *testing.T) {
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	// Identical item sets produce identical scores below the early-exit
	// threshold; the cheaper backend must keep the win.
	items := []domain.LineItem{
		{Description: "industrial pump assembly"},
		{Description: "flow control valve"},
	}
	b1 := &spyBackend{id: "tabular", items: items}
	b2 := &spyBackend{id: "layout", items: items}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2)

	if store.completed == nil {
		t.Fatalf("expected completed document")
	}
	if store.completed.chosen != "tabular" {
		t.Fatalf("chosen strategy = %q, want tabular on tie", store.completed.chosen)
	}
	if b2.calls != 1 {
		t.Fatalf("expected second backend still invoked, calls = %d", b2.calls)
	}
}

func TestCascadeAllEmptyResultsFailsDistinctly(t *testing.T) {
	// Scenario B: every backend returns zero items.
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular"}
	b2 := &spyBackend{id: "layout"}
	b3 := &spyBackend{id: "vision"}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2, b3)

	if store.completed != nil {
		t.Fatalf("zero-item candidates must never complete, got %+v", store.completed)
	}
	if store.failed == nil || store.failed.kind != "NoMeaningfulExtraction" {
		t.Fatalf("expected NoMeaningfulExtraction failure, got %+v", store.failed)
	}
	if len(store.failed.trail) != 3 {
		t.Fatalf("trail length = %d, want all attempts recorded", len(store.failed.trail))
	}
}

func TestCascadeAllBackendsFailingFailsDistinctly(t *testing.T) {
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", err: domain.ErrUnsupportedFormat}
	b2 := &spyBackend{id: "layout", err: errors.New("boom")}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2)

	if store.failed == nil || store.failed.kind != "NoMeaningfulExtraction" {
		t.Fatalf("expected NoMeaningfulExtraction failure, got %+v", store.failed)
	}
}

func TestCascadeTimeoutRecordedAndRunContinues(t *testing.T) {
	// Scenario C: backend 1 exceeds its deadline, cascade proceeds.
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", blockCtx: true}
	b2 := &spyBackend{id: "layout", items: richItems(6)}

	cfg := CascadeConfig{Deadlines: map[string]time.Duration{"tabular": 20 * time.Millisecond}}
	runCascadeWith(t, store, cfg, b1, b2)

	if store.completed == nil {
		t.Fatalf("expected completed document after timeout recovery")
	}
	if store.completed.trail[0].Outcome != domain.OutcomeTimeout {
		t.Fatalf("trail[0] outcome = %s, want timeout", store.completed.trail[0].Outcome)
	}
	if store.completed.chosen != "layout" {
		t.Fatalf("chosen strategy = %q, want layout", store.completed.chosen)
	}
}

func TestCascadeShutdownIsNotRecordedAsBackendTimeout(t *testing.T) {
	// Worker shutdown while a backend runs: the run aborts for redelivery
	// instead of writing a timeout into the trail.
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	ctx, cancel := context.WithCancel(context.Background())
	b1 := &spyBackend{id: "tabular", blockCtx: true}
	b1.onAttempt = func() { cancel() }
	b2 := &spyBackend{id: "layout", items: richItems(6)}

	uc := NewExtractDocumentUseCase(store, []ports.ExtractionBackend{b1, b2}, CascadeConfig{}, nil)
	err := uc.RunByID(ctx, "doc-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunByID() error = %v, want context.Canceled", err)
	}
	if b2.calls != 0 {
		t.Fatalf("backend after shutdown invoked %d times", b2.calls)
	}
	if store.completed != nil || store.failed != nil {
		t.Fatalf("interrupted run must not settle the document, got completed=%+v failed=%+v",
			store.completed, store.failed)
	}
}

func TestCascadeCancelDiscardsInFlightResult(t *testing.T) {
	// Scenario D: cancel lands while backend 2 runs; its result is
	// discarded and the document fails with Cancelled.
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", err: domain.ErrUnsupportedFormat}
	b2 := &spyBackend{id: "layout", items: richItems(6)}
	b2.onAttempt = func() { store.cancelFlag = true }
	b3 := &spyBackend{id: "vision"}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2, b3)

	if store.completed != nil {
		t.Fatalf("cancelled run must not complete, got %+v", store.completed)
	}
	if store.failed == nil || store.failed.kind != "Cancelled" {
		t.Fatalf("expected Cancelled failure, got %+v", store.failed)
	}
	if b3.calls != 0 {
		t.Fatalf("backend after cancellation checkpoint invoked %d times", b3.calls)
	}
}

func TestCascadeCancelBeforeStart(t *testing.T) {
	store := &cascadeStoreFake{doc: newQueuedDoc(), cancelFlag: true}
	b1 := &spyBackend{id: "tabular", items: richItems(6)}

	runCascadeWith(t, store, CascadeConfig{}, b1)

	if b1.calls != 0 {
		t.Fatalf("no backend should run for a pre-cancelled document, calls = %d", b1.calls)
	}
	if store.markedExtracting {
		t.Fatalf("pre-cancelled document must not enter extracting status")
	}
	if store.failed == nil || store.failed.kind != "Cancelled" {
		t.Fatalf("expected Cancelled failure, got %+v", store.failed)
	}
}

func TestCascadeRecoversBackendPanic(t *testing.T) {
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", panicMsg: "index out of range"}
	b2 := &spyBackend{id: "layout", items: richItems(6)}

	runCascadeWith(t, store, CascadeConfig{}, b1, b2)

	if store.completed == nil {
		t.Fatalf("expected completed document after panic recovery")
	}
	if store.completed.trail[0].Outcome != domain.OutcomeBackendError {
		t.Fatalf("trail[0] outcome = %s, want backend_error", store.completed.trail[0].Outcome)
	}
}

func TestCascadeSkipsTerminalDocument(t *testing.T) {
	store := &cascadeStoreFake{doc: &domain.Document{ID: "doc-1", Status: domain.StatusCompleted}}
	b1 := &spyBackend{id: "tabular", items: richItems(6)}

	runCascadeWith(t, store, CascadeConfig{}, b1)

	if b1.calls != 0 {
		t.Fatalf("terminal document must not be re-extracted, calls = %d", b1.calls)
	}
	if store.markedExtracting || store.completed != nil || store.failed != nil {
		t.Fatalf("terminal document must not be mutated")
	}
}

func TestCascadeLowButNonZeroScoreCompletes(t *testing.T) {
	// A low-confidence extraction above the floor is still delivered as
	// completed so consumers can apply their own threshold.
	store := &cascadeStoreFake{doc: newQueuedDoc()}
	b1 := &spyBackend{id: "tabular", items: []domain.LineItem{{Description: "bolt"}}}

	runCascadeWith(t, store, CascadeConfig{}, b1)

	if store.completed == nil {
		t.Fatalf("expected completed document, got failed=%+v", store.failed)
	}
	if store.completed.confidence != 0.5 {
		t.Fatalf("confidence = %v, want 0.5", store.completed.confidence)
	}
}
