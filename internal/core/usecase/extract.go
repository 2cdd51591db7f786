package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/core/ports"
	"github.com/procflow/extractor/internal/core/scoring"
)

// CascadeConfig tunes the strategy cascade. Zero values fall back to
// defaults so a zero CascadeConfig is usable.
type CascadeConfig struct {
	DefaultDeadline    time.Duration
	Deadlines          map[string]time.Duration
	EarlyExitThreshold float64
	MinConfidence      float64
}

func (c CascadeConfig) normalize() CascadeConfig {
	out := c
	if out.DefaultDeadline <= 0 {
		out.DefaultDeadline = 30 * time.Second
	}
	if out.EarlyExitThreshold <= 0 {
		out.EarlyExitThreshold = 0.85
	}
	if out.MinConfidence <= 0 {
		out.MinConfidence = 0.3
	}
	return out
}

func (c CascadeConfig) deadlineFor(backendID string) time.Duration {
	if d, ok := c.Deadlines[backendID]; ok && d > 0 {
		return d
	}
	return c.DefaultDeadline
}

// CascadeObserver receives per-step cascade telemetry.
type CascadeObserver interface {
	BackendAttempt(backend string, outcome domain.StrategyOutcome, duration time.Duration)
	EarlyExit(backend string)
}

type nopObserver struct{}

func (nopObserver) BackendAttempt(string, domain.StrategyOutcome, time.Duration) {}
func (nopObserver) EarlyExit(string)                                             {}

// ExtractDocumentUseCase runs the priority-ordered backend cascade for one
// document. Backends are invoked strictly sequentially; the cascade is
// cost-ordered and early exit depends on seeing one result before paying
// for the next.
type ExtractDocumentUseCase struct {
	store    ports.DocumentStore
	backends []ports.ExtractionBackend
	cfg      CascadeConfig
	observer CascadeObserver
}

func NewExtractDocumentUseCase(
	store ports.DocumentStore,
	backends []ports.ExtractionBackend,
	cfg CascadeConfig,
	observer CascadeObserver,
) *ExtractDocumentUseCase {
	if observer == nil {
		observer = nopObserver{}
	}
	return &ExtractDocumentUseCase{
		store:    store,
		backends: backends,
		cfg:      cfg.normalize(),
		observer: observer,
	}
}

func (uc *ExtractDocumentUseCase) RunByID(ctx context.Context, documentID string) error {
	doc, err := uc.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("fetch document by id: %w", err)
	}
	if doc.Status.IsTerminal() {
		slog.Info("extraction_skip_terminal", "document_id", documentID, "status", doc.Status)
		return nil
	}

	if cancelled := uc.cancelRequested(ctx, documentID); cancelled {
		return uc.markCancelled(ctx, documentID, nil)
	}

	if err := uc.store.MarkExtracting(ctx, documentID); err != nil {
		return fmt.Errorf("set status=extracting: %w", err)
	}

	return uc.runCascade(ctx, doc)
}

// runCascade owns all mutable run state; nothing here is shared across
// documents, so concurrent runs never interfere.
func (uc *ExtractDocumentUseCase) runCascade(ctx context.Context, doc *domain.Document) error {
	var (
		trail      []domain.StrategyResult
		best       *domain.ExtractionCandidate
		bestScore  float64
		chosenName string
	)

	for _, backend := range uc.backends {
		if err := ctx.Err(); err != nil {
			return err
		}
		if uc.cancelRequested(ctx, doc.ID) {
			return uc.markCancelled(ctx, doc.ID, trail)
		}

		candidate, duration, attemptErr := uc.attempt(ctx, backend, doc)

		// A dead parent context means worker shutdown or run-budget expiry,
		// not a slow backend; leave the document for redelivery instead of
		// recording the interruption against the backend.
		if err := ctx.Err(); err != nil {
			return err
		}

		// The cancel flag is only observed at checkpoints: a mid-flight
		// backend finishes, but its result is discarded.
		if uc.cancelRequested(ctx, doc.ID) {
			trail = append(trail, domain.StrategyResult{
				Backend:  backend.ID(),
				Duration: duration,
				Outcome:  outcomeFor(attemptErr),
			})
			return uc.markCancelled(ctx, doc.ID, trail)
		}

		if attemptErr != nil {
			outcome := outcomeFor(attemptErr)
			trail = append(trail, domain.StrategyResult{
				Backend:  backend.ID(),
				Duration: duration,
				Outcome:  outcome,
			})
			uc.observer.BackendAttempt(backend.ID(), outcome, duration)
			slog.Warn("backend_attempt_failed",
				"document_id", doc.ID,
				"backend", backend.ID(),
				"outcome", outcome,
				"duration_ms", duration.Milliseconds(),
				"error", attemptErr,
			)
			continue
		}

		score := scoring.Score(candidate)
		record := domain.StrategyResult{
			Backend:  backend.ID(),
			Score:    score,
			Duration: duration,
			Outcome:  domain.OutcomeOK,
		}
		uc.observer.BackendAttempt(backend.ID(), domain.OutcomeOK, duration)

		// Strict improvement only: on identical scores the earlier,
		// cheaper backend keeps the win.
		if len(candidate.Items) > 0 && score > bestScore {
			best = candidate
			bestScore = score
			chosenName = backend.ID()
		}

		if bestScore > uc.cfg.EarlyExitThreshold {
			record.EarlyExit = true
			trail = append(trail, record)
			uc.observer.EarlyExit(backend.ID())
			slog.Info("cascade_early_exit",
				"document_id", doc.ID,
				"backend", backend.ID(),
				"score", score,
			)
			break
		}
		trail = append(trail, record)
	}

	if best == nil || bestScore < uc.cfg.MinConfidence {
		detail := fmt.Sprintf("best score %.2f below threshold %.2f after %d backend(s)",
			bestScore, uc.cfg.MinConfidence, len(trail))
		if err := uc.store.MarkFailed(ctx, doc.ID, trail,
			domain.ErrorKindLabel(domain.ErrNoMeaningfulExtraction), detail); err != nil {
			return fmt.Errorf("mark failed status: %w", err)
		}
		slog.Warn("extraction_no_meaningful_result", "document_id", doc.ID, "best_score", bestScore)
		return nil
	}

	if err := uc.store.MarkCompleted(ctx, doc.ID, trail, best.Items, chosenName, bestScore); err != nil {
		return fmt.Errorf("mark completed status: %w", err)
	}
	slog.Info("extraction_completed",
		"document_id", doc.ID,
		"chosen_strategy", chosenName,
		"confidence", bestScore,
		"items", len(best.Items),
		"steps", len(trail),
	)
	return nil
}

// attempt invokes one backend under its deadline, converting panics and
// context expiry into typed failures so nothing can crash the run.
func (uc *ExtractDocumentUseCase) attempt(
	ctx context.Context,
	backend ports.ExtractionBackend,
	doc *domain.Document,
) (candidate *domain.ExtractionCandidate, duration time.Duration, err error) {
	attemptCtx, cancel := context.WithTimeout(ctx, uc.cfg.deadlineFor(backend.ID()))
	defer cancel()

	start := time.Now()
	defer func() {
		duration = time.Since(start)
		if r := recover(); r != nil {
			candidate = nil
			err = domain.WrapError(domain.ErrBackendFailed, backend.ID(), fmt.Errorf("panic: %v", r))
		}
		if err == nil && candidate != nil {
			candidate.Backend = backend.ID()
			candidate.Duration = duration
		}
	}()

	candidate, err = backend.Attempt(attemptCtx, doc)
	if err != nil {
		switch {
		case domain.IsKind(err, domain.ErrUnsupportedFormat):
			// Fail-fast path; keep the typed kind as-is.
		case ctx.Err() != nil:
			// Run-level interruption; only the attempt context expiring on
			// its own counts as a backend timeout.
			err = domain.WrapError(domain.ErrCancelled, backend.ID(), err)
		case errors.Is(err, context.DeadlineExceeded) || attemptCtx.Err() != nil:
			err = domain.WrapError(domain.ErrBackendTimeout, backend.ID(), err)
		default:
			err = domain.WrapError(domain.ErrBackendFailed, backend.ID(), err)
		}
		return nil, 0, err
	}
	if candidate == nil {
		return nil, 0, domain.WrapError(domain.ErrBackendFailed, backend.ID(), errors.New("nil candidate"))
	}
	return candidate, 0, nil
}

func (uc *ExtractDocumentUseCase) cancelRequested(ctx context.Context, documentID string) bool {
	requested, err := uc.store.CancelRequested(ctx, documentID)
	if err != nil {
		// Cancellation is best-effort: a flaky flag read never aborts a run.
		slog.Warn("cancel_flag_check_failed", "document_id", documentID, "error", err)
		return false
	}
	return requested
}

func (uc *ExtractDocumentUseCase) markCancelled(ctx context.Context, documentID string, trail []domain.StrategyResult) error {
	err := uc.store.MarkFailed(ctx, documentID, trail,
		domain.ErrorKindLabel(domain.ErrCancelled), "cancelled by caller request")
	if err != nil {
		return fmt.Errorf("mark cancelled status: %w", err)
	}
	slog.Info("extraction_cancelled", "document_id", documentID, "steps", len(trail))
	return nil
}

func outcomeFor(err error) domain.StrategyOutcome {
	switch {
	case err == nil:
		return domain.OutcomeOK
	case domain.IsKind(err, domain.ErrUnsupportedFormat):
		return domain.OutcomeUnsupportedFormat
	case domain.IsKind(err, domain.ErrBackendTimeout):
		return domain.OutcomeTimeout
	default:
		return domain.OutcomeBackendError
	}
}
