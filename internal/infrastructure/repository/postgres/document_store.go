// Package postgres persists document records, their strategy trails and
// extracted line items. It is the single writer for document state;
// writes to settled documents are silently dropped so queue redeliveries
// can never overwrite a final result.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/procflow/extractor/internal/core/domain"
	"github.com/procflow/extractor/internal/infrastructure/resilience"
)

type DocumentStore struct {
	db       *sql.DB
	executor *resilience.Executor
}

func NewDocumentStore(db *sql.DB, executor *resilience.Executor) *DocumentStore {
	return &DocumentStore{db: db, executor: executor}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	format TEXT NOT NULL,
	storage_ref TEXT NOT NULL,
	status TEXT NOT NULL,
	chosen_strategy TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	error_detail TEXT NOT NULL DEFAULT '',
	trail JSONB NOT NULL DEFAULT '[]'::jsonb,
	items JSONB NOT NULL DEFAULT '[]'::jsonb,
	cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (s *DocumentStore) CreateDocument(ctx context.Context, doc *domain.Document) error {
	return s.execute(ctx, "documents.create", func(ctx context.Context) error {
		trailJSON, itemsJSON, err := marshalPayload(doc.Trail, doc.Items)
		if err != nil {
			return err
		}
		_, err = s.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, format, storage_ref, status, chosen_strategy, confidence,
	error_kind, error_detail, trail, items, cancel_requested, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
`,
			doc.ID, doc.Filename, string(doc.Format), doc.StorageRef, string(doc.Status),
			doc.ChosenStrategy, doc.Confidence, doc.ErrorKind, doc.ErrorDetail,
			trailJSON, itemsJSON, false, doc.CreatedAt, doc.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		return nil
	})
}

func (s *DocumentStore) MarkExtracting(ctx context.Context, id string) error {
	return s.execute(ctx, "documents.mark_extracting", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, updated_at = $3
WHERE id = $1 AND status NOT IN ('completed','failed')
`, id, string(domain.StatusExtracting), time.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark extracting: %w", err)
		}
		return s.settleGuard(ctx, res, id)
	})
}

func (s *DocumentStore) MarkCompleted(ctx context.Context, id string, trail []domain.StrategyResult, items []domain.LineItem, chosenBackend string, confidence float64) error {
	return s.execute(ctx, "documents.mark_completed", func(ctx context.Context) error {
		trailJSON, itemsJSON, err := marshalPayload(trail, items)
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, chosen_strategy = $3, confidence = $4, trail = $5, items = $6,
	error_kind = '', error_detail = '', updated_at = $7
WHERE id = $1 AND status NOT IN ('completed','failed')
`, id, string(domain.StatusCompleted), chosenBackend, confidence, trailJSON, itemsJSON, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark completed: %w", err)
		}
		return s.settleGuard(ctx, res, id)
	})
}

func (s *DocumentStore) MarkFailed(ctx context.Context, id string, trail []domain.StrategyResult, kind, detail string) error {
	return s.execute(ctx, "documents.mark_failed", func(ctx context.Context) error {
		trailJSON, itemsJSON, err := marshalPayload(trail, nil)
		if err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_kind = $3, error_detail = $4, trail = $5, items = $6, updated_at = $7
WHERE id = $1 AND status NOT IN ('completed','failed')
`, id, string(domain.StatusFailed), kind, detail, trailJSON, itemsJSON, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		return s.settleGuard(ctx, res, id)
	})
}

func (s *DocumentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var doc *domain.Document
	err := s.execute(ctx, "documents.get", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
SELECT id, filename, format, storage_ref, status, chosen_strategy, confidence,
	error_kind, error_detail, trail, items, created_at, updated_at
FROM documents
WHERE id = $1
`, id)

		var scanned domain.Document
		var format, status string
		var trailRaw, itemsRaw []byte

		err := row.Scan(
			&scanned.ID, &scanned.Filename, &format, &scanned.StorageRef, &status,
			&scanned.ChosenStrategy, &scanned.Confidence, &scanned.ErrorKind, &scanned.ErrorDetail,
			&trailRaw, &itemsRaw, &scanned.CreatedAt, &scanned.UpdatedAt,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
			}
			return fmt.Errorf("scan document: %w", err)
		}

		if err := json.Unmarshal(trailRaw, &scanned.Trail); err != nil {
			return fmt.Errorf("unmarshal trail: %w", err)
		}
		if err := json.Unmarshal(itemsRaw, &scanned.Items); err != nil {
			return fmt.Errorf("unmarshal items: %w", err)
		}
		scanned.Format = domain.DocumentFormat(format)
		scanned.Status = domain.DocumentStatus(status)
		doc = &scanned
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentStore) RequestCancel(ctx context.Context, id string) error {
	return s.execute(ctx, "documents.request_cancel", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET cancel_requested = TRUE, updated_at = $2
WHERE id = $1
`, id, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("request cancel: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		return nil
	})
}

func (s *DocumentStore) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.execute(ctx, "documents.cancel_requested", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx, `
SELECT cancel_requested FROM documents WHERE id = $1
`, id).Scan(&requested)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("scan cancel flag: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return requested, nil
}

// settleGuard resolves a zero-row guarded update: the document either
// does not exist or has already settled. An already-settled document is
// not an error, so redelivered work degrades to a no-op.
func (s *DocumentStore) settleGuard(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	err = s.db.QueryRowContext(ctx, `SELECT TRUE FROM documents WHERE id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("check document: %w", err)
	}
	return nil
}

// execute runs one store operation through the retry/breaker executor.
// Anything that is not a lookup miss surfaces as a store-availability
// failure after retries exhaust.
func (s *DocumentStore) execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := s.executor.Execute(ctx, operation, fn, classifyStoreError)
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrDocumentNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.WrapError(domain.ErrStoreUnavailable, operation, err)
}

func classifyStoreError(err error) resilience.ErrorClassification {
	if errors.Is(err, domain.ErrDocumentNotFound) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.ErrorClassification{Retryable: false, RecordFailure: false}
	}
	return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
}

func marshalPayload(trail []domain.StrategyResult, items []domain.LineItem) ([]byte, []byte, error) {
	if trail == nil {
		trail = []domain.StrategyResult{}
	}
	if items == nil {
		items = []domain.LineItem{}
	}
	trailJSON, err := json.Marshal(trail)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal trail: %w", err)
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal items: %w", err)
	}
	return trailJSON, itemsJSON, nil
}
