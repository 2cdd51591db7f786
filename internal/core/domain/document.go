package domain

import (
	"encoding/json"
	"time"
)

type DocumentStatus string

const (
	StatusQueued     DocumentStatus = "queued"
	StatusExtracting DocumentStatus = "extracting"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether a document can no longer change state.
func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

type DocumentFormat string

const (
	FormatTabular     DocumentFormat = "tabular"
	FormatPDF         DocumentFormat = "pdf"
	FormatSpreadsheet DocumentFormat = "spreadsheet"
	FormatImage       DocumentFormat = "image"
	FormatUnknown     DocumentFormat = "unknown"
)

// ParseFormat normalizes a caller-declared format, falling back to unknown.
func ParseFormat(raw string) DocumentFormat {
	switch DocumentFormat(raw) {
	case FormatTabular, FormatPDF, FormatSpreadsheet, FormatImage:
		return DocumentFormat(raw)
	default:
		return FormatUnknown
	}
}

type Document struct {
	ID             string           `json:"id"`
	Filename       string           `json:"filename"`
	Format         DocumentFormat   `json:"format"`
	StorageRef     string           `json:"storage_ref"`
	Status         DocumentStatus   `json:"status"`
	ChosenStrategy string           `json:"chosen_strategy,omitempty"`
	Confidence     float64          `json:"confidence_score,omitempty"`
	ErrorKind      string           `json:"error_kind,omitempty"`
	ErrorDetail    string           `json:"error_detail,omitempty"`
	Trail          []StrategyResult `json:"strategy_trail,omitempty"`
	Items          []LineItem       `json:"result_items,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// LineItem is one structured requirement row extracted from a document.
type LineItem struct {
	Description    string   `json:"description"`
	Quantity       *float64 `json:"quantity,omitempty"`
	Unit           string   `json:"unit,omitempty"`
	Specifications []string `json:"specifications,omitempty"`
	Category       string   `json:"category,omitempty"`
}

// StrategyResult records one cascade step. Entries are appended in
// invocation order and never mutated afterwards.
type StrategyResult struct {
	Backend   string
	Score     float64
	Duration  time.Duration
	Outcome   StrategyOutcome
	EarlyExit bool
}

// strategyResultRecord is the persisted/API shape of a cascade step.
// Durations travel as integer milliseconds.
type strategyResultRecord struct {
	Backend    string          `json:"backend_id"`
	Score      float64         `json:"score"`
	DurationMS int64           `json:"duration_ms"`
	Outcome    StrategyOutcome `json:"outcome"`
	EarlyExit  bool            `json:"early_exit"`
}

func (r StrategyResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(strategyResultRecord{
		Backend:    r.Backend,
		Score:      r.Score,
		DurationMS: r.Duration.Milliseconds(),
		Outcome:    r.Outcome,
		EarlyExit:  r.EarlyExit,
	})
}

func (r *StrategyResult) UnmarshalJSON(data []byte) error {
	var rec strategyResultRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*r = StrategyResult{
		Backend:   rec.Backend,
		Score:     rec.Score,
		Duration:  time.Duration(rec.DurationMS) * time.Millisecond,
		Outcome:   rec.Outcome,
		EarlyExit: rec.EarlyExit,
	}
	return nil
}

type StrategyOutcome string

const (
	OutcomeOK                StrategyOutcome = "ok"
	OutcomeUnsupportedFormat StrategyOutcome = "unsupported_format"
	OutcomeTimeout           StrategyOutcome = "timeout"
	OutcomeBackendError      StrategyOutcome = "backend_error"
)
