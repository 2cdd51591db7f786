package domain

import "time"

// ExtractionCandidate is the in-memory result of one backend attempt.
// Candidates are never persisted; only the winner's items and score are
// flattened into the Document before it reaches the store.
type ExtractionCandidate struct {
	Backend  string
	Items    []LineItem
	Meta     map[string]string
	Duration time.Duration
}
