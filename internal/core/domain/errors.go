package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrTemporary        = errors.New("temporary failure")

	// Backend-attempt failures, recovered inside the cascade.
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrBackendTimeout    = errors.New("backend timeout")
	ErrBackendFailed     = errors.New("backend error")

	// Run-terminating failures, surfaced through the document record.
	ErrNoMeaningfulExtraction = errors.New("no meaningful extraction")
	ErrCancelled              = errors.New("extraction cancelled")

	// Gateway failure after retries exhaust.
	ErrStoreUnavailable = errors.New("document store unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ErrorKindLabel maps an error to the stable kind string persisted on
// failed documents and shown to callers.
func ErrorKindLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "UnsupportedFormat"
	case errors.Is(err, ErrBackendTimeout):
		return "Timeout"
	case errors.Is(err, ErrBackendFailed):
		return "BackendError"
	case errors.Is(err, ErrNoMeaningfulExtraction):
		return "NoMeaningfulExtraction"
	case errors.Is(err, ErrCancelled):
		return "Cancelled"
	case errors.Is(err, ErrStoreUnavailable):
		return "StoreUnavailable"
	default:
		return "BackendError"
	}
}
