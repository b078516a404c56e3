package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across pipeline stages. Stage implementations wrap
// these with %w so callers can classify failures with errors.Is.
var (
	// ErrContextLength marks an embedding/generation call rejected because
	// the input exceeded the model's context window. The embedding stage
	// reacts by shrinking its input budget and retrying.
	ErrContextLength = errors.New("context length exceeded")

	// ErrDuplicateKey marks a unique-constraint violation. The query
	// embedding cache reconciles this by re-reading the winning row.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrNotFound is returned by lookups that matched no row.
	ErrNotFound = errors.New("not found")
)

// TransportError is a network or HTTP-level failure while talking to the
// source portal. The crawler retries these with backoff; acquisition surfaces
// them as a terminal per-document failure.
type TransportError struct {
	URL    string
	Status int // 0 when the request never produced a response
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transport: %s returned %d", e.URL, e.Status)
	}
	return fmt.Sprintf("transport: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FormatError is missing or unparseable input data: absent bytes, an
// unresolvable row key, an unparseable date. Never retried.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string { return "format: " + e.Msg }

// Formatf builds a FormatError.
func Formatf(format string, args ...any) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// ConversionError is a conversion-engine failure. The conversion stage
// handles it with the page-limit degradation loop; exhaustion is terminal for
// the document.
type ConversionError struct {
	PageLimit int
	Err       error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed at page limit %d: %v", e.PageLimit, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// ExternalServiceError is any embedding/generation/index failure that does
// not match a known recoverable shape. Propagated, never swallowed.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
