package rag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAlreadyIndexed is returned by Indexer.Add when the paper already has an
// entry. Entries are never silently overwritten.
var ErrAlreadyIndexed = errors.New("rag: paper already indexed")

// ValidationError reports malformed caller input: empty text, a non-positive
// id, or a malformed filter. It is returned before any network call.
type ValidationError struct {
	// Field names the offending input.
	Field string

	// Reason describes what is wrong with it.
	Reason string

	// Err is an optional underlying cause.
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// invalid builds a ValidationError.
func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// TransportError reports a failure of a remote backend, including timeouts.
type TransportError struct {
	// Backend names the failing system, e.g. "openai", "qdrant".
	Backend string

	// Op is the attempted operation, e.g. "embed", "search".
	Op string

	// Status is the backend status code when one was received, else 0.
	Status int

	// Err is the underlying error.
	Err error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "transport: %s %s failed", e.Backend, e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Err }

// asTransport returns err unchanged when it already is (or wraps) a
// TransportError, otherwise wraps it as one.
func asTransport(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	var ve *ValidationError
	if errors.As(err, &te) || errors.As(err, &ve) {
		return err
	}
	return &TransportError{Backend: backend, Op: op, Err: err}
}

// PaperFormattingError reports that a non-empty hit set produced zero
// hydrated papers. This usually means the index is stale relative to the
// paper store.
type PaperFormattingError struct {
	// Hits is the number of hits received.
	Hits int

	// Failed holds the ids of every hit that could not be formatted.
	Failed []string
}

func (e *PaperFormattingError) Error() string {
	return fmt.Sprintf("rag: none of %d search hits could be matched to a paper (ids: %s)",
		e.Hits, strings.Join(e.Failed, ", "))
}
