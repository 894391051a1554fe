package errors

import (
	"errors"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
)

// Standard errors
var (
	// ErrInvalidInput is returned when a caller supplies invalid input. Not retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingFailure is returned when the embedding provider fails. Safe to retry with backoff.
	ErrEmbeddingFailure = errors.New("embedding failure")

	// ErrStoreFailure is returned when the vector index rejects a write.
	ErrStoreFailure = errors.New("store failure")

	// ErrDeletionPartial is returned when some records in a deletion scope could not be removed.
	ErrDeletionPartial = errors.New("deletion partial")

	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrUnsupported is returned by index adapters for operations they cannot perform
	ErrUnsupported = errors.New("operation not supported")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")
)

// markedError carries a taxonomy sentinel alongside the underlying cause.
type markedError struct {
	kind  error
	cause error
}

func (e *markedError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *markedError) Unwrap() []error {
	return []error{e.kind, e.cause}
}

// Mark tags err with kind. errors.Is(result, kind) holds, and the wrapped
// chain (including any *goerr.Error) stays reachable through errors.As.
func Mark(err, kind error) error {
	if err == nil {
		return nil
	}
	if kind == nil || errors.Is(err, kind) {
		return err
	}
	return &markedError{kind: kind, cause: err}
}

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Values returns the goerr values attached anywhere in err's chain.
// It returns nil when err carries no *goerr.Error.
func Values(err error) map[string]any {
	var ge *goerr.Error
	if !errors.As(err, &ge) {
		return nil
	}
	return ge.Values()
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
