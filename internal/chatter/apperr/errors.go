// Package apperr defines the error taxonomy shared by the conversation core
// and the command layer that reports failures to users.
//
// The core never retries; it returns one of these to its caller, which picks
// the user-facing wording with UserMessage.
package apperr

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by lookups of unknown personas or sessions.
var ErrNotFound = errors.New("not found")

// NotFound wraps ErrNotFound with the kind and identifier that was missing.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// ValidationError rejects a field before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid builds a ValidationError with a formatted reason.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// StorageError reports that the message log or persona registry could not
// be read or written. No partial state is left behind.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage wraps err as a StorageError for op. It returns nil for a nil err
// and leaves errors that are already classified untouched.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	var ve *ValidationError
	if errors.As(err, &se) || errors.As(err, &ve) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// CompletionFailure reports that the completion provider produced no usable
// reply. The exchange leaves no trace in history.
type CompletionFailure struct {
	Reason string
	Err    error
}

func (e *CompletionFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("completion failed: %s: %v", e.Reason, e.Err)
	}
	return "completion failed: " + e.Reason
}

func (e *CompletionFailure) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the same operation.
func IsRetryable(err error) bool {
	var se *StorageError
	var cf *CompletionFailure
	return errors.As(err, &se) || errors.As(err, &cf)
}

// UserMessage renders err for the person who triggered the operation.
func UserMessage(err error) string {
	var (
		ve *ValidationError
		se *StorageError
		cf *CompletionFailure
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, ErrNotFound):
		return notFoundMessage(err)
	case errors.As(err, &se):
		return "A temporary storage problem prevented this, please try again."
	case errors.As(err, &cf):
		if cf.Err != nil {
			return fmt.Sprintf("The model could not answer (%s: %v). Please try again.", cf.Reason, cf.Err)
		}
		return fmt.Sprintf("The model could not answer (%s). Please try again.", cf.Reason)
	default:
		return err.Error()
	}
}

// notFoundMessage turns `persona "x": not found` into `persona "x" does not exist`.
func notFoundMessage(err error) string {
	msg := err.Error()
	suffix := ": " + ErrNotFound.Error()
	if len(msg) > len(suffix) && msg[len(msg)-len(suffix):] == suffix {
		return msg[:len(msg)-len(suffix)] + " does not exist"
	}
	return "That does not exist."
}
