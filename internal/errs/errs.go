package errs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Class groups errors by how callers should react to them.
type Class string

const (
	ClassValidation Class = "validation"
	ClassNotFound   Class = "not_found"
	ClassStore      Class = "store"
	ClassExternal   Class = "external"
	ClassInternal   Class = "internal"
)

// ValidationError reports malformed input. Field may be empty when the
// problem concerns the request as a whole.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError.
func Validation(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// Validationf builds a ValidationError with a formatted message.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a keyed resource does not exist.
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.Key)
}

// EndpointNotConfiguredError is returned when an ingestion request targets a
// (domain, endpointId) pair that has no stored configuration.
type EndpointNotConfiguredError struct {
	Domain     string
	EndpointID string
}

func (e *EndpointNotConfiguredError) Error() string {
	return fmt.Sprintf("Endpoint '%s/%s' not found or configured.", e.Domain, e.EndpointID)
}

// StoreError wraps a failure of the persistence backend.
type StoreError struct {
	Op      string
	Err     error
	timeout bool
}

func (e *StoreError) Error() string {
	if e.timeout {
		return fmt.Sprintf("store %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Timeout reports whether the store call exceeded its deadline.
func (e *StoreError) Timeout() bool { return e.timeout }

// Store wraps err as a StoreError. Deadline errors are flagged as timeouts.
// Errors that are already classified are returned unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if ClassOf(err) != ClassInternal {
		return err
	}
	return &StoreError{
		Op:      op,
		Err:     err,
		timeout: errors.Is(err, context.DeadlineExceeded),
	}
}

// ExternalError wraps a failure of an external collaborator such as the
// language model used for config derivation.
type ExternalError struct {
	Operation string
	Err       error
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: external collaborator failed: %v", e.Operation, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// External wraps err as an ExternalError unless it is already classified.
func External(operation string, err error) error {
	if err == nil {
		return nil
	}
	if ClassOf(err) != ClassInternal {
		return err
	}
	return &ExternalError{Operation: operation, Err: err}
}

// Wrap adds context and preserves the error chain (errors.Is/As works).
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf adds formatted context and preserves the error chain.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	args = append(args, err)
	return fmt.Errorf(format+": %w", args...)
}

// ClassOf walks the error chain and returns the first classification found.
func ClassOf(err error) Class {
	var (
		validation    *ValidationError
		notFound      *NotFoundError
		notConfigured *EndpointNotConfiguredError
		store         *StoreError
		external      *ExternalError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &notConfigured), errors.As(err, &notFound):
		return ClassNotFound
	case errors.As(err, &validation):
		return ClassValidation
	case errors.As(err, &store):
		return ClassStore
	case errors.As(err, &external):
		return ClassExternal
	default:
		return ClassInternal
	}
}

// HTTPStatus maps a class to the status code used by the HTTP surface.
func HTTPStatus(c Class) int {
	switch c {
	case ClassValidation:
		return http.StatusBadRequest
	case ClassNotFound:
		return http.StatusNotFound
	case ClassExternal:
		return http.StatusBadGateway
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTimeout reports whether err carries a timed out StoreError.
func IsTimeout(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Timeout()
}

type loggable struct{ err error }

// Loggable makes slog encode the error with its unwrap chain.
// Usage: logger.Error("msg", "error", errs.Loggable(err))
func Loggable(err error) slog.LogValuer { return loggable{err: err} }

func (l loggable) LogValue() slog.Value {
	if l.err == nil {
		return slog.GroupValue()
	}
	return slog.GroupValue(
		slog.String("message", l.err.Error()),
		slog.String("class", string(ClassOf(l.err))),
		slog.Any("chain", ErrorChainStrings(l.err)),
	)
}

// ErrorChainStrings returns the unwrap chain as strings (outer -> inner).
func ErrorChainStrings(err error) []string {
	if err == nil {
		return nil
	}

	out := make([]string, 0, 4)
	for e := err; e != nil; e = errors.Unwrap(e) {
		out = append(out, e.Error())
	}
	return out
}
