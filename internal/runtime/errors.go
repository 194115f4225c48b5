package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
)

// ProviderError wraps a failure returned by a route's FetchMessages. It is
// fatal to the DispatchProviders run that observed it.
type ProviderError struct {
	Route string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("workerflow: provider for route %q failed: %v", e.Route, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TranslationError reports a translator that produced no content. It is
// handled like any other processing error.
type TranslationError struct {
	Route string
	Err   error
}

func (e *TranslationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("workerflow: route %q failed to translate message: empty content", e.Route)
	}
	return fmt.Sprintf("workerflow: route %q failed to translate message: %v", e.Route, e.Err)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// PanicError is a recovered panic from a translator or handler.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("workerflow: panic during delivery: %v", e.Value)
}

// Unwrap exposes the panic value when it was an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// ErrorContext describes a failed delivery to an error handler: the error,
// its dynamic type and the goroutine stack where it was classified, or the
// panic stack when the failure was a panic.
type ErrorContext struct {
	Err   error
	Type  string
	Stack []byte
}

// NewErrorContext captures err together with the current stack.
func NewErrorContext(err error) ErrorContext {
	ec := ErrorContext{Err: err, Type: fmt.Sprintf("%T", err)}
	var pe *PanicError
	if errors.As(err, &pe) {
		ec.Stack = pe.Stack
	} else {
		ec.Stack = debug.Stack()
	}
	return ec
}

func (ec ErrorContext) Error() string {
	if ec.Err == nil {
		return ""
	}
	return ec.Err.Error()
}

func (ec ErrorContext) Unwrap() error { return ec.Err }

// IsDeleteMessage reports whether err asks for the message to be discarded.
func IsDeleteMessage(err error) bool {
	return errors.Is(err, errspkg.ErrDeleteMessage)
}

// IsCancellation reports whether err stems from context cancellation.
// Deadline expiry is not a cancellation. The dispatcher only unwinds when its
// own context is done; a cancellation error on a live context is handled as a
// processing error.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}

// ErrorCategory groups errors for metrics labels.
type ErrorCategory string

const (
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryCancelled  ErrorCategory = "cancelled"
	ErrorCategoryOther      ErrorCategory = "other"
)

// Categorize classifies err.
func Categorize(err error) ErrorCategory {
	var (
		providerErr    *ProviderError
		translationErr *TranslationError
	)
	switch {
	case err == nil:
		return ""
	case IsCancellation(err):
		return ErrorCategoryCancelled
	case errors.As(err, &translationErr):
		return ErrorCategoryValidation
	case errors.As(err, &providerErr):
		return ErrorCategoryTransport
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryDownstream
	default:
		return ErrorCategoryOther
	}
}
