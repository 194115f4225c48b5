package runtime

import (
	"context"
	"reflect"

	metadatapkg "github.com/drblury/workerflow/internal/runtime/metadata"
)

// Message is a raw unit of work produced by a Provider. Its shape is defined
// by the provider (an SQS message, a watermill message, a NATS message...).
type Message = any

// Metadata carries provider attributes next to translated content.
type Metadata = metadatapkg.Metadata

// TranslatedMessage is what a handler receives: the decoded content plus
// the attributes the translator lifted out of the raw message.
type TranslatedMessage struct {
	Content  any
	Metadata Metadata
}

// Provider is a source of raw messages that owns acknowledgement and
// redelivery.
//
// FetchMessages returns an empty slice when nothing is available and an error
// only for genuine fetch failures. ConfirmMessage should treat a message that
// is already gone as confirmed.
type Provider interface {
	FetchMessages(ctx context.Context) ([]Message, error)
	ConfirmMessage(ctx context.Context, msg Message) error
	MessageNotProcessed(ctx context.Context, msg Message) error
	Stop()
}

// BaseProvider supplies the optional parts of Provider. Embed it and
// implement FetchMessages and ConfirmMessage.
type BaseProvider struct{}

// MessageNotProcessed leaves the message for the source to redeliver.
func (BaseProvider) MessageNotProcessed(context.Context, Message) error { return nil }

func (BaseProvider) Stop() {}

// Translator maps a raw message to content and metadata.
type Translator interface {
	Translate(msg Message) (TranslatedMessage, error)
}

type TranslatorFunc func(msg Message) (TranslatedMessage, error)

func (f TranslatorFunc) Translate(msg Message) (TranslatedMessage, error) { return f(msg) }

// Handler processes translated content. Returning true acknowledges the
// message; false leaves it for redelivery without counting as an error.
type Handler interface {
	Handle(ctx context.Context, content any, md Metadata) (bool, error)
}

// HandlerFunc is a context-aware handler running on the worker goroutine.
type HandlerFunc func(ctx context.Context, content any, md Metadata) (bool, error)

func (f HandlerFunc) Handle(ctx context.Context, content any, md Metadata) (bool, error) {
	return f(ctx, content, md)
}

// BlockingHandlerFunc is a handler that does not observe cancellation. Each
// call runs on its own goroutine so the worker can give up on it when the
// context is cancelled; the call itself keeps running until it returns.
type BlockingHandlerFunc func(content any, md Metadata) (bool, error)

func (f BlockingHandlerFunc) Handle(ctx context.Context, content any, md Metadata) (bool, error) {
	return runDetached(ctx, func() (bool, error) { return f(content, md) })
}

// Stopper is implemented by stateful handlers that hold resources.
type Stopper interface {
	Stop()
}

// ErrorHandler decides the fate of a message whose delivery failed. Returning
// true acknowledges it despite the error.
type ErrorHandler interface {
	HandleError(ctx context.Context, ec ErrorContext, msg Message) bool
}

type ErrorHandlerFunc func(ctx context.Context, ec ErrorContext, msg Message) bool

func (f ErrorHandlerFunc) HandleError(ctx context.Context, ec ErrorContext, msg Message) bool {
	return f(ctx, ec, msg)
}

// BlockingErrorHandlerFunc is the error-handler counterpart of
// BlockingHandlerFunc. A cancelled or panicking call counts as false.
type BlockingErrorHandlerFunc func(ec ErrorContext, msg Message) bool

func (f BlockingErrorHandlerFunc) HandleError(ctx context.Context, ec ErrorContext, msg Message) bool {
	ok, err := runDetached(ctx, func() (bool, error) { return f(ec, msg), nil })
	return ok && err == nil
}

type detachedResult struct {
	ok  bool
	err error
}

func runDetached(ctx context.Context, fn func() (bool, error)) (bool, error) {
	done := make(chan detachedResult, 1)
	go func() {
		var res detachedResult
		defer func() {
			if r := recover(); r != nil {
				res = detachedResult{err: newPanicError(r)}
			}
			done <- res
		}()
		res.ok, res.err = fn()
	}()

	select {
	case res := <-done:
		return res.ok, res.err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// IsEmpty reports whether v carries nothing to deliver: nil, a nil pointer,
// interface, func or chan, or a zero-length string, slice, array or map.
// Other values, including zero numbers and false, are not empty.
func IsEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	default:
		return false
	}
}
