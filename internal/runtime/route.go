package runtime

import (
	"context"
	"fmt"
	"sync"

	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

const defaultRouteName = "default"

// RouteConfig describes a route. Provider and Handler are required.
type RouteConfig struct {
	Name         string
	Provider     Provider
	Handler      Handler
	Translator   Translator
	ErrorHandler ErrorHandler
	Logger       loggingpkg.ServiceLogger
}

// Route binds a provider to a handler, with an optional translator and
// error handler. A Route is immutable once built.
type Route struct {
	name         string
	provider     Provider
	handler      Handler
	stopper      Stopper
	translator   Translator
	errorHandler ErrorHandler
	logger       loggingpkg.ServiceLogger

	stopOnce sync.Once
}

// NewRoute validates cfg and builds a Route.
func NewRoute(cfg RouteConfig) (*Route, error) {
	if cfg.Provider == nil {
		return nil, errspkg.ErrProviderRequired
	}
	if cfg.Handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}

	name := cfg.Name
	if name == "" {
		name = defaultRouteName
	}

	r := &Route{
		name:         name,
		provider:     cfg.Provider,
		handler:      cfg.Handler,
		translator:   cfg.Translator,
		errorHandler: cfg.ErrorHandler,
	}
	if s, ok := cfg.Handler.(Stopper); ok {
		r.stopper = s
	}
	r.logger = loggingpkg.OrDiscard(cfg.Logger).With(loggingpkg.LogFields{"route": name})
	return r, nil
}

// MustNewRoute is NewRoute for static wiring; it panics on invalid config.
func MustNewRoute(cfg RouteConfig) *Route {
	r, err := NewRoute(cfg)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Route) Name() string { return r.name }

func (r *Route) Provider() Provider { return r.provider }

func (r *Route) String() string {
	return fmt.Sprintf("<Route %s: provider=%T handler=%T>", r.name, r.provider, r.handler)
}

// ApplyTranslation turns msg into handler input. Without a translator msg is
// passed through as content with empty metadata.
func (r *Route) ApplyTranslation(msg Message) (TranslatedMessage, error) {
	if r.translator == nil {
		return TranslatedMessage{Content: msg, Metadata: Metadata{}}, nil
	}

	translated, err := r.translator.Translate(msg)
	if err != nil {
		return TranslatedMessage{}, &TranslationError{Route: r.name, Err: err}
	}
	if IsEmpty(translated.Content) {
		return TranslatedMessage{}, &TranslationError{Route: r.name}
	}
	return TranslatedMessage{
		Content:  translated.Content,
		Metadata: Metadata{}.WithAll(translated.Metadata),
	}, nil
}

// Deliver translates msg and invokes the handler. Panics in the translator
// or the handler come back as *PanicError.
func (r *Route) Deliver(ctx context.Context, msg Message) (confirmed bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			confirmed, err = false, newPanicError(rec)
		}
	}()

	translated, err := r.ApplyTranslation(msg)
	if err != nil {
		return false, err
	}

	r.logger.Trace("delivering message", loggingpkg.LogFields{"handler": fmt.Sprintf("%T", r.handler)})
	return r.handler.Handle(ctx, translated.Content, translated.Metadata)
}

// HandleError runs the configured error handler. Without one the message is
// left for redelivery.
func (r *Route) HandleError(ctx context.Context, ec ErrorContext, msg Message) (ack bool) {
	if r.errorHandler == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("error handler panicked", newPanicError(rec), nil)
			ack = false
		}
	}()
	return r.errorHandler.HandleError(ctx, ec, msg)
}

// Stop stops the provider and then the handler when it holds resources.
// Repeated calls are no-ops.
func (r *Route) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("stopping route", nil)
		r.provider.Stop()
		if r.stopper != nil {
			r.stopper.Stop()
		}
	})
}
