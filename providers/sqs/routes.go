package sqs

import (
	"github.com/drblury/workerflow/internal/runtime"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

// RouteConfig configures NewSQSRoute and NewSNSQueueRoute.
type RouteConfig struct {
	// Name defaults to the queue name.
	Name    string
	Client  Client
	Options Options
	Handler runtime.Handler

	// Translator replaces the default one. RawMessages disables
	// translation so the handler receives types.Message values.
	Translator  runtime.Translator
	RawMessages bool

	ErrorHandler runtime.ErrorHandler
	Logger       loggingpkg.ServiceLogger
}

// NewSQSRoute reads JSON messages from queue.
func NewSQSRoute(queue string, cfg RouteConfig) (*runtime.Route, error) {
	return newQueueRoute(queue, cfg, Translator)
}

// NewSNSQueueRoute reads SNS notifications from a queue subscribed to a
// topic.
func NewSNSQueueRoute(queue string, cfg RouteConfig) (*runtime.Route, error) {
	return newQueueRoute(queue, cfg, SNSTranslator)
}

func newQueueRoute(queue string, cfg RouteConfig, fallback runtime.Translator) (*runtime.Route, error) {
	provider, err := NewProvider(cfg.Client, queue, cfg.Options, cfg.Logger)
	if err != nil {
		return nil, err
	}

	translator := cfg.Translator
	switch {
	case cfg.RawMessages:
		translator = nil
	case translator == nil:
		translator = fallback
	}

	name := cfg.Name
	if name == "" {
		name = QueueName(queue)
	}

	return runtime.NewRoute(runtime.RouteConfig{
		Name:         name,
		Provider:     provider,
		Handler:      cfg.Handler,
		Translator:   translator,
		ErrorHandler: cfg.ErrorHandler,
		Logger:       cfg.Logger,
	})
}
