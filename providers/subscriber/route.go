package subscriber

import (
	"github.com/drblury/workerflow/internal/runtime"
	"github.com/drblury/workerflow/internal/runtime/translators"
)

// RouteConfig configures NewRoute. Translator defaults to translators.JSON.
type RouteConfig struct {
	Name         string
	Provider     Config
	Handler      runtime.Handler
	Translator   runtime.Translator
	ErrorHandler runtime.ErrorHandler
}

// NewRoute builds a route reading from cfg.Provider.Topic. The route is
// named after the topic unless Name is set.
func NewRoute(cfg RouteConfig) (*runtime.Route, error) {
	provider, err := New(cfg.Provider)
	if err != nil {
		return nil, err
	}
	translator := cfg.Translator
	if translator == nil {
		translator = translators.JSON
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Provider.Topic
	}
	return runtime.NewRoute(runtime.RouteConfig{
		Name:         name,
		Provider:     provider,
		Handler:      cfg.Handler,
		Translator:   translator,
		ErrorHandler: cfg.ErrorHandler,
		Logger:       cfg.Provider.Logger,
	})
}
