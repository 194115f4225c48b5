package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

// DeliveryContext describes one pass of a message through a route.
type DeliveryContext struct {
	Route      string
	DeliveryID string
	Context    context.Context
	StartedAt  time.Time
	// Duration and Outcome are set for OnDeliveryDone and OnDeliveryError.
	Duration time.Duration
	Outcome  Outcome
}

// DeliveryHooks are optional callbacks around DispatchMessage. Nil hooks are
// skipped.
type DeliveryHooks struct {
	OnDeliveryStart func(dc DeliveryContext)
	// OnDeliveryDone fires when the message reached a confirm or retry
	// decision without a processing error.
	OnDeliveryDone func(dc DeliveryContext)
	// OnDeliveryError fires for processing errors, after the error handler
	// decided the outcome.
	OnDeliveryError func(dc DeliveryContext, err error)
}

// Merge returns hooks that call h first and then other.
func (h DeliveryHooks) Merge(other DeliveryHooks) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: chainHook(h.OnDeliveryStart, other.OnDeliveryStart),
		OnDeliveryDone:  chainHook(h.OnDeliveryDone, other.OnDeliveryDone),
		OnDeliveryError: chainErrorHook(h.OnDeliveryError, other.OnDeliveryError),
	}
}

func chainHook(a, b func(DeliveryContext)) func(DeliveryContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(dc DeliveryContext) {
		a(dc)
		b(dc)
	}
}

func chainErrorHook(a, b func(DeliveryContext, error)) func(DeliveryContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(dc DeliveryContext, err error) {
		a(dc, err)
		b(dc, err)
	}
}

func (h DeliveryHooks) start(dc DeliveryContext) {
	if h.OnDeliveryStart != nil {
		h.OnDeliveryStart(dc)
	}
}

func (h DeliveryHooks) finish(dc DeliveryContext, err error) {
	if err != nil {
		if h.OnDeliveryError != nil {
			h.OnDeliveryError(dc, err)
		}
		return
	}
	if h.OnDeliveryDone != nil {
		h.OnDeliveryDone(dc)
	}
}

// LoggingHooks logs every delivery at debug level and failures at error.
func LoggingHooks(logger loggingpkg.ServiceLogger) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: func(dc DeliveryContext) {
			logger.Debug("Delivery started", loggingpkg.LogFields{
				"route":       dc.Route,
				"delivery_id": dc.DeliveryID,
			})
		},
		OnDeliveryDone: func(dc DeliveryContext) {
			logger.Debug("Delivery finished", loggingpkg.LogFields{
				"route":       dc.Route,
				"delivery_id": dc.DeliveryID,
				"outcome":     string(dc.Outcome),
				"duration_ms": dc.Duration.Milliseconds(),
			})
		},
		OnDeliveryError: func(dc DeliveryContext, err error) {
			logger.Error("Delivery failed", err, loggingpkg.LogFields{
				"route":       dc.Route,
				"delivery_id": dc.DeliveryID,
				"outcome":     string(dc.Outcome),
				"category":    string(Categorize(err)),
				"duration_ms": dc.Duration.Milliseconds(),
			})
		},
	}
}

// MetricsHooks records delivery outcomes and durations on m.
func MetricsHooks(m *DispatchMetrics) DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryDone: func(dc DeliveryContext) {
			m.RecordDelivery(dc.Route, dc.Outcome, dc.Duration)
		},
		OnDeliveryError: func(dc DeliveryContext, err error) {
			m.RecordDelivery(dc.Route, dc.Outcome, dc.Duration)
			m.RecordDeliveryError(dc.Route, Categorize(err))
		},
	}
}

// AlertingHooks calls alert for every failed delivery.
func AlertingHooks(alert func(dc DeliveryContext, err error)) DeliveryHooks {
	return DeliveryHooks{OnDeliveryError: alert}
}
