package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

func TestDeliveryHooksMerge(t *testing.T) {
	var calls []string
	a := DeliveryHooks{
		OnDeliveryStart: func(DeliveryContext) { calls = append(calls, "a.start") },
		OnDeliveryError: func(DeliveryContext, error) { calls = append(calls, "a.error") },
	}
	b := DeliveryHooks{
		OnDeliveryStart: func(DeliveryContext) { calls = append(calls, "b.start") },
		OnDeliveryDone:  func(DeliveryContext) { calls = append(calls, "b.done") },
		OnDeliveryError: func(DeliveryContext, error) { calls = append(calls, "b.error") },
	}

	merged := a.Merge(b)
	merged.start(DeliveryContext{})
	merged.finish(DeliveryContext{}, nil)
	merged.finish(DeliveryContext{}, errBoom)

	assert.Equal(t, []string{"a.start", "b.start", "b.done", "a.error", "b.error"}, calls)
}

func TestDeliveryHooksZeroValueIsSafe(t *testing.T) {
	var hooks DeliveryHooks
	hooks.start(DeliveryContext{})
	hooks.finish(DeliveryContext{}, nil)
	hooks.finish(DeliveryContext{}, errBoom)
}

func TestAlertingHooks(t *testing.T) {
	var alerted error
	hooks := AlertingHooks(func(_ DeliveryContext, err error) { alerted = err })
	hooks.finish(DeliveryContext{}, nil)
	assert.Nil(t, alerted)
	hooks.finish(DeliveryContext{}, errBoom)
	assert.ErrorIs(t, alerted, errBoom)
}

func TestLoggingHooks(t *testing.T) {
	logger := &captureLogger{}
	hooks := LoggingHooks(logger)

	dc := DeliveryContext{Route: "orders", DeliveryID: "d-1", Outcome: OutcomeConfirmed, Duration: time.Millisecond}
	hooks.start(dc)
	hooks.finish(dc, nil)
	hooks.finish(dc, &TranslationError{Route: "orders"})

	assert.Equal(t, []string{"Delivery started", "Delivery finished", "Delivery failed"}, logger.messages)
	assert.Equal(t, "validation", logger.fields[2]["category"])
	var te *TranslationError
	assert.True(t, errors.As(logger.errs[2], &te))
}

func TestMetricsHooks(t *testing.T) {
	metrics := NewDispatchMetrics(prometheus.NewRegistry())
	hooks := MetricsHooks(metrics)

	hooks.finish(DeliveryContext{Route: "orders", Outcome: OutcomeConfirmed}, nil)
	hooks.finish(DeliveryContext{Route: "orders", Outcome: OutcomeNotProcessed}, errBoom)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("orders", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("orders", "not_processed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errorsTotal.WithLabelValues("orders", "other")))
}

type captureLogger struct {
	messages []string
	fields   []loggingpkg.LogFields
	errs     []error
}

func (c *captureLogger) record(msg string, err error, fields loggingpkg.LogFields) {
	c.messages = append(c.messages, msg)
	c.fields = append(c.fields, fields)
	c.errs = append(c.errs, err)
}

func (c *captureLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return c }
func (c *captureLogger) Debug(msg string, f loggingpkg.LogFields)           { c.record(msg, nil, f) }
func (c *captureLogger) Info(msg string, f loggingpkg.LogFields)            { c.record(msg, nil, f) }
func (c *captureLogger) Trace(msg string, f loggingpkg.LogFields)           { c.record(msg, nil, f) }
func (c *captureLogger) Error(msg string, err error, f loggingpkg.LogFields) {
	c.record(msg, err, f)
}
