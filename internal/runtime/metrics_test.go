package runtime

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchMetricsRegisterIsIdempotent(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewDispatchMetrics(registry)

	require.NoError(t, metrics.Register())
	require.NoError(t, metrics.Register())

	// a second instance against the same registry collides but is tolerated
	require.NoError(t, NewDispatchMetrics(registry).Register())
}

func TestDispatchMetricsRecorders(t *testing.T) {
	metrics := NewDispatchMetrics(prometheus.NewRegistry())

	metrics.RecordFetched("orders", 3)
	metrics.RecordFetched("orders", 0)
	metrics.RecordDelivery("orders", OutcomeDeleted, 10*time.Millisecond)
	metrics.RecordDeliveryError("orders", ErrorCategoryValidation)
	metrics.RecordProviderError("orders", "confirm")
	metrics.SetQueueDepth(4)
	metrics.workerBusy(1)

	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.fetchedTotal.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.deliveriesTotal.WithLabelValues("orders", "deleted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errorsTotal.WithLabelValues("orders", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.providerErrors.WithLabelValues("orders", "confirm")))
	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.queueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.busyWorkers))
}

func TestNilDispatchMetricsIsNoop(t *testing.T) {
	var metrics *DispatchMetrics
	assert.NoError(t, metrics.Register())
	metrics.RecordFetched("orders", 1)
	metrics.RecordDelivery("orders", OutcomeConfirmed, time.Second)
	metrics.RecordDeliveryError("orders", ErrorCategoryOther)
	metrics.RecordProviderError("orders", "fetch")
	metrics.SetQueueDepth(1)
	metrics.workerBusy(1)
	assert.NotNil(t, metrics.Handler())
}
