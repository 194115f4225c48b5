package runtime

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome is how a delivery ended.
type Outcome string

const (
	OutcomeConfirmed    Outcome = "confirmed"
	OutcomeNotProcessed Outcome = "not_processed"
	OutcomeDeleted      Outcome = "deleted"
	OutcomeIgnored      Outcome = "ignored"
	OutcomeCancelled    Outcome = "cancelled"
)

const metricsNamespace = "workerflow"

// DispatchMetrics holds the Prometheus collectors of a dispatcher. A nil
// *DispatchMetrics is valid and records nothing.
type DispatchMetrics struct {
	mu sync.Mutex

	fetchedTotal    *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	providerErrors  *prometheus.CounterVec
	duration        *prometheus.HistogramVec
	queueDepth      prometheus.Gauge
	busyWorkers     prometheus.Gauge

	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	registered bool
}

func newCounterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "dispatch",
		Name:      name,
		Help:      help,
	}, labels)
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "dispatch",
		Name:      name,
		Help:      help,
	})
}

// NewDispatchMetrics builds the collectors. A nil registry means the
// Prometheus default registry.
func NewDispatchMetrics(registry *prometheus.Registry) *DispatchMetrics {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if registry != nil {
		registerer, gatherer = registry, registry
	}

	return &DispatchMetrics{
		registerer:      registerer,
		gatherer:        gatherer,
		fetchedTotal:    newCounterVec("messages_fetched_total", "Messages returned by provider fetches", "route"),
		deliveriesTotal: newCounterVec("deliveries_total", "Deliveries by outcome", "route", "outcome"),
		errorsTotal:     newCounterVec("delivery_errors_total", "Processing errors by category", "route", "category"),
		providerErrors:  newCounterVec("provider_errors_total", "Failed provider calls", "route", "operation"),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "dispatch",
			Name:      "delivery_duration_seconds",
			Help:      "Time spent in translation, handling and error handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		queueDepth:  newGauge("queue_depth", "Entries waiting in the processing queue"),
		busyWorkers: newGauge("busy_workers", "Workers currently processing a message"),
	}
}

// Register registers the collectors. Repeated calls and collectors already
// registered elsewhere are not errors.
func (m *DispatchMetrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.fetchedTotal,
		m.deliveriesTotal,
		m.errorsTotal,
		m.providerErrors,
		m.duration,
		m.queueDepth,
		m.busyWorkers,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// Handler serves the registry the metrics were built with.
func (m *DispatchMetrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *DispatchMetrics) RecordFetched(route string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.fetchedTotal.WithLabelValues(route).Add(float64(n))
}

func (m *DispatchMetrics) RecordDelivery(route string, outcome Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(route, string(outcome)).Inc()
	m.duration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *DispatchMetrics) RecordDeliveryError(route string, category ErrorCategory) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(route, string(category)).Inc()
}

// RecordProviderError counts a failed fetch, confirm or not_processed call.
func (m *DispatchMetrics) RecordProviderError(route, operation string) {
	if m == nil {
		return
	}
	m.providerErrors.WithLabelValues(route, operation).Inc()
}

func (m *DispatchMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *DispatchMetrics) workerBusy(delta float64) {
	if m == nil {
		return
	}
	m.busyWorkers.Add(delta)
}
