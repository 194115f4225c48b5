package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

const (
	dispatchTaskName = "dispatch-providers"
	metricsTaskName  = "metrics-server"
	metricsPath      = "/metrics"
)

// ManagerConfig wires routes, a dispatcher and a runner together. A nil
// Runner gets a default one.
type ManagerConfig struct {
	Routes    []*Route
	Runner    *Runner
	QueueSize int
	Workers   int
	Logger    loggingpkg.ServiceLogger
	Metrics   *DispatchMetrics
	Hooks     DeliveryHooks
	Tracer    trace.Tracer
	// MetricsPort, when positive and Metrics is set, exposes /metrics.
	MetricsPort int
}

// Manager runs a Dispatcher as the Runner's top-level task. An error from
// the dispatcher is fatal: it stops the runner and is returned from Run.
type Manager struct {
	dispatcher  *Dispatcher
	runner      *Runner
	logger      loggingpkg.ServiceLogger
	metrics     *DispatchMetrics
	metricsPort int

	mu      sync.Mutex
	task    *Task
	fatal   error
	stopped bool
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	logger := loggingpkg.OrDiscard(cfg.Logger)
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Routes:    cfg.Routes,
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		Logger:    logger,
		Metrics:   cfg.Metrics,
		Hooks:     cfg.Hooks,
		Tracer:    cfg.Tracer,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dispatcher:  dispatcher,
		runner:      cfg.Runner,
		logger:      logger,
		metrics:     cfg.Metrics,
		metricsPort: cfg.MetricsPort,
	}
	if m.runner == nil {
		m.runner = NewRunner(RunnerConfig{Logger: logger})
	}
	m.runner.AddOnStop(m.onLoopStop)
	return m, nil
}

func (m *Manager) Dispatcher() *Dispatcher { return m.dispatcher }

func (m *Manager) Runner() *Runner { return m.runner }

// Run starts the dispatcher and blocks until the runner stops: after a
// bounded run completes, on signal, when ctx is done or on a fatal dispatch
// error, which is returned.
func (m *Manager) Run(ctx context.Context, forever, debug bool) error {
	if m.metrics != nil {
		if err := m.metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		if m.metricsPort > 0 {
			addr := fmt.Sprintf(":%d", m.metricsPort)
			m.runner.Go(metricsTaskName, func(ctx context.Context) error {
				return ServeMetrics(ctx, addr, m.metrics.Handler(), m.logger)
			})
		}
	}

	task := m.runner.Go(dispatchTaskName, func(ctx context.Context) error {
		err := m.dispatcher.DispatchProviders(ctx, forever)
		m.onDispatchDone(err)
		return err
	})
	m.mu.Lock()
	m.task = task
	m.mu.Unlock()

	m.runner.Start(ctx, debug)

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fatal
}

func (m *Manager) onDispatchDone(err error) {
	switch {
	case err == nil:
		m.logger.Info("Dispatch finished", nil)
	case IsCancellation(err):
		m.logger.Debug("Dispatch cancelled", nil)
	default:
		m.logger.Error("Fatal error in dispatch engine, stopping", err, nil)
		m.mu.Lock()
		if !m.stopped {
			m.fatal = err
		}
		m.mu.Unlock()
	}
	m.runner.PrepareStop()
}

func (m *Manager) onLoopStop() {
	m.mu.Lock()
	m.stopped = true
	task := m.task
	m.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	m.dispatcher.Stop()
}

// ServeMetrics serves handler on addr under /metrics until ctx is done.
func ServeMetrics(ctx context.Context, addr string, handler http.Handler, logger loggingpkg.ServiceLogger) error {
	logger = loggingpkg.OrDiscard(logger)
	mux := http.NewServeMux()
	mux.Handle(metricsPath, handler)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr, "path": metricsPath})
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
