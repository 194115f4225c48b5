package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	idspkg "github.com/drblury/workerflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

const (
	defaultMinWorkers     = 5
	defaultQueuePerRoute  = 10
	tracerName            = "github.com/drblury/workerflow"
	processMessageSpan    = "workerflow.process_message"
	routeAttributeKey     = "workerflow.route"
	confirmedAttributeKey = "workerflow.confirmed"
)

// DispatcherConfig configures a Dispatcher. Zero QueueSize means 10 per
// route, zero Workers means max(routes, 5).
type DispatcherConfig struct {
	Routes    []*Route
	QueueSize int
	Workers   int
	Logger    loggingpkg.ServiceLogger
	// Metrics, when set, also records every delivery through MetricsHooks.
	Metrics *DispatchMetrics
	Hooks   DeliveryHooks
	Tracer  trace.Tracer
}

// Dispatcher runs one fetch loop per route and a fixed pool of workers that
// drain a shared bounded queue.
type Dispatcher struct {
	routes    []*Route
	queueSize int
	workers   int
	logger    loggingpkg.ServiceLogger
	metrics   *DispatchMetrics
	hooks     DeliveryHooks
	tracer    trace.Tracer

	stopOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if len(cfg.Routes) == 0 {
		return nil, errspkg.ErrRoutesRequired
	}
	for i, r := range cfg.Routes {
		if r == nil {
			return nil, fmt.Errorf("workerflow: route at index %d is nil", i)
		}
	}

	d := &Dispatcher{
		routes:    append([]*Route(nil), cfg.Routes...),
		queueSize: cfg.QueueSize,
		workers:   cfg.Workers,
		logger:    loggingpkg.OrDiscard(cfg.Logger),
		metrics:   cfg.Metrics,
		hooks:     cfg.Hooks,
		tracer:    cfg.Tracer,
	}
	if d.queueSize <= 0 {
		d.queueSize = defaultQueuePerRoute * len(d.routes)
	}
	if d.workers <= 0 {
		d.workers = max(len(d.routes), defaultMinWorkers)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(tracerName)
	}
	if d.metrics != nil {
		d.hooks = d.hooks.Merge(MetricsHooks(d.metrics))
	}
	return d, nil
}

func (d *Dispatcher) Routes() []*Route { return append([]*Route(nil), d.routes...) }

func (d *Dispatcher) QueueSize() int { return d.queueSize }

func (d *Dispatcher) Workers() int { return d.workers }

// DispatchProviders runs the fetch loops and workers until ctx is cancelled
// or a provider fails. With forever=false every route is fetched once and the
// call returns after all fetched messages were confirmed or released.
//
// The first fetch failure is returned as *ProviderError and stops the other
// fetchers and idle workers. Deliveries already in progress finish with their
// own outcome because they run on ctx rather than on the group context.
func (d *Dispatcher) DispatchProviders(ctx context.Context, forever bool) error {
	queue := newProcessingQueue(d.queueSize)
	g, gctx := errgroup.WithContext(ctx)
	workerCtx, stopWorkers := context.WithCancel(gctx)
	defer stopWorkers()

	d.logger.Info("Dispatching providers", loggingpkg.LogFields{
		"routes":     len(d.routes),
		"workers":    d.workers,
		"queue_size": d.queueSize,
		"forever":    forever,
	})

	var fetchers sync.WaitGroup
	for _, route := range d.routes {
		fetchers.Add(1)
		g.Go(func() error {
			defer fetchers.Done()
			return d.fetchLoop(gctx, queue, route, forever)
		})
	}

	for i := range d.workers {
		g.Go(func() error {
			return d.workerLoop(ctx, workerCtx, queue, i)
		})
	}

	if !forever {
		g.Go(func() error {
			fetchers.Wait()
			if err := queue.join(gctx); err != nil {
				return err
			}
			stopWorkers()
			return nil
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() == nil && !IsCancellation(err) {
		d.logger.Error("Dispatch stopped", err, nil)
	}
	return err
}

func (d *Dispatcher) fetchLoop(ctx context.Context, queue *processingQueue, route *Route, forever bool) error {
	logger := d.logger.With(loggingpkg.LogFields{"route": route.name})
	for {
		msgs, err := route.provider.FetchMessages(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.metrics.RecordProviderError(route.name, "fetch")
			return &ProviderError{Route: route.name, Err: err}
		}
		d.metrics.RecordFetched(route.name, len(msgs))
		if len(msgs) > 0 {
			logger.Debug("Fetched messages", loggingpkg.LogFields{"count": len(msgs)})
		}

		for _, msg := range msgs {
			if err := queue.put(ctx, queueEntry{msg: msg, route: route}); err != nil {
				return err
			}
			d.metrics.SetQueueDepth(queue.Len())
		}

		if !forever {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// workerLoop takes entries from queue until pickCtx is done. Deliveries run
// on deliverCtx so a sibling failure does not abort them.
func (d *Dispatcher) workerLoop(deliverCtx, pickCtx context.Context, queue *processingQueue, id int) error {
	for {
		entry, err := queue.get(pickCtx)
		if err != nil {
			d.logger.Trace("Worker exiting", loggingpkg.LogFields{"worker": id})
			return nil
		}
		d.metrics.SetQueueDepth(queue.Len())
		d.metrics.workerBusy(1)

		_, err = d.ProcessMessage(deliverCtx, entry.msg, entry.route)

		d.metrics.workerBusy(-1)
		queue.taskDone()
		if err != nil {
			return err
		}
	}
}

// ProcessMessage dispatches msg and then either confirms it or reports it as
// not processed, exactly once. A cancelled delivery does neither and the
// cancellation is returned. Provider acknowledgement failures are logged; the
// provider redelivers the message in that case.
func (d *Dispatcher) ProcessMessage(ctx context.Context, msg Message, route *Route) (bool, error) {
	ctx, span := d.tracer.Start(ctx, processMessageSpan,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String(routeAttributeKey, route.name)),
	)
	defer span.End()

	confirmed, err := d.DispatchMessage(ctx, msg, route)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delivery cancelled")
		return false, err
	}
	span.SetAttributes(attribute.Bool(confirmedAttributeKey, confirmed))

	logger := d.logger.With(loggingpkg.LogFields{"route": route.name})
	if confirmed {
		if perr := route.provider.ConfirmMessage(ctx, msg); perr != nil {
			d.metrics.RecordProviderError(route.name, "confirm")
			logger.Error("Failed to confirm message", perr, loggingpkg.LogFields{"message": msg})
		}
		return true, nil
	}

	if perr := route.provider.MessageNotProcessed(ctx, msg); perr != nil {
		d.metrics.RecordProviderError(route.name, "not_processed")
		logger.Error("Failed to release message", perr, loggingpkg.LogFields{"message": msg})
	}
	return false, nil
}

// DispatchMessage runs the route's delivery pipeline and classifies the
// result:
//
//   - empty messages are ignored and never delivered (false)
//   - ErrDeleteMessage anywhere in the error chain confirms the message (true)
//   - cancellation of ctx is returned as an error and decides nothing; a
//     context.Canceled from a context the handler derived itself while ctx
//     is live is a processing error
//   - any other error goes to the route's error handler, whose answer wins
//   - otherwise the handler's answer is returned
func (d *Dispatcher) DispatchMessage(ctx context.Context, msg Message, route *Route) (bool, error) {
	logger := d.logger.With(loggingpkg.LogFields{"route": route.name})
	if IsEmpty(msg) {
		logger.Info("Message will be ignored", loggingpkg.LogFields{"message": msg})
		d.metrics.RecordDelivery(route.name, OutcomeIgnored, 0)
		return false, nil
	}

	dc := DeliveryContext{
		Route:      route.name,
		DeliveryID: idspkg.New(),
		Context:    ctx,
		StartedAt:  time.Now(),
	}
	logger = logger.With(loggingpkg.LogFields{"delivery_id": dc.DeliveryID})
	d.hooks.start(dc)

	confirmed, err := route.Deliver(ctx, msg)
	dc.Duration = time.Since(dc.StartedAt)

	switch {
	case err == nil:
		dc.Outcome = outcomeOf(confirmed)
		d.hooks.finish(dc, nil)
		return confirmed, nil

	case IsDeleteMessage(err):
		logger.Info("Message will be deleted", loggingpkg.LogFields{"message": msg, "reason": err.Error()})
		dc.Outcome = OutcomeDeleted
		d.hooks.finish(dc, nil)
		return true, nil

	case ctx.Err() != nil:
		logger.Info("Delivery cancelled, message left for redelivery", loggingpkg.LogFields{"message": msg})
		dc.Outcome = OutcomeCancelled
		d.hooks.finish(dc, nil)
		if !IsCancellation(err) {
			err = ctx.Err()
		}
		return false, err
	}

	logger.Error("Unhandled error while delivering message", err, loggingpkg.LogFields{
		"message":  msg,
		"category": string(Categorize(err)),
	})
	ack := route.HandleError(ctx, NewErrorContext(err), msg)
	dc.Outcome = outcomeOf(ack)
	d.hooks.finish(dc, err)
	return ack, nil
}

func outcomeOf(confirmed bool) Outcome {
	if confirmed {
		return OutcomeConfirmed
	}
	return OutcomeNotProcessed
}

// Stop stops every route. It does not cancel running deliveries.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.logger.Info("Stopping dispatcher", loggingpkg.LogFields{"routes": len(d.routes)})
		for _, route := range d.routes {
			route.Stop()
		}
	})
}
