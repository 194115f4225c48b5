package runtime

import (
	"context"
	"os"
	"os/signal"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	errspkg "github.com/drblury/workerflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/workerflow/internal/runtime/logging"
)

// RunnerConfig configures a Runner. ShutdownTimeout bounds how long Stop
// waits for cancelled tasks; zero waits until they return.
type RunnerConfig struct {
	OnStop          func()
	Logger          loggingpkg.ServiceLogger
	ShutdownTimeout time.Duration
}

// Runner owns the root context of the process. Tasks started with Go share
// it; Stop cancels it and waits for them.
type Runner struct {
	logger          loggingpkg.ServiceLogger
	shutdownTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	onStop  []func()
	tasks   map[*Task]struct{}
	closed  bool
	debug   atomic.Bool
	stopReq chan struct{}

	prepareOnce sync.Once
	stopOnce    sync.Once
}

func NewRunner(cfg RunnerConfig) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		logger:          loggingpkg.OrDiscard(cfg.Logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		ctx:             ctx,
		cancel:          cancel,
		tasks:           make(map[*Task]struct{}),
		stopReq:         make(chan struct{}),
	}
	if cfg.OnStop != nil {
		r.onStop = append(r.onStop, cfg.OnStop)
	}
	return r
}

// AddOnStop registers fn to run at the start of Stop, after callbacks
// registered earlier.
func (r *Runner) AddOnStop(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onStop = append(r.onStop, fn)
}

// Context is the root context shared by all tasks.
func (r *Runner) Context() context.Context { return r.ctx }

// StopRequested is closed once PrepareStop has been called.
func (r *Runner) StopRequested() <-chan struct{} { return r.stopReq }

// Go starts fn on its own goroutine with a child of the root context. After
// Stop it returns a task that already failed with ErrRunnerClosed.
func (r *Runner) Go(name string, fn func(ctx context.Context) error) *Task {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		t := newTask(name, r.ctx)
		t.finish(errspkg.ErrRunnerClosed)
		return t
	}
	t := newTask(name, r.ctx)
	r.tasks[t] = struct{}{}
	r.mu.Unlock()

	if r.debug.Load() {
		r.logger.Debug("Task started", loggingpkg.LogFields{"task": name, "goroutines": goruntime.NumGoroutine()})
	}

	go func() {
		started := time.Now()
		var err error
		defer func() {
			if rec := recover(); rec != nil {
				err = newPanicError(rec)
			}
			t.finish(err)

			r.mu.Lock()
			delete(r.tasks, t)
			r.mu.Unlock()

			if r.debug.Load() {
				r.logger.Debug("Task finished", loggingpkg.LogFields{
					"task":        name,
					"duration_ms": time.Since(started).Milliseconds(),
					"cancelled":   t.Cancelled(),
					"goroutines":  goruntime.NumGoroutine(),
				})
			}
		}()
		err = fn(t.ctx)
	}()
	return t
}

// Start blocks until PrepareStop is called, SIGINT or SIGTERM arrives, or ctx
// is done, and then always runs Stop. With debug set it logs the lifecycle
// of every task.
func (r *Runner) Start(ctx context.Context, debug bool) {
	r.debug.Store(debug)
	defer r.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	r.logger.Info("Runner started", loggingpkg.LogFields{"debug": debug})
	if debug {
		r.logger.Debug("Runner state", loggingpkg.LogFields{
			"tasks":      r.taskCount(),
			"goroutines": goruntime.NumGoroutine(),
		})
	}

	for {
		select {
		case sig := <-signals:
			r.logger.Info("Received signal, stopping", loggingpkg.LogFields{"signal": sig.String()})
			r.PrepareStop()
		case <-ctx.Done():
			r.PrepareStop()
			return
		case <-r.stopReq:
			return
		}
	}
}

// PrepareStop asks Start to return. It is idempotent and does not block.
func (r *Runner) PrepareStop() {
	r.prepareOnce.Do(func() { close(r.stopReq) })
}

// Stop runs the OnStop callbacks, cancels every task and waits for them.
// Task errors other than cancellation are logged, never returned.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.PrepareStop()
		r.logger.Info("Stopping runner", nil)

		r.mu.Lock()
		callbacks := append([]func(){}, r.onStop...)
		r.mu.Unlock()
		for _, fn := range callbacks {
			r.runCallback(fn)
		}

		r.mu.Lock()
		r.closed = true
		tasks := make([]*Task, 0, len(r.tasks))
		for t := range r.tasks {
			tasks = append(tasks, t)
		}
		r.mu.Unlock()

		r.cancel()
		r.waitTasks(tasks)
		r.logger.Info("Runner stopped", nil)
	})
}

func (r *Runner) runCallback(fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Stop callback panicked", newPanicError(rec), nil)
		}
	}()
	fn()
}

func (r *Runner) waitTasks(tasks []*Task) {
	var deadline <-chan time.Time
	if r.shutdownTimeout > 0 {
		timer := time.NewTimer(r.shutdownTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-deadline:
			r.logger.Error("Task did not stop in time", context.DeadlineExceeded, loggingpkg.LogFields{"task": t.Name()})
			continue
		}
		if err := t.Err(); err != nil && !IsCancellation(err) {
			r.logger.Error("Task failed during shutdown", err, loggingpkg.LogFields{"task": t.Name()})
		}
	}
}

func (r *Runner) taskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Task is a unit of work started by Runner.Go.
type Task struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

func newTask(name string, parent context.Context) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{name: name, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (t *Task) finish(err error) {
	t.err = err
	t.cancel()
	close(t.done)
}

func (t *Task) Name() string { return t.name }

// Cancel cancels the task's context. The task decides when to return.
func (t *Task) Cancel() { t.cancel() }

// Done is closed when the task has returned.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the task's result once Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Cancelled reports whether the task ended because of cancellation.
func (t *Task) Cancelled() bool {
	return IsCancellation(t.Err())
}

// Wait blocks until the task returns or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
