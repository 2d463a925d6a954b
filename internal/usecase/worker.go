package usecase

import (
	"context"
	"errors"
	"sync"

	"SignalServe/internal/domain/models"
	applogger "SignalServe/pkg/logger"
)

// ErrWorkerStopped is returned to submitters once the worker has shut down.
var ErrWorkerStopped = errors.New("worker stopped")

type job struct {
	ctx  context.Context
	fn   func(d *Dispatcher)
	done chan struct{}
}

// Worker serializes every command onto one goroutine that owns the Dispatcher.
type Worker struct {
	d    *Dispatcher
	jobs chan job
	l    *applogger.Logger

	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewWorker(d *Dispatcher, queueSize int, l *applogger.Logger) *Worker {
	if queueSize < 0 {
		queueSize = 0
	}
	return &Worker{
		d:       d,
		jobs:    make(chan job, queueSize),
		l:       l,
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run processes jobs until ctx is done or Stop is called, then releases the
// dispatcher's models. It must be called exactly once.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stopped)
	defer func() {
		if err := w.d.Close(); err != nil {
			w.l.Warn("worker: release models", applogger.Error(err))
		}
	}()

	w.l.Info("worker started", applogger.Int("queue_size", cap(w.jobs)))
	for {
		select {
		case <-ctx.Done():
			w.l.Info("worker stopped", applogger.String("reason", ctx.Err().Error()))
			return nil
		case <-w.quit:
			w.l.Info("worker stopped", applogger.String("reason", "stop requested"))
			return nil
		case j := <-w.jobs:
			// Submitter already gave up; skip the work.
			if j.ctx.Err() != nil {
				close(j.done)
				continue
			}
			j.fn(w.d)
			close(j.done)
		}
	}
}

// Stop asks Run to return and waits for it, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.quit) })
	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) do(ctx context.Context, fn func(d *Dispatcher)) error {
	j := job{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrWorkerStopped
	case <-w.stopped:
		return ErrWorkerStopped
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		// Run may have finished this job just before exiting.
		select {
		case <-j.done:
			return nil
		default:
			return ErrWorkerStopped
		}
	}
}

// Submit runs one command and returns its response line.
func (w *Worker) Submit(ctx context.Context, command, payload string) (string, error) {
	var resp string
	if err := w.do(ctx, func(d *Dispatcher) { resp = d.Dispatch(ctx, command, payload) }); err != nil {
		return "", err
	}
	return resp, nil
}

// Snapshot returns the current slot and session state.
func (w *Worker) Snapshot(ctx context.Context) (models.ServerState, error) {
	var st models.ServerState
	if err := w.do(ctx, func(d *Dispatcher) { st = d.Snapshot() }); err != nil {
		return models.ServerState{}, err
	}
	return st, nil
}
