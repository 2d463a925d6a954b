package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	applogger "SignalServe/pkg/logger"
)

// Worker is the command executor. Run blocks until Stop.
type Worker interface {
	Run(ctx context.Context) error
	Stop(ctx context.Context) error
}

// HTTPServer serves until stopped. Run returns nil after a graceful Stop.
type HTTPServer interface {
	Run() error
	Stop(ctx context.Context) error
}

// ConnTracker closes long-lived connections the HTTP server no longer owns.
type ConnTracker interface {
	Shutdown(ctx context.Context) error
}

// Closer releases one infrastructure resource on shutdown.
type Closer struct {
	Name  string
	Close func() error
}

// App encapsulates the entire application lifecycle.
type App struct {
	worker          Worker
	http            HTTPServer
	conns           ConnTracker
	closers         []Closer
	shutdownTimeout time.Duration
	l               *applogger.Logger
}

// New creates a new App. Closers run in order after the worker stops.
func New(worker Worker, http HTTPServer, conns ConnTracker, shutdownTimeout time.Duration, l *applogger.Logger, closers ...Closer) *App {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &App{
		worker:          worker,
		http:            http,
		conns:           conns,
		closers:         closers,
		shutdownTimeout: shutdownTimeout,
		l:               l,
	}
}

// Run starts the worker and the HTTP server and blocks until SIGINT/SIGTERM,
// ctx cancellation or a server failure.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// The worker outlives gctx so queued commands drain before it stops.
	g.Go(func() error {
		return a.worker.Run(context.Background())
	})
	g.Go(a.http.Run)
	g.Go(func() error {
		<-gctx.Done()
		a.l.Info("shutdown signal received")
		return a.shutdown()
	})

	if err := g.Wait(); err != nil {
		a.l.Error("app stopped with error", applogger.Error(err))
		return err
	}
	a.l.Info("shutdown complete")
	return nil
}

// shutdown stops intake first, then execution, then infrastructure.
func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if a.conns != nil {
		if err := a.conns.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("connections: %w", err))
		}
	}
	if err := a.worker.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker: %w", err))
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.l.Warn("close error", applogger.String("resource", c.Name), applogger.Error(err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
