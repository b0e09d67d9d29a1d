// Package runner manages the lifecycle of long-running services: ordered
// startup, reverse-order graceful shutdown, and signal handling.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Service is a long-running component with an explicit lifecycle.
type Service interface {
	// Name identifies the service in logs.
	Name() string

	// Start brings the service up. It must return once the service is
	// running (or failed), not block for its lifetime.
	Start(ctx context.Context) error

	// Stop shuts the service down gracefully within the context deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is optionally implemented by services that can report
// liveness.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Runner starts services in registration order and stops them in reverse
// order on shutdown.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	startupTimeout  time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStartupTimeout bounds each service's Start call. Default 1 minute.
func WithStartupTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.startupTimeout = d
	}
}

// WithShutdownTimeout bounds the whole graceful shutdown. Default 30s.
func WithShutdownTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = d
	}
}

// New creates a Runner over the given services.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		startupTimeout:  time.Minute,
		shutdownTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts every service, then blocks until the context is cancelled or a
// shutdown signal arrives, and finally stops the started services in
// reverse order. A failed Start stops the already-started services before
// returning.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		WaitForShutdownSignal(ctx)
		cancel()
	}()

	var started []Service
	for _, svc := range r.services {
		r.logger.Info("starting service", slog.String("service", svc.Name()))

		startCtx, startCancel := context.WithTimeout(ctx, r.startupTimeout)
		err := svc.Start(startCtx)
		startCancel()

		if err != nil {
			r.logger.Error("service failed to start",
				slog.String("service", svc.Name()),
				slog.String("error", err.Error()))
			r.stop(started)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}

	r.logger.Info("all services started", slog.Int("count", len(started)))
	<-ctx.Done()

	r.logger.Info("shutting down", slog.Duration("timeout", r.shutdownTimeout))
	return r.stop(started)
}

// stop shuts down services concurrently in reverse registration order.
func (r *Runner) stop(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for i := len(services) - 1; i >= 0; i-- {
		svc := services[i]
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := svc.Stop(ctx); err != nil {
				r.logger.Error("service stop failed",
					slog.String("service", svc.Name()),
					slog.String("error", err.Error()))
				mu.Lock()
				errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
				mu.Unlock()
				return
			}
			r.logger.Info("service stopped", slog.String("service", svc.Name()))
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return errors.Join(errs...)
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout exceeded after %s", r.shutdownTimeout)
	}
}

// HealthCheck polls every service that implements HealthChecker.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, svc := range r.services {
		hc, ok := svc.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("service %s unhealthy: %w", svc.Name(), err)
		}
	}
	return nil
}
