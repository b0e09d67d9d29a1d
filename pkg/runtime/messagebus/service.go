// Package messagebus adapts a message bus into a runner.Service so its
// consumption lifecycle is managed alongside the rest of a service process.
package messagebus

import (
	"context"
	"fmt"
	"log/slog"
)

// ConsumingBus is the lifecycle surface the adapter needs. *rabbitmq.Bus
// satisfies it.
type ConsumingBus interface {
	StartConsuming(ctx context.Context) error
	StopConsuming() error
	Close() error
	IsConnected() bool
}

// Service wraps a bus as a runner.Service: Start begins consumption, Stop
// tears the bus down, and health reflects the broker connection.
type Service struct {
	bus    ConsumingBus
	logger *slog.Logger
	name   string
}

// Option configures the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithName overrides the service name shown in runner logs. Default
// "messagebus".
func WithName(name string) Option {
	return func(s *Service) {
		s.name = name
	}
}

// New creates the adapter. Handlers must already be subscribed on the bus;
// Start only begins consumption.
func New(bus ConsumingBus, opts ...Option) *Service {
	s := &Service{
		bus:    bus,
		logger: slog.Default(),
		name:   "messagebus",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements runner.Service.
func (s *Service) Name() string { return s.name }

// Start begins consuming on the wrapped bus.
func (s *Service) Start(ctx context.Context) error {
	if err := s.bus.StartConsuming(ctx); err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	s.logger.Info("message bus consuming", slog.String("service", s.name))
	return nil
}

// Stop halts consumption and closes the bus.
func (s *Service) Stop(ctx context.Context) error {
	if err := s.bus.StopConsuming(); err != nil {
		s.logger.Error("stop consuming", slog.String("error", err.Error()))
	}
	return s.bus.Close()
}

// HealthCheck reports broker connection liveness.
func (s *Service) HealthCheck(ctx context.Context) error {
	if !s.bus.IsConnected() {
		return fmt.Errorf("broker connection is down")
	}
	return nil
}
