package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcommerce/messagebus/pkg/messaging"
)

// Relay drains staged messages through the bus in staging order. One
// process runs one relay; a failed publish leaves the row staged for the
// next sweep, so delivery is at-least-once end to end.
type Relay struct {
	store  *Store
	bus    messaging.Bus
	logger *slog.Logger

	interval  time.Duration
	batchSize int

	stop chan struct{}
	done chan struct{}
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithInterval sets the sweep interval. Default 1s.
func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		r.interval = d
	}
}

// WithBatchSize sets the maximum rows per sweep. Default 100.
func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		r.batchSize = n
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		r.logger = logger
	}
}

// NewRelay creates a relay over store publishing through bus.
func NewRelay(store *Store, bus messaging.Bus, opts ...RelayOption) *Relay {
	r := &Relay{
		store:     store,
		bus:       bus,
		logger:    slog.Default(),
		interval:  time.Second,
		batchSize: 100,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name implements runner.Service.
func (r *Relay) Name() string { return "outbox-relay" }

// Start launches the sweep loop.
func (r *Relay) Start(ctx context.Context) error {
	r.stop = make(chan struct{})
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if err := r.Sweep(context.Background()); err != nil {
					r.logger.Error("outbox sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	return nil
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (r *Relay) Stop(ctx context.Context) error {
	if r.stop == nil {
		return nil
	}
	close(r.stop)

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("outbox relay did not stop in time: %w", ctx.Err())
	}
}

// Sweep publishes one batch of staged messages. Rows that fail to publish
// stay staged; rows already handed to the broker are marked published even
// if the marking itself has to be retried (duplicates are acceptable under
// at-least-once delivery).
func (r *Relay) Sweep(ctx context.Context) error {
	entries, err := r.store.Unpublished(ctx, r.batchSize)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		var pubErr error
		switch entry.Kind {
		case messaging.KindEvent:
			pubErr = r.bus.PublishEvent(ctx, entry.Event())
		case messaging.KindCommand:
			pubErr = r.bus.SendCommand(ctx, entry.Command())
		default:
			pubErr = fmt.Errorf("unknown outbox kind %q", entry.Kind)
		}

		if pubErr != nil {
			r.logger.Warn("outbox publish failed, will retry",
				slog.String("type", entry.MessageType),
				slog.String("message_id", entry.MessageID),
				slog.String("error", pubErr.Error()))
			// Stop the sweep here to preserve staging order for the rest
			// of the batch.
			return pubErr
		}

		if err := r.store.MarkPublished(ctx, entry.ID); err != nil {
			return err
		}
	}

	return nil
}
