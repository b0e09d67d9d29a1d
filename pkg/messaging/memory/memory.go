// Package memory provides an in-process messaging.Bus for local development
// and handler tests. Dispatch is synchronous: PublishEvent and SendCommand
// run the registered handler before returning, with the same
// ack/retry/drop semantics the broker-backed bus applies.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/bcommerce/messagebus/pkg/messaging"
)

// DefaultMaxDeliveryAttempts bounds synchronous redelivery. Unbounded retry
// would spin the caller forever on a permanently failing handler, so the
// in-memory bus always has a ceiling.
const DefaultMaxDeliveryAttempts = 5

// Bus is the in-memory messaging.Bus.
type Bus struct {
	events   *messaging.Registry
	commands *messaging.Registry

	logger      *slog.Logger
	maxAttempts int

	mu        sync.Mutex
	consuming bool
	closed    bool
}

var _ messaging.Bus = (*Bus)(nil)

// Option configures the in-memory bus.
type Option func(*Bus)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMaxDeliveryAttempts overrides the redelivery ceiling.
func WithMaxDeliveryAttempts(n int) Option {
	return func(b *Bus) {
		b.maxAttempts = n
	}
}

// New creates an in-memory bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		events:      messaging.NewRegistry(),
		commands:    messaging.NewRegistry(),
		logger:      slog.Default(),
		maxAttempts: DefaultMaxDeliveryAttempts,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.maxAttempts < 1 {
		b.maxAttempts = DefaultMaxDeliveryAttempts
	}
	return b
}

// PublishEvent dispatches the event to its registered handler, if any.
// As with a broker, an event nobody subscribed to is silently dropped.
func (b *Bus) PublishEvent(ctx context.Context, event *messaging.Event) error {
	if event == nil || event.Type == "" {
		return messaging.ErrMissingType
	}

	env, err := eventEnvelope(event)
	if err != nil {
		return err
	}
	return b.deliver(ctx, b.events, env)
}

// SendCommand dispatches the command to its registered handler. The target
// service is recorded in the headers but, in-process, there is only one
// "service" to route to.
func (b *Bus) SendCommand(ctx context.Context, cmd *messaging.Command) error {
	if cmd == nil || cmd.Type == "" {
		return messaging.ErrMissingType
	}
	if cmd.TargetService == "" {
		return messaging.ErrMissingTarget
	}

	env, err := commandEnvelope(cmd)
	if err != nil {
		return err
	}
	return b.deliver(ctx, b.commands, env)
}

// deliver runs the dispatch loop for one message, redelivering on Retry up
// to the attempt ceiling. Drop is not an error for the producer, mirroring
// broker behavior.
func (b *Bus) deliver(ctx context.Context, reg *messaging.Registry, env *messaging.Envelope) error {
	b.mu.Lock()
	consuming := b.consuming
	closed := b.closed
	b.mu.Unlock()

	if closed {
		return messaging.ErrBusClosed
	}
	if !consuming {
		// No consumer attached yet; the message evaporates, as it would on
		// a broker with no bindings.
		return nil
	}

	for attempt := 1; ; attempt++ {
		env.DeliveryAttempt = attempt

		outcome := messaging.Dispatch(ctx, reg, env, messaging.WithMaxAttempts(b.maxAttempts))
		switch outcome.Status {
		case messaging.StatusAck:
			return nil
		case messaging.StatusDrop:
			b.logger.Warn("message dropped",
				slog.String("type", env.MessageType),
				slog.String("reason", outcome.Reason))
			return nil
		case messaging.StatusRetry:
			b.logger.Warn("handler failed, redelivering",
				slog.String("type", env.MessageType),
				slog.Int("attempt", attempt),
				slog.String("error", outcome.Err.Error()))
		}
	}
}

// SubscribeEvent registers handler for an event type.
func (b *Bus) SubscribeEvent(messageType string, handler messaging.Handler) error {
	return b.subscribe(b.events, messageType, handler)
}

// SubscribeCommand registers handler for a command type.
func (b *Bus) SubscribeCommand(messageType string, handler messaging.Handler) error {
	return b.subscribe(b.commands, messageType, handler)
}

func (b *Bus) subscribe(reg *messaging.Registry, messageType string, handler messaging.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return messaging.ErrBusClosed
	}
	if b.consuming {
		return fmt.Errorf("%w: %s", messaging.ErrAlreadyConsuming, messageType)
	}
	return reg.Register(messageType, handler)
}

// StartConsuming enables synchronous dispatch.
func (b *Bus) StartConsuming(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return messaging.ErrBusClosed
	}
	b.consuming = true
	return nil
}

// StopConsuming disables dispatch. Idempotent.
func (b *Bus) StopConsuming() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consuming = false
	return nil
}

// Close stops dispatch permanently.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consuming = false
	b.closed = true
	return nil
}

func eventEnvelope(event *messaging.Event) (*messaging.Envelope, error) {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("serialize %s payload: %w", event.Type, err)
	}

	return &messaging.Envelope{
		MessageID:     event.ID,
		MessageType:   event.Type,
		Kind:          messaging.KindEvent,
		Timestamp:     event.Timestamp,
		SchemaVersion: event.SchemaVersion,
		Headers: map[string]string{
			messaging.HeaderSource:           event.Source,
			messaging.HeaderVersion:          event.SchemaVersion,
			messaging.HeaderAggregateID:      event.AggregateID,
			messaging.HeaderAggregateVersion: strconv.FormatInt(event.AggregateVersion, 10),
		},
		Body: body,
	}, nil
}

func commandEnvelope(cmd *messaging.Command) (*messaging.Envelope, error) {
	body, err := json.Marshal(cmd.Payload)
	if err != nil {
		return nil, fmt.Errorf("serialize %s payload: %w", cmd.Type, err)
	}

	return &messaging.Envelope{
		MessageID:     cmd.ID,
		MessageType:   cmd.Type,
		Kind:          messaging.KindCommand,
		Timestamp:     cmd.Timestamp,
		SchemaVersion: cmd.SchemaVersion,
		Headers: map[string]string{
			messaging.HeaderTargetService: cmd.TargetService,
			messaging.HeaderVersion:       cmd.SchemaVersion,
			messaging.HeaderUserID:        cmd.UserID,
			messaging.HeaderCorrelationID: cmd.CorrelationID,
		},
		Body: body,
	}, nil
}
