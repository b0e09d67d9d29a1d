package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bcommerce/messagebus/pkg/messaging"
	"github.com/bcommerce/messagebus/pkg/observability"
)

// maxPriority is the AMQP priority ceiling; command priorities are clamped
// to it.
const maxPriority = 255

// Bus is the AMQP implementation of messaging.Bus.
type Bus struct {
	cfg    Config
	conn   connector
	logger *slog.Logger
	tracer trace.Tracer

	metrics    *observability.BusMetrics
	middleware []func(messaging.Handler) messaging.Handler

	events   *messaging.Registry
	commands *messaging.Registry

	mu        sync.Mutex
	consuming bool
	closed    bool
	wg        sync.WaitGroup
}

var _ messaging.Bus = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the structured logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// WithMetrics records bus metrics on the given instruments.
func WithMetrics(m *observability.BusMetrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithTracer wraps publishes and handler invocations in spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(b *Bus) {
		b.tracer = tracer
	}
}

// WithMiddleware wraps every registered handler, outermost first.
func WithMiddleware(mw ...func(messaging.Handler) messaging.Handler) Option {
	return func(b *Bus) {
		b.middleware = append(b.middleware, mw...)
	}
}

// New creates a Bus for the given configuration. No broker I/O happens
// until the first publish, declare, or StartConsuming call.
func New(cfg Config, opts ...Option) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("rabbitmq config: %w", err)
	}

	b := &Bus{
		cfg:      cfg,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer(""),
		events:   messaging.NewRegistry(),
		commands: messaging.NewRegistry(),
	}

	for _, opt := range opts {
		opt(b)
	}

	b.conn = NewConnection(cfg, b.logger)
	return b, nil
}

// PublishEvent declares the events exchange and hands the event to the
// broker with persistence. Delivery fans out to whatever queues are bound
// for the event's type; zero bound consumers is not an error.
func (b *Bus) PublishEvent(ctx context.Context, event *messaging.Event) error {
	if event == nil || event.Type == "" {
		return messaging.ErrMissingType
	}

	exchange := EventsExchange(b.cfg.ExchangePrefix)
	key := EventRoutingKey(event.Type)

	ctx, span := b.tracer.Start(ctx, "messagebus.publish_event",
		trace.WithAttributes(attribute.String("messaging.type", event.Type)))
	defer span.End()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Type:         event.Type,
		Headers: amqp.Table{
			messaging.HeaderSource:           event.Source,
			messaging.HeaderVersion:          event.SchemaVersion,
			messaging.HeaderAggregateID:      event.AggregateID,
			messaging.HeaderAggregateVersion: event.AggregateVersion,
		},
	}

	return b.publish(ctx, messaging.KindEvent, event.Type, exchange, key, "", pub, event.Payload)
}

// SendCommand declares the commands exchange plus the target service's
// durable queue and binding, then hands the command to the broker. The
// queue is created even when the target service has not started yet, so
// commands queue durably. An empty TargetService fails fast without
// touching the broker.
func (b *Bus) SendCommand(ctx context.Context, cmd *messaging.Command) error {
	if cmd == nil || cmd.Type == "" {
		return messaging.ErrMissingType
	}
	if cmd.TargetService == "" {
		return messaging.ErrMissingTarget
	}

	exchange := CommandsExchange(b.cfg.ExchangePrefix)
	queue := CommandsQueue(b.cfg.QueuePrefix, cmd.TargetService)
	key := CommandRoutingKey(cmd.TargetService, cmd.Type)

	ctx, span := b.tracer.Start(ctx, "messagebus.send_command",
		trace.WithAttributes(
			attribute.String("messaging.type", cmd.Type),
			attribute.String("messaging.target", cmd.TargetService),
		))
	defer span.End()

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    cmd.ID,
		Timestamp:    cmd.Timestamp,
		Type:         cmd.Type,
		Priority:     clampPriority(cmd.Priority),
		Headers: amqp.Table{
			messaging.HeaderTargetService: cmd.TargetService,
			messaging.HeaderVersion:       cmd.SchemaVersion,
			messaging.HeaderUserID:        cmd.UserID,
			messaging.HeaderCorrelationID: cmd.CorrelationID,
		},
	}

	return b.publish(ctx, messaging.KindCommand, cmd.Type, exchange, key, queue, pub, cmd.Payload)
}

// publish serializes the payload and performs declaration + basic.publish.
// queue is non-empty only for commands, whose target queue must exist
// before the publish.
func (b *Bus) publish(ctx context.Context, kind messaging.Kind, messageType, exchange, key, queue string, pub amqp.Publishing, payload any) error {
	start := time.Now()

	err := b.doPublish(ctx, exchange, key, queue, pub, payload)

	if b.metrics != nil {
		attrs := metric.WithAttributes(
			observability.AttrKind.String(string(kind)),
			observability.AttrType.String(messageType),
		)
		if err != nil {
			b.metrics.PublishErrors.Add(ctx, 1, attrs)
		} else {
			b.metrics.Published.Add(ctx, 1, attrs)
			b.metrics.PublishLatency.Record(ctx, time.Since(start).Seconds(), attrs)
		}
	}

	if err != nil {
		return err
	}

	b.logger.Debug("published message",
		slog.String("kind", string(kind)),
		slog.String("type", messageType),
		slog.String("exchange", exchange),
		slog.String("routing_key", key),
	)
	return nil
}

func (b *Bus) doPublish(ctx context.Context, exchange, key, queue string, pub amqp.Publishing, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("serialize %s payload: %w", pub.Type, err)
	}
	pub.Body = body

	ch, err := b.conn.Channel(ctx)
	if err != nil {
		return err
	}

	if b.cfg.AutoDeclareTopology {
		if err := declareExchange(ch, exchange); err != nil {
			return err
		}
		if queue != "" {
			if err := declareQueue(ch, queue); err != nil {
				return err
			}
			if err := bindQueue(ch, queue, exchange, key); err != nil {
				return err
			}
		}
	}

	if err := ch.PublishWithContext(ctx, exchange, key, false, false, pub); err != nil {
		return fmt.Errorf("publish %s to %s: %w", pub.Type, exchange, err)
	}
	return nil
}

// SubscribeEvent registers handler for the given event type. Local only;
// the broker is not touched until StartConsuming.
func (b *Bus) SubscribeEvent(messageType string, handler messaging.Handler) error {
	return b.subscribe(b.events, messageType, handler)
}

// SubscribeCommand registers handler for the given command type addressed
// at this service.
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

	return reg.Register(messageType, b.wrap(handler))
}

// wrap applies the configured middleware chain, first-added outermost.
func (b *Bus) wrap(handler messaging.Handler) messaging.Handler {
	for i := len(b.middleware) - 1; i >= 0; i-- {
		handler = b.middleware[i](handler)
	}
	return handler
}

// StartConsuming declares this service's queues, binds one route per
// registered message type, and attaches manual-ack consumers. A kind with
// no registered handlers gets no queue.
func (b *Bus) StartConsuming(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return messaging.ErrBusClosed
	}
	if b.consuming {
		return nil
	}

	ch, err := b.conn.Channel(ctx)
	if err != nil {
		return err
	}

	if b.events.Len() > 0 {
		queue := EventsQueue(b.cfg.QueuePrefix, b.cfg.ServiceName)
		exchange := EventsExchange(b.cfg.ExchangePrefix)

		keys := make([]string, 0, b.events.Len())
		for _, t := range b.events.Types() {
			keys = append(keys, EventRoutingKey(t))
		}

		if err := b.startConsumer(ch, messaging.KindEvent, queue, exchange, keys, b.events); err != nil {
			return err
		}
	}

	if b.commands.Len() > 0 {
		queue := CommandsQueue(b.cfg.QueuePrefix, b.cfg.ServiceName)
		exchange := CommandsExchange(b.cfg.ExchangePrefix)

		keys := make([]string, 0, b.commands.Len())
		for _, t := range b.commands.Types() {
			keys = append(keys, CommandRoutingKey(b.cfg.ServiceName, t))
		}

		if err := b.startConsumer(ch, messaging.KindCommand, queue, exchange, keys, b.commands); err != nil {
			return err
		}
	}

	b.consuming = true
	b.logger.Info("consuming started",
		slog.String("service", b.cfg.ServiceName),
		slog.Int("event_types", b.events.Len()),
		slog.Int("command_types", b.commands.Len()),
	)
	return nil
}

func (b *Bus) startConsumer(ch Channel, kind messaging.Kind, queue, exchange string, routingKeys []string, reg *messaging.Registry) error {
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}
	if err := declareQueue(ch, queue); err != nil {
		return err
	}
	for _, key := range routingKeys {
		if err := bindQueue(ch, queue, exchange, key); err != nil {
			return err
		}
	}

	tag := fmt.Sprintf("%s.%s.%s", b.cfg.QueuePrefix, b.cfg.ServiceName, kind)
	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // autoAck: acknowledgment is manual, decided per message
		false, // exclusive: instances of one service compete on the queue
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}

	b.wg.Add(1)
	go b.consume(kind, queue, reg, deliveries)
	return nil
}

// StopConsuming closes the channel, halting delivery, and waits for
// in-flight handlers to finish. The connection stays up. Idempotent.
func (b *Bus) StopConsuming() error {
	b.mu.Lock()
	if !b.consuming {
		b.mu.Unlock()
		return nil
	}
	b.consuming = false
	err := b.conn.CloseChannel()
	b.mu.Unlock()

	b.wg.Wait()
	return err
}

// Close stops consuming and tears down the connection.
func (b *Bus) Close() error {
	if err := b.StopConsuming(); err != nil {
		b.logger.Error("closing consumer channel", slog.String("error", err.Error()))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.conn.Close()
}

// EnsureConnected establishes the broker connection eagerly, retrying up to
// MaxRetryAttempts with RetryInterval between attempts. Publishing and
// consuming connect lazily on their own; this exists for services that want
// to fail fast at startup instead of on the first message.
func (b *Bus) EnsureConnected(ctx context.Context) error {
	attempts := b.cfg.MaxRetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if _, err := b.conn.Channel(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		b.logger.Warn("broker connect failed",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.String("error", lastErr.Error()))

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.RetryInterval):
		}
	}
	return fmt.Errorf("connect after %d attempts: %w", attempts, lastErr)
}

// IsConnected reports whether the broker connection is currently open.
func (b *Bus) IsConnected() bool {
	return b.conn.IsOpen()
}

func clampPriority(p int) uint8 {
	if p < 0 {
		return 0
	}
	if p > maxPriority {
		return maxPriority
	}
	return uint8(p)
}
