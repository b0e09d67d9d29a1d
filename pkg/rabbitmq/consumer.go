package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bcommerce/messagebus/pkg/messaging"
	"github.com/bcommerce/messagebus/pkg/observability"
)

// consume drains one queue's deliveries in order, one message at a time.
// The loop exits when the channel closes (StopConsuming or a broker-side
// drop). Errors never escape: every delivery resolves to an ack or a nack.
func (b *Bus) consume(kind messaging.Kind, queue string, reg *messaging.Registry, deliveries <-chan amqp.Delivery) {
	defer b.wg.Done()

	for d := range deliveries {
		b.handleDelivery(context.Background(), kind, reg, d)
	}

	b.logger.Debug("consumer loop stopped",
		slog.String("kind", string(kind)),
		slog.String("queue", queue),
	)
}

// handleDelivery dispatches one message and maps the outcome onto the
// broker acknowledgment:
//
//	Ack   -> basic.ack
//	Retry -> basic.nack requeue=true (or a republish with an incremented
//	         attempt header when bounded redelivery is on)
//	Drop  -> basic.nack requeue=false (dead-lettered if the queue has a DLX)
func (b *Bus) handleDelivery(ctx context.Context, kind messaging.Kind, reg *messaging.Registry, d amqp.Delivery) {
	env := envelopeFromDelivery(kind, d)

	ctx, span := b.tracer.Start(ctx, "messagebus.handle",
		trace.WithAttributes(
			attribute.String("messaging.kind", string(kind)),
			attribute.String("messaging.type", env.MessageType),
		))
	defer span.End()

	start := time.Now()
	outcome := messaging.Dispatch(ctx, reg, env,
		messaging.WithMaxAttempts(b.cfg.MaxDeliveryAttempts))
	elapsed := time.Since(start)

	if b.metrics != nil {
		attrs := metric.WithAttributes(
			observability.AttrKind.String(string(kind)),
			observability.AttrType.String(env.MessageType),
			observability.AttrOutcome.String(outcome.Status.String()),
		)
		b.metrics.Consumed.Add(ctx, 1, attrs)
		b.metrics.HandlerDuration.Record(ctx, elapsed.Seconds(), attrs)
	}

	switch outcome.Status {
	case messaging.StatusAck:
		if err := d.Ack(false); err != nil {
			b.logger.Error("ack failed",
				slog.String("type", env.MessageType),
				slog.String("message_id", env.MessageID),
				slog.String("error", err.Error()))
			return
		}
		if b.metrics != nil {
			b.metrics.Acked.Add(ctx, 1)
		}

	case messaging.StatusRetry:
		b.logger.Warn("handler failed, message requeued",
			slog.String("type", env.MessageType),
			slog.String("message_id", env.MessageID),
			slog.Int("attempt", env.DeliveryAttempt),
			slog.String("error", outcome.Err.Error()))
		b.retry(ctx, d, env)
		if b.metrics != nil {
			b.metrics.Requeued.Add(ctx, 1)
		}

	case messaging.StatusDrop:
		b.logger.Warn("message dropped",
			slog.String("type", env.MessageType),
			slog.String("message_id", env.MessageID),
			slog.String("reason", outcome.Reason))
		b.nack(d, false)
		if b.metrics != nil {
			b.metrics.Dropped.Add(ctx, 1)
		}
	}
}

// retry puts a failed message back on its queue. With unbounded redelivery
// this is a plain requeue. With a bounded budget the attempt count must
// grow, and a requeued delivery keeps its original headers, so the message
// is republished with the incremented header and the original is acked.
func (b *Bus) retry(ctx context.Context, d amqp.Delivery, env *messaging.Envelope) {
	if b.cfg.MaxDeliveryAttempts == 0 {
		b.nack(d, true)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[messaging.HeaderDeliveryAttempts] = int32(env.DeliveryAttempt + 1)

	pub := amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    d.Timestamp,
		Type:         d.Type,
		Priority:     d.Priority,
		Headers:      headers,
		Body:         d.Body,
	}

	ch, err := b.conn.Channel(ctx)
	if err == nil {
		err = ch.PublishWithContext(ctx, d.Exchange, d.RoutingKey, false, false, pub)
	}
	if err != nil {
		b.logger.Error("republish for retry failed, falling back to requeue",
			slog.String("type", env.MessageType),
			slog.String("message_id", env.MessageID),
			slog.String("error", err.Error()))
		b.nack(d, true)
		return
	}

	if err := d.Ack(false); err != nil {
		b.logger.Error("ack after retry republish failed",
			slog.String("message_id", env.MessageID),
			slog.String("error", err.Error()))
	}
}

func (b *Bus) nack(d amqp.Delivery, requeue bool) {
	if err := d.Nack(false, requeue); err != nil {
		b.logger.Error("nack failed",
			slog.String("message_id", d.MessageId),
			slog.String("error", err.Error()))
	}
}

// envelopeFromDelivery lifts the transport properties into the consumer
// envelope. Header values are stringified; the payload stays raw.
func envelopeFromDelivery(kind messaging.Kind, d amqp.Delivery) *messaging.Envelope {
	headers := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		headers[k] = stringifyHeader(v)
	}

	return &messaging.Envelope{
		MessageID:       d.MessageId,
		MessageType:     d.Type,
		Kind:            kind,
		Timestamp:       d.Timestamp,
		SchemaVersion:   headers[messaging.HeaderVersion],
		Headers:         headers,
		Body:            d.Body,
		DeliveryAttempt: deliveryAttempt(d.Headers),
	}
}

// deliveryAttempt reads the bounded-retry header; a message without one is
// on its first delivery.
func deliveryAttempt(headers amqp.Table) int {
	switch v := headers[messaging.HeaderDeliveryAttempts].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}

func stringifyHeader(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}
