package observability

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Attribute keys attached to bus metrics.
const (
	AttrKind    = attribute.Key("messagebus.kind")
	AttrType    = attribute.Key("messagebus.type")
	AttrOutcome = attribute.Key("messagebus.outcome")
)

// BusMetrics holds the metric instruments for the message bus.
type BusMetrics struct {
	// Publish side
	Published      metric.Int64Counter
	PublishErrors  metric.Int64Counter
	PublishLatency metric.Float64Histogram

	// Consume side
	Consumed        metric.Int64Counter
	Acked           metric.Int64Counter
	Requeued        metric.Int64Counter
	Dropped         metric.Int64Counter
	HandlerDuration metric.Float64Histogram
}

// NewBusMetrics creates all bus instruments on the given meter.
func NewBusMetrics(meter metric.Meter) (*BusMetrics, error) {
	m := &BusMetrics{}
	var err error

	m.Published, err = meter.Int64Counter(
		"messagebus.published",
		metric.WithDescription("Messages handed to the broker"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.published: %w", err)
	}

	m.PublishErrors, err = meter.Int64Counter(
		"messagebus.publish.errors",
		metric.WithDescription("Publish attempts that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.publish.errors: %w", err)
	}

	m.PublishLatency, err = meter.Float64Histogram(
		"messagebus.publish.duration",
		metric.WithDescription("Publish duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.publish.duration: %w", err)
	}

	m.Consumed, err = meter.Int64Counter(
		"messagebus.consumed",
		metric.WithDescription("Messages delivered to the consumer loop"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.consumed: %w", err)
	}

	m.Acked, err = meter.Int64Counter(
		"messagebus.acked",
		metric.WithDescription("Messages acknowledged after successful handling"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.acked: %w", err)
	}

	m.Requeued, err = meter.Int64Counter(
		"messagebus.requeued",
		metric.WithDescription("Messages rejected with requeue after a handler failure"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.requeued: %w", err)
	}

	m.Dropped, err = meter.Int64Counter(
		"messagebus.dropped",
		metric.WithDescription("Messages rejected without requeue"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.dropped: %w", err)
	}

	m.HandlerDuration, err = meter.Float64Histogram(
		"messagebus.handler.duration",
		metric.WithDescription("Handler execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating messagebus.handler.duration: %w", err)
	}

	return m, nil
}
