package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Transport header names shared by all bus implementations.
const (
	// HeaderSource carries the producing service name (events).
	HeaderSource = "source"

	// HeaderVersion carries the payload schema version.
	HeaderVersion = "version"

	// HeaderAggregateID carries the originating aggregate id (events).
	HeaderAggregateID = "aggregate_id"

	// HeaderAggregateVersion carries the aggregate version (events).
	HeaderAggregateVersion = "aggregate_version"

	// HeaderTargetService carries the routing target (commands).
	HeaderTargetService = "target_service"

	// HeaderUserID carries the initiating user id (commands).
	HeaderUserID = "user_id"

	// HeaderCorrelationID carries the cross-service trace id (commands).
	HeaderCorrelationID = "correlation_id"

	// HeaderDeliveryAttempts tracks redelivery when bounded retry is enabled.
	HeaderDeliveryAttempts = "x-delivery-attempts"
)

// Envelope is what a consumer sees for one delivered message: the transport
// metadata plus the raw JSON body. The body is decoded lazily so that the
// registry can route on the type discriminator without knowing payload types.
type Envelope struct {
	// MessageID is the producer-assigned unique id
	MessageID string

	// MessageType is the type discriminator used for handler lookup
	MessageType string

	// Kind reports which consumer (event or command) delivered the message
	Kind Kind

	// Timestamp is the producer-side creation time
	Timestamp time.Time

	// SchemaVersion is the payload schema version
	SchemaVersion string

	// Headers holds the custom transport headers as strings
	Headers map[string]string

	// Body is the raw JSON payload
	Body []byte

	// DeliveryAttempt is the 1-based delivery count for this message.
	// Stays 1 unless the transport tracks redelivery attempts.
	DeliveryAttempt int
}

// Decode unmarshals the JSON body into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.MessageType, err)
	}
	return nil
}

// Header returns the named header, or "" when absent.
func (e *Envelope) Header(name string) string {
	return e.Headers[name]
}

// Handler processes one delivered message. Returning an error signals a
// (presumed transient) failure; the transport redelivers the message.
type Handler func(ctx context.Context, env *Envelope) error

// Typed adapts a payload-typed function into a Handler, decoding the
// envelope body into T first. A body that does not decode into T fails the
// invocation the same way a handler error does.
func Typed[T any](fn func(ctx context.Context, env *Envelope, payload T) error) Handler {
	return func(ctx context.Context, env *Envelope) error {
		var payload T
		if err := env.Decode(&payload); err != nil {
			return err
		}
		return fn(ctx, env, payload)
	}
}
