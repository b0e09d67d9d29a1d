package messaging

import (
	"context"
	"fmt"
)

// Status is the acknowledgment decision for one delivered message.
type Status int

const (
	// StatusAck removes the message from the queue.
	StatusAck Status = iota

	// StatusRetry rejects the message with requeue (transient-failure
	// assumption).
	StatusRetry

	// StatusDrop rejects the message without requeue; the broker discards it
	// or routes it to a dead-letter exchange when one is configured.
	StatusDrop
)

func (s Status) String() string {
	switch s {
	case StatusAck:
		return "ack"
	case StatusRetry:
		return "retry"
	case StatusDrop:
		return "drop"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the explicit result of dispatching one message. Transports map
// it onto their acknowledgment primitives instead of deciding ack/nack from
// exception taxonomy.
type Outcome struct {
	Status Status

	// Reason documents a Drop; empty otherwise.
	Reason string

	// Err is the handler failure behind a Retry (or an attempts-exhausted
	// Drop); nil for Ack.
	Err error
}

// DispatchOption configures Dispatch.
type DispatchOption func(*dispatchConfig)

type dispatchConfig struct {
	maxAttempts int
}

// WithMaxAttempts bounds redelivery: once a message has been attempted n
// times, a failed invocation resolves to Drop instead of Retry. Zero keeps
// the unbounded requeue-on-failure policy.
func WithMaxAttempts(n int) DispatchOption {
	return func(c *dispatchConfig) {
		c.maxAttempts = n
	}
}

// Dispatch resolves a handler for env from reg, invokes it, and computes the
// acknowledgment decision:
//
//   - no handler registered: Drop (requeueing an unroutable message would
//     loop forever)
//   - handler returned nil: Ack
//   - handler returned an error or panicked: Retry, or Drop once the
//     delivery-attempt budget is spent
func Dispatch(ctx context.Context, reg *Registry, env *Envelope, opts ...DispatchOption) Outcome {
	var cfg dispatchConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	handler, ok := reg.Lookup(env.MessageType)
	if !ok {
		return Outcome{
			Status: StatusDrop,
			Reason: fmt.Sprintf("no handler registered for message type %q", env.MessageType),
		}
	}

	err := invoke(ctx, handler, env)
	if err == nil {
		return Outcome{Status: StatusAck}
	}

	if cfg.maxAttempts > 0 && env.DeliveryAttempt >= cfg.maxAttempts {
		return Outcome{
			Status: StatusDrop,
			Reason: fmt.Sprintf("delivery attempts exhausted (%d/%d)", env.DeliveryAttempt, cfg.maxAttempts),
			Err:    err,
		}
	}

	return Outcome{Status: StatusRetry, Err: err}
}

// invoke runs the handler, converting a panic into an error so one bad
// message cannot take down the consumer loop.
func invoke(ctx context.Context, handler Handler, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked for %s: %v", env.MessageType, r)
		}
	}()

	return handler(ctx, env)
}
