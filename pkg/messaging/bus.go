package messaging

import "context"

// Bus is the single entry point services use to exchange messages:
// publishing events, sending commands, and consuming both.
//
// Subscriptions are local registry mutations and must all happen before
// StartConsuming; the transport binds one queue route per registered type at
// that point, so later registrations would never receive anything and are
// rejected with ErrAlreadyConsuming.
type Bus interface {
	// PublishEvent fans the event out to whatever queues are bound to its
	// type. Zero bound consumers is not an error.
	PublishEvent(ctx context.Context, event *Event) error

	// SendCommand delivers the command to its target service's durable
	// queue, creating the queue if the target has not started yet. The
	// command must carry a non-empty TargetService.
	SendCommand(ctx context.Context, cmd *Command) error

	// SubscribeEvent binds handler to the event message type.
	SubscribeEvent(messageType string, handler Handler) error

	// SubscribeCommand binds handler to the command message type.
	SubscribeCommand(messageType string, handler Handler) error

	// StartConsuming begins delivery to all registered handlers.
	StartConsuming(ctx context.Context) error

	// StopConsuming halts delivery without tearing down the connection.
	// Idempotent.
	StopConsuming() error

	// Close stops consuming and releases the underlying transport.
	Close() error
}
