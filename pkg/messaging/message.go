// Package messaging defines the message model and dispatch contracts for the
// bcommerce service-to-service bus: typed event and command envelopes, the
// handler registry, and the explicit ack/retry/drop dispatch outcome that
// transports map onto broker acknowledgments.
package messaging

import (
	"time"

	"github.com/bcommerce/messagebus/pkg/idgen"
)

// Kind discriminates the two message shapes carried by the bus.
type Kind string

const (
	// KindEvent marks a message describing something that already happened.
	KindEvent Kind = "event"

	// KindCommand marks a message expressing an intent to perform an action.
	KindCommand Kind = "command"
)

// DefaultSchemaVersion is assigned to messages constructed without an
// explicit schema version.
const DefaultSchemaVersion = "1.0"

// Message is the common surface of events and commands.
type Message interface {
	// MessageID returns the globally unique id assigned at construction.
	MessageID() string

	// MessageType returns the type discriminator used for serialization
	// typing and routing-key construction. Never empty for a valid message.
	MessageType() string

	// OccurredAt returns the UTC creation timestamp.
	OccurredAt() time.Time

	// MessageSchemaVersion returns the schema version of the payload.
	MessageSchemaVersion() string

	// MessageKind reports whether this is an event or a command.
	MessageKind() Kind
}

// Event represents a fact that has already happened in some service.
// Events are immutable once constructed; build them with NewEvent and treat
// the fields as read-only.
type Event struct {
	// ID is the unique identifier assigned at construction
	ID string

	// Type is the message-type discriminator (e.g., "ProductCreatedEvent")
	Type string

	// Timestamp is the UTC creation time
	Timestamp time.Time

	// SchemaVersion is the payload schema version (default "1.0")
	SchemaVersion string

	// Source is the name of the service that produced the event
	Source string

	// AggregateID identifies the aggregate the event originated from
	AggregateID string

	// AggregateVersion is the monotonic per-aggregate counter after this event
	AggregateVersion int64

	// Payload is the JSON-serializable body of the event
	Payload any
}

// EventOption configures an Event at construction time.
type EventOption func(*Event)

// WithSource sets the originating service name.
func WithSource(source string) EventOption {
	return func(e *Event) {
		e.Source = source
	}
}

// WithAggregate sets the originating aggregate id and its version after the
// event.
func WithAggregate(id string, version int64) EventOption {
	return func(e *Event) {
		e.AggregateID = id
		e.AggregateVersion = version
	}
}

// WithEventSchemaVersion overrides the default payload schema version.
func WithEventSchemaVersion(version string) EventOption {
	return func(e *Event) {
		e.SchemaVersion = version
	}
}

// NewEvent creates an event with a fresh id and UTC timestamp.
func NewEvent(messageType string, payload any, opts ...EventOption) *Event {
	e := &Event{
		ID:            idgen.NewMessageID(),
		Type:          messageType,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: DefaultSchemaVersion,
		Payload:       payload,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Event) MessageID() string            { return e.ID }
func (e *Event) MessageType() string          { return e.Type }
func (e *Event) OccurredAt() time.Time        { return e.Timestamp }
func (e *Event) MessageSchemaVersion() string { return e.SchemaVersion }
func (e *Event) MessageKind() Kind            { return KindEvent }

// Command represents an intent to perform an action in a specific target
// service. Commands are immutable once constructed; build them with
// NewCommand and treat the fields as read-only.
type Command struct {
	// ID is the unique identifier assigned at construction
	ID string

	// Type is the message-type discriminator (e.g., "CreateProductCommand")
	Type string

	// Timestamp is the UTC creation time
	Timestamp time.Time

	// SchemaVersion is the payload schema version (default "1.0")
	SchemaVersion string

	// TargetService determines routing; required for sending
	TargetService string

	// Priority orders delivery on priority-enabled queues (default 0 = low).
	// Transports clamp this to their maximum priority value.
	Priority int

	// UserID optionally identifies the initiating user
	UserID string

	// CorrelationID optionally ties the command to a cross-service trace
	CorrelationID string

	// Payload is the JSON-serializable body of the command
	Payload any
}

// CommandOption configures a Command at construction time.
type CommandOption func(*Command)

// WithPriority sets the delivery priority (higher = more urgent).
func WithPriority(priority int) CommandOption {
	return func(c *Command) {
		c.Priority = priority
	}
}

// WithUserID records the initiating user.
func WithUserID(userID string) CommandOption {
	return func(c *Command) {
		c.UserID = userID
	}
}

// WithCorrelationID ties the command to an existing trace.
func WithCorrelationID(correlationID string) CommandOption {
	return func(c *Command) {
		c.CorrelationID = correlationID
	}
}

// WithCommandSchemaVersion overrides the default payload schema version.
func WithCommandSchemaVersion(version string) CommandOption {
	return func(c *Command) {
		c.SchemaVersion = version
	}
}

// NewCommand creates a command with a fresh id and UTC timestamp, addressed
// at targetService.
func NewCommand(messageType, targetService string, payload any, opts ...CommandOption) *Command {
	c := &Command{
		ID:            idgen.NewMessageID(),
		Type:          messageType,
		Timestamp:     time.Now().UTC(),
		SchemaVersion: DefaultSchemaVersion,
		TargetService: targetService,
		Payload:       payload,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Command) MessageID() string            { return c.ID }
func (c *Command) MessageType() string          { return c.Type }
func (c *Command) OccurredAt() time.Time        { return c.Timestamp }
func (c *Command) MessageSchemaVersion() string { return c.SchemaVersion }
func (c *Command) MessageKind() Kind            { return KindCommand }
