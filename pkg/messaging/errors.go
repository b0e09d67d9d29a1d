package messaging

import "errors"

var (
	// ErrHandlerExists is returned when a handler is already registered for
	// a message type. The first registration wins.
	ErrHandlerExists = errors.New("messaging: handler already registered for message type")

	// ErrAlreadyConsuming is returned when a subscription is attempted after
	// consumption has started. Late registrations would never be bound to a
	// queue, so they are rejected outright.
	ErrAlreadyConsuming = errors.New("messaging: cannot subscribe after consuming has started")

	// ErrMissingType is returned when a message carries an empty
	// message-type discriminator.
	ErrMissingType = errors.New("messaging: message type must not be empty")

	// ErrMissingTarget is returned by SendCommand when the command has no
	// target service.
	ErrMissingTarget = errors.New("messaging: command target service must not be empty")

	// ErrBusClosed is returned when operating on a closed bus.
	ErrBusClosed = errors.New("messaging: bus is closed")
)
