// Package idgen generates the identifiers used across the message bus.
package idgen

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewMessageID returns an opaque, globally unique message id (UUID v4).
func NewMessageID() string {
	return uuid.NewString()
}

// NewSortableID returns a ULID: unique and lexicographically ordered by
// creation time. Used where insertion order matters, such as outbox rows.
func NewSortableID() string {
	return ulid.Make().String()
}
