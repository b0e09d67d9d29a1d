// Package outbox implements the transactional outbox pattern for the
// message bus: messages are staged in a local SQLite table inside the
// producer's own transaction and published asynchronously by a relay, so a
// message is handed to the broker only if the local transaction committed.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/bcommerce/messagebus/pkg/idgen"
	"github.com/bcommerce/messagebus/pkg/messaging"
)

const schema = `
CREATE TABLE IF NOT EXISTS outbox_messages (
	id                TEXT PRIMARY KEY,
	kind              TEXT NOT NULL,
	message_id        TEXT NOT NULL,
	message_type      TEXT NOT NULL,
	schema_version    TEXT NOT NULL,
	occurred_at       TIMESTAMP NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	aggregate_id      TEXT NOT NULL DEFAULT '',
	aggregate_version INTEGER NOT NULL DEFAULT 0,
	target_service    TEXT NOT NULL DEFAULT '',
	priority          INTEGER NOT NULL DEFAULT 0,
	user_id           TEXT NOT NULL DEFAULT '',
	correlation_id    TEXT NOT NULL DEFAULT '',
	payload           BLOB NOT NULL,
	created_at        TIMESTAMP NOT NULL,
	published_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_outbox_unpublished
	ON outbox_messages (id) WHERE published_at IS NULL;
`

// Execer is satisfied by *sql.DB and *sql.Tx. Staging inside the caller's
// transaction is the point of the pattern.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store persists staged messages.
type Store struct {
	db *sql.DB
}

type storeConfig struct {
	dsn         string
	autoMigrate bool
}

// StoreOption configures a Store.
type StoreOption func(*storeConfig)

// WithDSN sets the SQLite data source ( ":memory:" for in-memory).
func WithDSN(dsn string) StoreOption {
	return func(c *storeConfig) {
		c.dsn = dsn
	}
}

// WithAutoMigrate controls schema creation on open. Default on.
func WithAutoMigrate(enabled bool) StoreOption {
	return func(c *storeConfig) {
		c.autoMigrate = enabled
	}
}

// NewStore opens (or creates) the outbox database.
func NewStore(opts ...StoreOption) (*Store, error) {
	cfg := storeConfig{
		dsn:         "outbox.db",
		autoMigrate: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := sql.Open("sqlite", cfg.dsn)
	if err != nil {
		return nil, fmt.Errorf("open outbox database: %w", err)
	}

	if cfg.autoMigrate {
		if _, err := db.Exec(schema); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate outbox schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// DB exposes the underlying handle so callers can open transactions that
// span their own tables and the outbox.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StageEvent stages an event for publication. Pass the caller's *sql.Tx as
// q to stage atomically with local state changes; pass nil to use the
// store's own connection.
func (s *Store) StageEvent(ctx context.Context, q Execer, event *messaging.Event) error {
	if event == nil || event.Type == "" {
		return messaging.ErrMissingType
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("serialize %s payload: %w", event.Type, err)
	}

	if q == nil {
		q = s.db
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, kind, message_id, message_type, schema_version, occurred_at,
			 source, aggregate_id, aggregate_version, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idgen.NewSortableID(),
		string(messaging.KindEvent),
		event.ID,
		event.Type,
		event.SchemaVersion,
		event.Timestamp,
		event.Source,
		event.AggregateID,
		event.AggregateVersion,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("stage event %s: %w", event.Type, err)
	}
	return nil
}

// StageCommand stages a command for publication.
func (s *Store) StageCommand(ctx context.Context, q Execer, cmd *messaging.Command) error {
	if cmd == nil || cmd.Type == "" {
		return messaging.ErrMissingType
	}
	if cmd.TargetService == "" {
		return messaging.ErrMissingTarget
	}

	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return fmt.Errorf("serialize %s payload: %w", cmd.Type, err)
	}

	if q == nil {
		q = s.db
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO outbox_messages
			(id, kind, message_id, message_type, schema_version, occurred_at,
			 target_service, priority, user_id, correlation_id, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		idgen.NewSortableID(),
		string(messaging.KindCommand),
		cmd.ID,
		cmd.Type,
		cmd.SchemaVersion,
		cmd.Timestamp,
		cmd.TargetService,
		cmd.Priority,
		cmd.UserID,
		cmd.CorrelationID,
		payload,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("stage command %s: %w", cmd.Type, err)
	}
	return nil
}

// Entry is one staged message.
type Entry struct {
	ID               string
	Kind             messaging.Kind
	MessageID        string
	MessageType      string
	SchemaVersion    string
	OccurredAt       time.Time
	Source           string
	AggregateID      string
	AggregateVersion int64
	TargetService    string
	Priority         int
	UserID           string
	CorrelationID    string
	Payload          []byte
}

// Event reconstructs the staged event with its original id and timestamp.
func (e *Entry) Event() *messaging.Event {
	return &messaging.Event{
		ID:               e.MessageID,
		Type:             e.MessageType,
		Timestamp:        e.OccurredAt,
		SchemaVersion:    e.SchemaVersion,
		Source:           e.Source,
		AggregateID:      e.AggregateID,
		AggregateVersion: e.AggregateVersion,
		Payload:          json.RawMessage(e.Payload),
	}
}

// Command reconstructs the staged command with its original id and
// timestamp.
func (e *Entry) Command() *messaging.Command {
	return &messaging.Command{
		ID:            e.MessageID,
		Type:          e.MessageType,
		Timestamp:     e.OccurredAt,
		SchemaVersion: e.SchemaVersion,
		TargetService: e.TargetService,
		Priority:      e.Priority,
		UserID:        e.UserID,
		CorrelationID: e.CorrelationID,
		Payload:       json.RawMessage(e.Payload),
	}
}

// Unpublished returns up to limit staged messages in staging order (ULIDs
// sort by creation time).
func (s *Store) Unpublished(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, message_id, message_type, schema_version, occurred_at,
		       source, aggregate_id, aggregate_version,
		       target_service, priority, user_id, correlation_id, payload
		FROM outbox_messages
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e    Entry
			kind string
		)
		err := rows.Scan(
			&e.ID, &kind, &e.MessageID, &e.MessageType, &e.SchemaVersion, &e.OccurredAt,
			&e.Source, &e.AggregateID, &e.AggregateVersion,
			&e.TargetService, &e.Priority, &e.UserID, &e.CorrelationID, &e.Payload,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		e.Kind = messaging.Kind(kind)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// MarkPublished stamps the entry as handed to the broker.
func (s *Store) MarkPublished(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE outbox_messages SET published_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark published %s: %w", id, err)
	}
	return nil
}
