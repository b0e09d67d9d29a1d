package rabbitmq

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel the bus uses. Narrowing the surface
// keeps the transport testable against a recorded fake.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	IsClosed() bool
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// connector owns channel acquisition for the bus. Connection implements it
// against a live broker; tests substitute a fake.
type connector interface {
	// Channel returns an open channel, establishing the connection first if
	// needed.
	Channel(ctx context.Context) (Channel, error)

	// CloseChannel closes only the channel, halting delivery. Idempotent.
	CloseChannel() error

	// Close tears down the channel and the connection.
	Close() error

	// IsOpen reports whether both connection and channel are currently open.
	IsOpen() bool
}

// Connection owns the process's single broker connection and its one
// multiplexed channel. Both are established lazily on first use and live
// until Close. Establishment is guarded by double-checked locking: the
// common already-connected case takes only the read lock.
//
// There is no background reconnection loop. A dropped connection is noticed
// and re-established by the next operation's Channel call.
type Connection struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewConnection creates an unconnected Connection. No I/O happens until the
// first Channel call.
func NewConnection(cfg Config, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{cfg: cfg, logger: logger}
}

// Channel returns the shared channel, dialing the broker first when no open
// connection+channel pair exists. Connect failures wrap the underlying
// transport error and leave no partial state behind.
func (c *Connection) Channel(ctx context.Context) (Channel, error) {
	c.mu.RLock()
	if c.open() {
		ch := c.ch
		c.mu.RUnlock()
		return ch, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check: another caller may have connected while we waited.
	if c.open() {
		return c.ch, nil
	}

	// A surviving connection only needs a fresh channel.
	if c.conn != nil && !c.conn.IsClosed() {
		ch, err := c.conn.Channel()
		if err == nil {
			c.ch = ch
			return ch, nil
		}
		c.conn.Close()
		c.conn = nil
	}

	conn, ch, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.conn = conn
	c.ch = ch
	c.logger.Info("connected to broker",
		slog.String("addr", c.cfg.Addr()),
		slog.String("vhost", c.cfg.VirtualHost),
	)
	return ch, nil
}

// open reports a healthy connection+channel pair. Callers hold c.mu.
func (c *Connection) open() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// dial opens a fresh connection and channel, honoring ctx cancellation.
func (c *Connection) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	username, password := c.cfg.Username, c.cfg.Password
	if c.cfg.CredentialsProvider != nil {
		creds, err := c.cfg.CredentialsProvider.Credentials(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve broker credentials: %w", err)
		}
		username, password = creds.Username, creds.Password
	}

	amqpCfg := amqp.Config{
		SASL:      []amqp.Authentication{&amqp.PlainAuth{Username: username, Password: password}},
		Vhost:     c.cfg.VirtualHost,
		Heartbeat: c.cfg.HeartbeatInterval,
		Dial:      amqp.DefaultDial(c.cfg.ConnectionTimeout),
	}
	if c.cfg.UseSSL {
		tlsCfg := c.cfg.TLSConfig
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		amqpCfg.TLSClientConfig = tlsCfg
	}

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}

	// amqp.DialConfig has no context parameter; run it aside and let the
	// caller's context abandon a hung dial. The dial's own timeout still
	// bounds the connection attempt so the goroutine cannot leak for long.
	resCh := make(chan dialResult, 1)
	go func() {
		conn, err := amqp.DialConfig(c.cfg.URL(), amqpCfg)
		resCh <- dialResult{conn: conn, err: err}
	}()

	var conn *amqp.Connection
	select {
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, nil, fmt.Errorf("connect to broker at %s: %w", c.cfg.Addr(), ctx.Err())
	case res := <-resCh:
		if res.err != nil {
			return nil, nil, fmt.Errorf("connect to broker at %s: %w", c.cfg.Addr(), res.err)
		}
		conn = res.conn
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel on %s: %w", c.cfg.Addr(), err)
	}

	return conn, ch, nil
}

// CloseChannel closes only the channel. The connection stays up for later
// publishes; a subsequent Channel call opens a fresh channel.
func (c *Connection) CloseChannel() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil || c.ch.IsClosed() {
		return nil
	}
	err := c.ch.Close()
	c.ch = nil
	return err
}

// Close tears down the channel and the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch != nil && !c.ch.IsClosed() {
		c.ch.Close()
	}
	c.ch = nil

	if c.conn == nil || c.conn.IsClosed() {
		c.conn = nil
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// IsOpen reports whether both the connection and channel are open.
func (c *Connection) IsOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open()
}
