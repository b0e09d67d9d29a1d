// Package rabbitmq implements the bcommerce message bus over an AMQP 0-9-1
// broker: a lazily-established shared connection, deterministic
// exchange/queue/routing-key topology, durable publish for events and
// commands, and a manual-ack consumer loop with explicit ack/retry/drop
// decisions.
package rabbitmq

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/bcommerce/messagebus/pkg/security/credentials"
	"github.com/bcommerce/messagebus/pkg/validators"
)

// Config holds the broker connection and topology settings.
type Config struct {
	// Host is the broker hostname or IP
	Host string

	// Port is the broker port
	Port int

	// Username and Password authenticate the connection. Ignored when
	// CredentialsProvider is set.
	Username string
	Password string

	// VirtualHost is the AMQP vhost
	VirtualHost string

	// ConnectionTimeout bounds the TCP dial
	ConnectionTimeout time.Duration

	// HeartbeatInterval is the AMQP heartbeat
	HeartbeatInterval time.Duration

	// MaxRetryAttempts and RetryInterval govern EnsureConnected's retry
	// loop. Lazy connects triggered by publish or consume do not retry.
	MaxRetryAttempts int
	RetryInterval    time.Duration

	// ExchangePrefix and QueuePrefix namespace the declared topology
	ExchangePrefix string
	QueuePrefix    string

	// UseSSL dials amqps with TLSConfig (nil = default verification)
	UseSSL    bool
	TLSConfig *tls.Config

	// ServiceName names this instance's consumption queues
	ServiceName string

	// AutoDeclareTopology declares exchanges/queues/bindings before every
	// publish and on StartConsuming. Disable only when topology is managed
	// externally.
	AutoDeclareTopology bool

	// MaxDeliveryAttempts bounds redelivery of failing messages. Zero keeps
	// the requeue-forever policy; n > 0 tracks attempts in a header and
	// rejects without requeue once n deliveries have failed.
	MaxDeliveryAttempts int

	// CredentialsProvider, when set, resolves the username/password at dial
	// time (e.g. from a secret manager).
	CredentialsProvider credentials.Provider
}

// DefaultConfig returns the stock bcommerce settings.
func DefaultConfig() Config {
	return Config{
		Host:                "localhost",
		Port:                5672,
		Username:            "guest",
		Password:            "guest",
		VirtualHost:         "/",
		ConnectionTimeout:   30 * time.Second,
		HeartbeatInterval:   60 * time.Second,
		MaxRetryAttempts:    5,
		RetryInterval:       5 * time.Second,
		ExchangePrefix:      "bcommerce",
		QueuePrefix:         "bcommerce",
		UseSSL:              false,
		ServiceName:         "unknown",
		AutoDeclareTopology: true,
	}
}

// Validate checks the fields a misconfigured deployment most often gets
// wrong. Called by New; exposed for config-loading code.
func (c Config) Validate() error {
	var errs []error

	if err := validators.Host(c.Host); err != nil {
		errs = append(errs, err)
	}
	if err := validators.Port(c.Port); err != nil {
		errs = append(errs, err)
	}
	if err := validators.ServiceName(c.ServiceName); err != nil {
		errs = append(errs, err)
	}
	if c.ExchangePrefix == "" {
		errs = append(errs, fmt.Errorf("exchange prefix is required"))
	}
	if c.QueuePrefix == "" {
		errs = append(errs, fmt.Errorf("queue prefix is required"))
	}
	if c.MaxDeliveryAttempts < 0 {
		errs = append(errs, fmt.Errorf("max delivery attempts must not be negative"))
	}

	return errors.Join(errs...)
}

// URL builds the broker URL without credentials or vhost; both are passed
// through the AMQP config at dial time so they never appear in logs.
func (c Config) URL() string {
	scheme := "amqp"
	if c.UseSSL {
		scheme = "amqps"
	}
	return fmt.Sprintf("%s://%s", scheme, c.Addr())
}

// Addr returns the host:port pair.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
