package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Topology declaration is idempotent and cheap, so the bus declares on
// every publish (when AutoDeclareTopology is on) rather than assuming the
// broker was prepared out of band. A redeclaration with conflicting
// parameters is a configuration error the broker surfaces itself.

// DeclareExchange ensures a durable topic exchange exists.
func (b *Bus) DeclareExchange(ctx context.Context, name string) error {
	ch, err := b.conn.Channel(ctx)
	if err != nil {
		return err
	}
	return declareExchange(ch, name)
}

// DeclareQueue ensures a durable, shared, non-auto-delete queue exists.
func (b *Bus) DeclareQueue(ctx context.Context, name string) error {
	ch, err := b.conn.Channel(ctx)
	if err != nil {
		return err
	}
	return declareQueue(ch, name)
}

// BindQueue ensures queue receives messages published to exchange under
// routingKey.
func (b *Bus) BindQueue(ctx context.Context, queue, exchange, routingKey string) error {
	ch, err := b.conn.Channel(ctx)
	if err != nil {
		return err
	}
	return bindQueue(ch, queue, exchange, routingKey)
}

func declareExchange(ch Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,
		amqp.ExchangeTopic,
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

func declareQueue(ch Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func bindQueue(ch Channel, queue, exchange, routingKey string) error {
	err := ch.QueueBind(queue, routingKey, exchange, false, nil)
	if err != nil {
		return fmt.Errorf("bind %s to %s with key %s: %w", queue, exchange, routingKey, err)
	}
	return nil
}
