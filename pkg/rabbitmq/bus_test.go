package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcommerce/messagebus/pkg/messaging"
)

type productCreated struct {
	ProductName string          `json:"productName"`
	Price       decimal.Decimal `json:"price"`
}

func TestPublishEvent(t *testing.T) {
	ctx := context.Background()
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	event := messaging.NewEvent("ProductCreatedEvent",
		productCreated{ProductName: "Widget", Price: decimal.NewFromFloat(9.99)},
		messaging.WithSource("catalog"),
		messaging.WithAggregate("prod-1", 2),
	)
	require.NoError(t, b.PublishEvent(ctx, event))

	published := fc.ch.publishedMessages()
	require.Len(t, published, 1)

	p := published[0]
	assert.Equal(t, "bcommerce.events", p.exchange)
	assert.Equal(t, "event.productcreatedevent", p.key)
	assert.Equal(t, "ProductCreatedEvent", p.msg.Type)
	assert.Equal(t, event.ID, p.msg.MessageId)
	assert.Equal(t, uint8(amqp.Persistent), p.msg.DeliveryMode)
	assert.Equal(t, "application/json", p.msg.ContentType)
	assert.Equal(t, "catalog", p.msg.Headers[messaging.HeaderSource])
	assert.Equal(t, "1.0", p.msg.Headers[messaging.HeaderVersion])
	assert.Equal(t, "prod-1", p.msg.Headers[messaging.HeaderAggregateID])
	assert.Equal(t, int64(2), p.msg.Headers[messaging.HeaderAggregateVersion])

	var body productCreated
	require.NoError(t, json.Unmarshal(p.msg.Body, &body))
	assert.Equal(t, "Widget", body.ProductName)
	assert.True(t, decimal.NewFromFloat(9.99).Equal(body.Price))

	// The events exchange was declared before the publish.
	require.Len(t, fc.ch.exchangeDeclares, 1)
	decl := fc.ch.exchangeDeclares[0]
	assert.Equal(t, "bcommerce.events", decl.name)
	assert.Equal(t, amqp.ExchangeTopic, decl.kind)
	assert.True(t, decl.durable)
	assert.False(t, decl.autoDelete)
}

func TestPublishEvent_NoAutoDeclare(t *testing.T) {
	b, fc, err := newTestBus(func(cfg *Config) { cfg.AutoDeclareTopology = false })
	require.NoError(t, err)

	require.NoError(t, b.PublishEvent(context.Background(), messaging.NewEvent("E", nil)))
	assert.Empty(t, fc.ch.exchangeDeclares)
	assert.Len(t, fc.ch.publishedMessages(), 1)
}

func TestPublishEvent_MissingType(t *testing.T) {
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	assert.ErrorIs(t, b.PublishEvent(context.Background(), &messaging.Event{}), messaging.ErrMissingType)
	assert.Zero(t, fc.channelCalls())
}

func TestSendCommand(t *testing.T) {
	ctx := context.Background()
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	cmd := messaging.NewCommand("CreateProductCommand", "ProductService",
		productCreated{ProductName: "X"},
		messaging.WithPriority(5),
		messaging.WithUserID("user-42"),
		messaging.WithCorrelationID("corr-9"),
	)
	require.NoError(t, b.SendCommand(ctx, cmd))

	// Target queue exists and is bound before the publish, even though the
	// target service never started.
	require.Len(t, fc.ch.queueDeclares, 1)
	q := fc.ch.queueDeclares[0]
	assert.Equal(t, "bcommerce.productservice.commands", q.name)
	assert.True(t, q.durable)
	assert.False(t, q.exclusive)

	require.Len(t, fc.ch.bindings, 1)
	bind := fc.ch.bindings[0]
	assert.Equal(t, "bcommerce.productservice.commands", bind.queue)
	assert.Equal(t, "bcommerce.commands", bind.exchange)
	assert.Equal(t, "command.productservice.createproductcommand", bind.key)

	published := fc.ch.publishedMessages()
	require.Len(t, published, 1)
	p := published[0]
	assert.Equal(t, "bcommerce.commands", p.exchange)
	assert.Equal(t, "command.productservice.createproductcommand", p.key)
	assert.Equal(t, uint8(5), p.msg.Priority)
	assert.Equal(t, "ProductService", p.msg.Headers[messaging.HeaderTargetService])
	assert.Equal(t, "user-42", p.msg.Headers[messaging.HeaderUserID])
	assert.Equal(t, "corr-9", p.msg.Headers[messaging.HeaderCorrelationID])
}

func TestSendCommand_PriorityClamped(t *testing.T) {
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	cmd := messaging.NewCommand("CreateProductCommand", "ProductService", nil,
		messaging.WithPriority(999))
	require.NoError(t, b.SendCommand(context.Background(), cmd))

	published := fc.ch.publishedMessages()
	require.Len(t, published, 1)
	assert.Equal(t, uint8(255), published[0].msg.Priority)
}

func TestSendCommand_EmptyTargetFailsFast(t *testing.T) {
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	cmd := messaging.NewCommand("CreateProductCommand", "", nil)
	assert.ErrorIs(t, b.SendCommand(context.Background(), cmd), messaging.ErrMissingTarget)
	assert.Zero(t, fc.channelCalls(), "the broker must not be contacted")
}

func TestDeclareIdempotent(t *testing.T) {
	ctx := context.Background()
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.DeclareExchange(ctx, "bcommerce.events"))
	require.NoError(t, b.DeclareExchange(ctx, "bcommerce.events"))
	require.NoError(t, b.DeclareQueue(ctx, "bcommerce.catalog.events"))
	require.NoError(t, b.DeclareQueue(ctx, "bcommerce.catalog.events"))
	require.NoError(t, b.BindQueue(ctx, "bcommerce.catalog.events", "bcommerce.events", "event.x"))
	require.NoError(t, b.BindQueue(ctx, "bcommerce.catalog.events", "bcommerce.events", "event.x"))

	// Redeclaration with identical parameters is a no-op at the broker;
	// the bus just reissues it.
	assert.Len(t, fc.ch.exchangeDeclares, 2)
	assert.Len(t, fc.ch.queueDeclares, 2)
	assert.Len(t, fc.ch.bindings, 2)
}

func TestStartConsuming_Topology(t *testing.T) {
	ctx := context.Background()
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.SubscribeEvent("ProductCreatedEvent", nopHandler))
	require.NoError(t, b.SubscribeEvent("OrderPlacedEvent", nopHandler))
	require.NoError(t, b.SubscribeCommand("ReserveStockCommand", nopHandler))

	require.NoError(t, b.StartConsuming(ctx))
	defer b.StopConsuming()

	queueNames := make([]string, 0, len(fc.ch.queueDeclares))
	for _, q := range fc.ch.queueDeclares {
		queueNames = append(queueNames, q.name)
	}
	assert.ElementsMatch(t,
		[]string{"bcommerce.catalog.events", "bcommerce.catalog.commands"},
		queueNames)

	keys := make([]string, 0, len(fc.ch.bindings))
	for _, bind := range fc.ch.bindings {
		keys = append(keys, bind.key)
	}
	assert.ElementsMatch(t, []string{
		"event.orderplacedevent",
		"event.productcreatedevent",
		"command.catalog.reservestockcommand",
	}, keys)

	require.Len(t, fc.ch.consumeCalls, 2)
	for _, call := range fc.ch.consumeCalls {
		assert.False(t, call.autoAck, "acknowledgment must be manual")
	}
}

func TestStartConsuming_NoHandlersNoQueues(t *testing.T) {
	b, fc, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.StartConsuming(context.Background()))
	assert.Empty(t, fc.ch.queueDeclares)
	assert.Empty(t, fc.ch.consumeCalls)
}

func TestSubscribeAfterStartConsuming(t *testing.T) {
	b, _, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.SubscribeEvent("ProductCreatedEvent", nopHandler))
	require.NoError(t, b.StartConsuming(context.Background()))
	defer b.StopConsuming()

	assert.ErrorIs(t, b.SubscribeEvent("LateEvent", nopHandler), messaging.ErrAlreadyConsuming)
	assert.ErrorIs(t, b.SubscribeCommand("LateCommand", nopHandler), messaging.ErrAlreadyConsuming)
}

func TestDuplicateSubscription(t *testing.T) {
	b, _, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.SubscribeEvent("ProductCreatedEvent", nopHandler))
	assert.ErrorIs(t, b.SubscribeEvent("ProductCreatedEvent", nopHandler), messaging.ErrHandlerExists)
}

func TestStopConsumingIdempotent(t *testing.T) {
	b, _, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.StopConsuming())
	require.NoError(t, b.StartConsuming(context.Background()))
	require.NoError(t, b.StopConsuming())
	require.NoError(t, b.StopConsuming())
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	b, _, err := newTestBus(nil)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.StartConsuming(context.Background()), messaging.ErrBusClosed)
	assert.ErrorIs(t, b.SubscribeEvent("X", nopHandler), messaging.ErrBusClosed)
}

func TestEnsureConnected(t *testing.T) {
	t.Run("Succeeds", func(t *testing.T) {
		b, fc, err := newTestBus(nil)
		require.NoError(t, err)

		require.NoError(t, b.EnsureConnected(context.Background()))
		assert.Equal(t, 1, fc.channelCalls())
	})

	t.Run("RetriesThenFails", func(t *testing.T) {
		b, fc, err := newTestBus(func(cfg *Config) {
			cfg.MaxRetryAttempts = 3
			cfg.RetryInterval = time.Millisecond
		})
		require.NoError(t, err)
		fc.channelErr = errors.New("connection refused")

		err = b.EnsureConnected(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "3 attempts")
		assert.Equal(t, 3, fc.channelCalls())
	})
}

func nopHandler(ctx context.Context, env *messaging.Envelope) error { return nil }
