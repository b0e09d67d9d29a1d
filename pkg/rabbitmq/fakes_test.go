package rabbitmq

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeChannel records topology declarations and publishes, and serves
// pre-loaded deliveries to Consume.
type fakeChannel struct {
	mu sync.Mutex

	exchangeDeclares []declaredExchange
	queueDeclares    []declaredQueue
	bindings         []declaredBinding
	published        []publishedMessage
	consumeCalls     []consumeCall

	deliveries map[string]chan amqp.Delivery
	publishErr error
	consumeErr error
	closed     bool
}

type declaredExchange struct {
	name, kind         string
	durable, autoDelete bool
}

type declaredQueue struct {
	name                         string
	durable, autoDelete, exclusive bool
}

type declaredBinding struct {
	queue, key, exchange string
}

type publishedMessage struct {
	exchange, key string
	msg           amqp.Publishing
}

type consumeCall struct {
	queue, consumer string
	autoAck         bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(map[string]chan amqp.Delivery)}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchangeDeclares = append(c.exchangeDeclares, declaredExchange{name, kind, durable, autoDelete})
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueDeclares = append(c.queueDeclares, declaredQueue{name, durable, autoDelete, exclusive})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, declaredBinding{name, key, exchange})
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, publishedMessage{exchange, key, msg})
	return nil
}

// load queues deliveries that Consume will serve for queue.
func (c *fakeChannel) load(queue string, deliveries ...amqp.Delivery) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan amqp.Delivery, len(deliveries))
	for _, d := range deliveries {
		ch <- d
	}
	close(ch)
	c.deliveries[queue] = ch
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	c.consumeCalls = append(c.consumeCalls, consumeCall{queue, consumer, autoAck})

	ch, ok := c.deliveries[queue]
	if !ok {
		ch = make(chan amqp.Delivery)
		close(ch)
	}
	return ch, nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) publishedMessages() []publishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publishedMessage(nil), c.published...)
}

// fakeConnector hands out a fakeChannel and counts acquisitions.
type fakeConnector struct {
	mu         sync.Mutex
	ch         *fakeChannel
	channelErr error
	calls      int
	open       bool
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{ch: newFakeChannel()}
}

func (c *fakeConnector) Channel(ctx context.Context) (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.channelErr != nil {
		return nil, c.channelErr
	}
	c.open = true
	return c.ch, nil
}

func (c *fakeConnector) CloseChannel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return c.ch.Close()
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}

func (c *fakeConnector) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConnector) channelCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// fakeAcker records per-delivery acknowledgments.
type fakeAcker struct {
	mu    sync.Mutex
	acks  []uint64
	nacks []nackCall
}

type nackCall struct {
	tag     uint64
	requeue bool
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks = append(a.nacks, nackCall{tag, requeue})
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) ackedTags() []uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uint64(nil), a.acks...)
}

func (a *fakeAcker) nackCalls() []nackCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]nackCall(nil), a.nacks...)
}

// newTestBus builds a Bus over a fake connector.
func newTestBus(mutate func(*Config), opts ...Option) (*Bus, *fakeConnector, error) {
	cfg := DefaultConfig()
	cfg.ServiceName = "catalog"
	if mutate != nil {
		mutate(&cfg)
	}

	b, err := New(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}

	fc := newFakeConnector()
	b.conn = fc
	return b, fc, nil
}
