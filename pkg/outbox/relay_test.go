package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcommerce/messagebus/pkg/messaging"
	"github.com/bcommerce/messagebus/pkg/outbox"
)

// recordingBus captures publishes and can be told to fail.
type recordingBus struct {
	events   []*messaging.Event
	commands []*messaging.Command
	failNext error
}

func (b *recordingBus) PublishEvent(ctx context.Context, event *messaging.Event) error {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) SendCommand(ctx context.Context, cmd *messaging.Command) error {
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return err
	}
	b.commands = append(b.commands, cmd)
	return nil
}

func (b *recordingBus) SubscribeEvent(messageType string, h messaging.Handler) error   { return nil }
func (b *recordingBus) SubscribeCommand(messageType string, h messaging.Handler) error { return nil }
func (b *recordingBus) StartConsuming(ctx context.Context) error                       { return nil }
func (b *recordingBus) StopConsuming() error                                           { return nil }
func (b *recordingBus) Close() error                                                   { return nil }

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	bus := &recordingBus{}
	relay := outbox.NewRelay(store, bus)

	event := messaging.NewEvent("OrderPlacedEvent", orderPlaced{OrderID: "o-1"})
	cmd := messaging.NewCommand("ReserveStockCommand", "InventoryService", nil)
	require.NoError(t, store.StageEvent(ctx, nil, event))
	require.NoError(t, store.StageCommand(ctx, nil, cmd))

	require.NoError(t, relay.Sweep(ctx))

	require.Len(t, bus.events, 1)
	assert.Equal(t, event.ID, bus.events[0].ID)
	require.Len(t, bus.commands, 1)
	assert.Equal(t, cmd.ID, bus.commands[0].ID)

	remaining, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSweep_FailedPublishStaysStaged(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	bus := &recordingBus{failNext: errors.New("broker down")}
	relay := outbox.NewRelay(store, bus)

	require.NoError(t, store.StageEvent(ctx, nil, messaging.NewEvent("FirstEvent", nil)))
	require.NoError(t, store.StageEvent(ctx, nil, messaging.NewEvent("SecondEvent", nil)))

	// The failing row and everything after it stay staged, in order.
	require.Error(t, relay.Sweep(ctx))
	remaining, err := store.Unpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	assert.Equal(t, "FirstEvent", remaining[0].MessageType)

	// The next sweep drains the backlog.
	require.NoError(t, relay.Sweep(ctx))
	remaining, err = store.Unpublished(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	require.Len(t, bus.events, 2)
	assert.Equal(t, "FirstEvent", bus.events[0].Type)
	assert.Equal(t, "SecondEvent", bus.events[1].Type)
}

func TestSweep_BatchSize(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	bus := &recordingBus{}
	relay := outbox.NewRelay(store, bus, outbox.WithBatchSize(2))

	for _, name := range []string{"A", "B", "C"} {
		require.NoError(t, store.StageEvent(ctx, nil, messaging.NewEvent(name+"Event", nil)))
	}

	require.NoError(t, relay.Sweep(ctx))
	assert.Len(t, bus.events, 2)

	require.NoError(t, relay.Sweep(ctx))
	assert.Len(t, bus.events, 3)
}

func TestRelayLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	bus := &recordingBus{}
	relay := outbox.NewRelay(store, bus, outbox.WithInterval(10*time.Millisecond))

	require.NoError(t, store.StageEvent(ctx, nil, messaging.NewEvent("TickedEvent", nil)))

	require.NoError(t, relay.Start(ctx))

	deadline := time.After(2 * time.Second)
	for {
		remaining, err := store.Unpublished(ctx, 10)
		require.NoError(t, err)
		if len(remaining) == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("relay never published the staged message")
		case <-time.After(10 * time.Millisecond):
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, relay.Stop(stopCtx))
}

func TestRelayStopWithoutStart(t *testing.T) {
	relay := outbox.NewRelay(newTestStore(t), &recordingBus{})
	require.NoError(t, relay.Stop(context.Background()))
}
