package messagebus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcommerce/messagebus/pkg/runtime/messagebus"
)

type stubBus struct {
	startErr  error
	connected bool

	started bool
	stopped bool
	closed  bool
}

func (b *stubBus) StartConsuming(ctx context.Context) error {
	b.started = true
	return b.startErr
}

func (b *stubBus) StopConsuming() error {
	b.stopped = true
	return nil
}

func (b *stubBus) Close() error {
	b.closed = true
	return nil
}

func (b *stubBus) IsConnected() bool { return b.connected }

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	bus := &stubBus{connected: true}
	svc := messagebus.New(bus)

	assert.Equal(t, "messagebus", svc.Name())

	require.NoError(t, svc.Start(ctx))
	assert.True(t, bus.started)

	require.NoError(t, svc.HealthCheck(ctx))

	require.NoError(t, svc.Stop(ctx))
	assert.True(t, bus.stopped)
	assert.True(t, bus.closed)
}

func TestServiceStartFailure(t *testing.T) {
	bus := &stubBus{startErr: errors.New("broker unreachable")}
	svc := messagebus.New(bus)

	err := svc.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
}

func TestServiceHealthReflectsConnection(t *testing.T) {
	bus := &stubBus{connected: false}
	svc := messagebus.New(bus, messagebus.WithName("catalog-bus"))

	assert.Equal(t, "catalog-bus", svc.Name())
	assert.Error(t, svc.HealthCheck(context.Background()))
}
