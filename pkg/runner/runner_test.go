package runner_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bcommerce/messagebus/pkg/runner"
)

// stubService records lifecycle calls on a shared journal so ordering can
// be asserted across services.
type stubService struct {
	name     string
	startErr error
	stopErr  error

	journal *journal
}

type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) all() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Start(ctx context.Context) error {
	s.journal.add("start:" + s.name)
	return s.startErr
}

func (s *stubService) Stop(ctx context.Context) error {
	s.journal.add("stop:" + s.name)
	return s.stopErr
}

func TestRun_StartsInOrderStopsOnCancel(t *testing.T) {
	j := &journal{}
	a := &stubService{name: "a", journal: j}
	b := &stubService{name: "b", journal: j}

	r := runner.New([]runner.Service{a, b})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	// Give Run a moment to bring both services up, then trigger shutdown.
	require.Eventually(t, func() bool {
		entries := j.all()
		return len(entries) == 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	entries := j.all()
	require.Len(t, entries, 4)
	assert.Equal(t, []string{"start:a", "start:b"}, entries[:2])
	// Stops run concurrently; both must have happened.
	assert.ElementsMatch(t, []string{"stop:a", "stop:b"}, entries[2:])
}

func TestRun_FailedStartStopsStartedServices(t *testing.T) {
	j := &journal{}
	a := &stubService{name: "a", journal: j}
	b := &stubService{name: "b", journal: j, startErr: errors.New("port in use")}
	c := &stubService{name: "c", journal: j}

	r := runner.New([]runner.Service{a, b, c})

	err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start b")

	entries := j.all()
	assert.Equal(t, []string{"start:a", "start:b", "stop:a"}, entries)
}

func TestRun_StopErrorsAreReported(t *testing.T) {
	j := &journal{}
	a := &stubService{name: "a", journal: j, stopErr: errors.New("flush failed")}

	r := runner.New([]runner.Service{a})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stop a")
}

type healthyService struct {
	stubService
	healthErr error
}

func (s *healthyService) HealthCheck(ctx context.Context) error { return s.healthErr }

func TestHealthCheck(t *testing.T) {
	j := &journal{}
	plain := &stubService{name: "plain", journal: j}
	healthy := &healthyService{stubService: stubService{name: "healthy", journal: j}}
	sick := &healthyService{
		stubService: stubService{name: "sick", journal: j},
		healthErr:   errors.New("connection lost"),
	}

	t.Run("AllHealthy", func(t *testing.T) {
		r := runner.New([]runner.Service{plain, healthy})
		require.NoError(t, r.HealthCheck(context.Background()))
	})

	t.Run("OneUnhealthy", func(t *testing.T) {
		r := runner.New([]runner.Service{plain, sick})
		err := r.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sick")
	})
}
