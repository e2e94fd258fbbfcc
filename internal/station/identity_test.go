package station

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gamedock/internal/api"
)

// flakyLookup fails the first N calls, then resolves.
type flakyLookup struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (l *flakyLookup) StationByMAC(_ context.Context, _ string) (*api.Station, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.failures {
		return nil, errors.New("dial tcp: connection refused")
	}
	return &api.Station{ID: "7", Name: "Station 7"}, nil
}

func (l *flakyLookup) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func pinHardwareAddress(t *testing.T, mac string) {
	t.Helper()
	prev := hardwareAddress
	hardwareAddress = func() (string, error) { return mac, nil }
	t.Cleanup(func() { hardwareAddress = prev })
}

func TestResolvePinnedConfigSkipsDirectory(t *testing.T) {
	lookup := &flakyLookup{}
	identity, err := Resolve(context.Background(), "12", "Corner Station", lookup, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, Identity{ID: "12", Name: "Corner Station"}, identity)
	assert.Equal(t, 0, lookup.callCount())
}

func TestResolveRetriesUntilDirectoryAnswers(t *testing.T) {
	pinHardwareAddress(t, "aa:bb:cc:dd:ee:ff")
	lookup := &flakyLookup{failures: 2}
	clock := clockwork.NewFakeClock()

	type result struct {
		identity Identity
		err      error
	}
	done := make(chan result, 1)
	go func() {
		identity, err := ResolveWithRetry(context.Background(), "", "", lookup, clock, 5*time.Second, zap.NewNop())
		done <- result{identity, err}
	}()

	// Two failed attempts, each followed by a backoff sleep.
	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(5 * time.Second)
	}

	select {
	case res := <-done:
		require.NoError(t, res.err)
		assert.Equal(t, "7", res.identity.ID)
		assert.Equal(t, 3, lookup.callCount())
	case <-time.After(3 * time.Second):
		t.Fatal("resolution never completed")
	}
}

func TestResolveRetryStopsOnCancel(t *testing.T) {
	pinHardwareAddress(t, "aa:bb:cc:dd:ee:ff")
	lookup := &flakyLookup{failures: 1000}
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := ResolveWithRetry(ctx, "", "", lookup, clock, 5*time.Second, zap.NewNop())
		done <- err
	}()

	clock.BlockUntil(1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("retry loop never observed cancellation")
	}
}
