package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLeaseStoreAcquire(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryLeaseStore(30*time.Second, clock)
	ctx := context.Background()

	ok, err := store.Acquire(ctx, "provision:abc")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, "provision:abc")
	require.NoError(t, err)
	assert.False(t, ok, "held lease must not be re-acquired")

	clock.Advance(31 * time.Second)
	ok, err = store.Acquire(ctx, "provision:abc")
	require.NoError(t, err)
	assert.True(t, ok, "expired lease is free again")
}

func TestMemoryLeaseStoreRelease(t *testing.T) {
	store := NewMemoryLeaseStore(time.Minute, clockwork.NewFakeClock())
	ctx := context.Background()

	ok, _ := store.Acquire(ctx, "k")
	require.True(t, ok)
	require.NoError(t, store.Release(ctx, "k"))

	ok, err := store.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLeaseStoreCounterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := NewMemoryLeaseStore(time.Minute, clock)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.Increment(ctx, "ratelimit:p1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	clock.Advance(61 * time.Second)
	got, err := store.Increment(ctx, "ratelimit:p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got, "counter resets after the window")
}
