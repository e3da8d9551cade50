package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker_ExclusiveUntilReleased(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	got, err := l.Acquire(ctx, "decay", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = l.Acquire(ctx, "decay", time.Minute)
	require.NoError(t, err)
	assert.False(t, got, "second acquire must lose")

	// A different name is independent.
	got, err = l.Acquire(ctx, "cleanup", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, l.Release(ctx, "decay"))
	got, err = l.Acquire(ctx, "decay", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestLocalLocker_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()
	base := time.Now()
	l.clock = func() time.Time { return base }

	got, err := l.Acquire(ctx, "decay", time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	// A crashed holder's lock frees itself once the TTL elapses.
	l.clock = func() time.Time { return base.Add(2 * time.Minute) }
	got, err = l.Acquire(ctx, "decay", time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}
