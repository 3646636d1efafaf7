package internal

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLocks(t *testing.T) *sourceLocks {
	mr := miniredis.RunT(t)
	return newSourceLocks(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestSourceLockContention(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	locks := testLocks(t)

	release, err := locks.acquire(ctx, 42)
	require.NoError(t, err)

	// Second holder is refused while the first is running.
	_, err = locks.acquire(ctx, 42)
	assert.ErrorIs(t, err, errSyncRunning)
	assert.True(t, IsLockedErr(err))

	// A different source is unaffected.
	release2, err := locks.acquire(ctx, 43)
	require.NoError(t, err)
	release2()

	// After release the source is free again.
	release()
	release3, err := locks.acquire(ctx, 42)
	require.NoError(t, err)
	release3()
}

func TestSourceLockTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	locks := newSourceLocks(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	_, err := locks.acquire(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, _syncLockTTL, mr.TTL(lockKey(7)))

	// A crashed holder never releases; expiry frees the source anyway.
	mr.FastForward(_syncLockTTL)
	release, err := locks.acquire(ctx, 7)
	require.NoError(t, err)
	release()
}

func TestSourceLockReleaseIdempotentKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	locks := newSourceLocks(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	release, err := locks.acquire(ctx, 9)
	require.NoError(t, err)

	// Releasing after expiry must not blow up.
	mr.FastForward(_syncLockTTL)
	release()
	assert.False(t, mr.Exists(lockKey(9)))
}
