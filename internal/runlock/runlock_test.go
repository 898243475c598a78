package runlock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/birthday-scheduler/internal/runlock"
)

func testLocker(t *testing.T, l runlock.Locker) {
	t.Helper()
	ctx := context.Background()

	release, err := l.TryAcquire(ctx, "scheduler:birthday", time.Minute)
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx, "scheduler:birthday", time.Minute)
	assert.ErrorIs(t, err, runlock.ErrHeld)

	other, err := l.TryAcquire(ctx, "scheduler:anniversary", time.Minute)
	require.NoError(t, err, "keys are independent")
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))
	require.NoError(t, release(ctx), "double release is harmless")

	again, err := l.TryAcquire(ctx, "scheduler:birthday", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestLocalLocker(t *testing.T) {
	testLocker(t, runlock.NewLocalLocker())
}

func TestRedisLocker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	testLocker(t, runlock.NewRedisLocker(rdb))
}

func TestRedisLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	l := runlock.NewRedisLocker(rdb)
	ctx := context.Background()

	stale, err := l.TryAcquire(ctx, "scheduler:birthday", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	_, err = l.TryAcquire(ctx, "scheduler:birthday", time.Minute)
	require.NoError(t, err, "expired lock can be re-taken")

	require.NoError(t, stale(ctx))

	_, err = l.TryAcquire(ctx, "scheduler:birthday", time.Minute)
	assert.ErrorIs(t, err, runlock.ErrHeld, "stale release must not free the new holder")
}
