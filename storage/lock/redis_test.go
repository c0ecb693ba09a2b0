package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// newTestSequencer connects to the Redis named by OPENRATE_TEST_REDIS or skips.
func newTestSequencer(t *testing.T) *Sequencer {
	t.Helper()
	addr := os.Getenv("OPENRATE_TEST_REDIS")
	if addr == "" {
		t.Skip("OPENRATE_TEST_REDIS not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seq, err := Dial(ctx, Config{Addr: addr, TTL: 5 * time.Second, RetryInterval: 5 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = seq.Close() })
	return seq
}

func TestSequencerExcludesConcurrentHolders(t *testing.T) {
	seq := newTestSequencer(t)
	key := "market:" + uuid.NewString()

	release, err := seq.Acquire(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	_, err = seq.Acquire(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()

	again, err := seq.Acquire(context.Background(), key)
	require.NoError(t, err)
	again()
}

func TestReleaseIgnoresForeignToken(t *testing.T) {
	seq := newTestSequencer(t)
	key := "market:" + uuid.NewString()
	ctx := context.Background()

	release, err := seq.Acquire(ctx, key)
	require.NoError(t, err)
	// Simulate TTL expiry followed by another holder.
	require.NoError(t, seq.rdb.Set(ctx, keyPrefix+key, "other", time.Minute).Err())
	release()

	val, err := seq.rdb.Get(ctx, keyPrefix+key).Result()
	require.NoError(t, err)
	require.Equal(t, "other", val)
	require.NoError(t, seq.rdb.Del(ctx, keyPrefix+key).Err())
}

func TestNewAppliesDefaults(t *testing.T) {
	seq := New(nil, 0, 0)
	require.Equal(t, defaultTTL, seq.ttl)
	require.Equal(t, defaultRetry, seq.retry)
}
