package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTracker(rdb, 30*time.Second, zap.NewNop()), mr
}

func TestJoinAndListOnline(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "district-1", "u1"))
	require.NoError(t, tr.Join(ctx, "district-1", "u2"))
	require.NoError(t, tr.Join(ctx, "district-2", "u3"))

	online, err := tr.ListOnline(ctx, "district-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"u1", "u2"}, online)

	online, err = tr.ListOnline(ctx, "district-2")
	require.NoError(t, err)
	require.Equal(t, []string{"u3"}, online)
}

func TestExpiredRecordDisappears(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "district-1", "u1"))

	mr.FastForward(31 * time.Second)

	online, err := tr.ListOnline(ctx, "district-1")
	require.NoError(t, err)
	require.Empty(t, online)

	// The stale member was pruned from the online set, not just filtered.
	n, err := tr.rdb.ZCard(ctx, onlineKey("district-1")).Result()
	require.NoError(t, err)
	require.Zero(t, n)

	rec, err := tr.Get(ctx, "district-1", "u1")
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestHeartbeatKeepsUserOnline(t *testing.T) {
	tr, mr := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "district-1", "u1"))

	mr.FastForward(20 * time.Second)
	require.NoError(t, tr.Heartbeat(ctx, "district-1", "u1"))
	mr.FastForward(20 * time.Second)

	online, err := tr.ListOnline(ctx, "district-1")
	require.NoError(t, err)
	require.Equal(t, []string{"u1"}, online)
}

func TestLeaveRemovesImmediately(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "district-1", "u1"))
	require.NoError(t, tr.Leave(ctx, "district-1", "u1"))

	online, err := tr.ListOnline(ctx, "district-1")
	require.NoError(t, err)
	require.Empty(t, online)
}

func TestKeyConventions(t *testing.T) {
	require.Equal(t, "presence:district-1:user:u1", userKey("district-1", "u1"))
	require.Equal(t, "presence:district-1:online", onlineKey("district-1"))
}

func TestGetRecord(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	require.NoError(t, tr.Join(ctx, "district-1", "u1"))

	rec, err := tr.Get(ctx, "district-1", "u1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, "online", rec.Status)
	require.WithinDuration(t, time.Now().UTC(), rec.LastSeenAt, 5*time.Second)
}
