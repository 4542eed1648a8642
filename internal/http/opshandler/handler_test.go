package opshandler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"realtimesvc/internal/locks"
	"realtimesvc/internal/presence"
	"realtimesvc/internal/redis/connmgr"
)

func newFixture(t *testing.T) (*gin.Engine, *connmgr.Manager, *presence.Tracker, *locks.Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	mgr := connmgr.New(connmgr.Options{
		Host:            mr.Host(),
		Port:            uint16(port),
		ConnectAttempts: 3,
		BackoffStep:     time.Millisecond,
		BackoffCap:      5 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, mgr.Connect(context.Background()))
	t.Cleanup(func() { _ = mgr.Close() })

	tracker := presence.NewTracker(mgr.Command(), 30*time.Second, zap.NewNop())
	lockMgr := locks.NewManager(mgr.Command(), 30*time.Second, 5*time.Minute, zap.NewNop())

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	New(mgr, tracker, lockMgr).Register(engine)
	return engine, mgr, tracker, lockMgr
}

func doGet(engine *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	engine.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	engine, mgr, _, _ := newFixture(t)

	w := doGet(engine, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)

	// After Close the manager reports unhealthy until a fresh Connect.
	require.NoError(t, mgr.Close())
	w = doGet(engine, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPresenceListing(t *testing.T) {
	engine, _, tracker, _ := newFixture(t)
	ctx := context.Background()

	require.NoError(t, tracker.Join(ctx, "district-1", "u1"))
	require.NoError(t, tracker.Join(ctx, "district-1", "u2"))

	w := doGet(engine, "/presence/district-1")
	require.Equal(t, http.StatusOK, w.Code)

	var out OnlineResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.ElementsMatch(t, []string{"u1", "u2"}, out.Online)
}

func TestUserPresenceView(t *testing.T) {
	engine, _, tracker, _ := newFixture(t)
	ctx := context.Background()

	w := doGet(engine, "/presence/district-1/u1")
	require.Equal(t, http.StatusOK, w.Code)
	var out UserPresenceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.False(t, out.Online)

	require.NoError(t, tracker.Join(ctx, "district-1", "u1"))

	w = doGet(engine, "/presence/district-1/u1")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.True(t, out.Online)
	require.Equal(t, "online", out.Status)
	require.WithinDuration(t, time.Now().UTC(), out.LastSeenAt, 5*time.Second)

	// A different user in the same tenant stays offline.
	w = doGet(engine, "/presence/district-1/u2")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.False(t, out.Online)
}

func TestDocumentLockView(t *testing.T) {
	engine, _, _, lockMgr := newFixture(t)
	ctx := context.Background()

	w := doGet(engine, "/documents/doc1/lock")
	require.Equal(t, http.StatusOK, w.Code)
	var out LockResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.False(t, out.Locked)

	token, ok, err := lockMgr.Acquire(ctx, locks.DocumentScope("doc1"), "alice", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	w = doGet(engine, "/documents/doc1/lock")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.True(t, out.Locked)
	require.Equal(t, "alice", out.HolderID)
	// The holder token must never be exposed.
	require.NotContains(t, w.Body.String(), token)

	w = doGet(engine, "/documents/doc1/lock?element_id=el1")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.False(t, out.Locked)
}
