package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"party-matchmaking/models"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	zerolog.SetGlobalLevel(zerolog.Disabled)
	dsn := filepath.Join(t.TempDir(), "friends.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Friendship{}))
	return db
}

func friendshipServer(t *testing.T, responses ...[]RemoteFriendship) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, friendshipsEndpoint, r.URL.Path)
		assert.Equal(t, "svc-token", r.Header.Get("X-Service-Token"))
		assert.NotEmpty(t, r.URL.Query().Get("since"))
		n := int(calls.Add(1)) - 1
		var batch []RemoteFriendship
		if n < len(responses) {
			batch = responses[n]
		}
		_ = json.NewEncoder(w).Encode(GetFriendshipChangesResponse{Friendships: batch})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestSyncBatchUpsertsFriendships(t *testing.T) {
	db := newTestDB(t)
	t1 := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	srv, _ := friendshipServer(t,
		[]RemoteFriendship{
			{ID: "f1", PlayerID: "alice", FriendID: "bob", Status: "pending", CreatedAt: t1, UpdatedAt: t1},
			{ID: "f2", PlayerID: "carol", FriendID: "", Status: "accepted"},
		},
		[]RemoteFriendship{
			{ID: "f1", PlayerID: "alice", FriendID: "bob", Status: models.FriendshipStatusAccepted, CreatedAt: t1, UpdatedAt: t2},
		},
	)
	worker := NewFriendSyncWorker(db, clockwork.NewFakeClockAt(t1), srv.URL, "svc-token", time.Minute, srv.Client())
	ctx := context.Background()

	n, err := worker.syncBatch(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, worker.getLastSyncTime(ctx).Equal(t1))

	n, err = worker.syncBatch(ctx, worker.getLastSyncTime(ctx))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var edges []models.Friendship
	require.NoError(t, db.Find(&edges).Error)
	require.Len(t, edges, 1)
	assert.Equal(t, models.FriendshipStatusAccepted, edges[0].Status)
	assert.True(t, worker.getLastSyncTime(ctx).Equal(t2))
}

func TestSyncBatchRejectsBadStatus(t *testing.T) {
	db := newTestDB(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	worker := NewFriendSyncWorker(db, clockwork.NewRealClock(), srv.URL, "svc-token", time.Minute, srv.Client())
	_, err := worker.syncBatch(context.Background(), time.Time{})
	assert.ErrorContains(t, err, "502")
}

func TestLastSyncTimeOnEmptyMirror(t *testing.T) {
	worker := NewFriendSyncWorker(newTestDB(t), clockwork.NewRealClock(), "http://unused", "svc-token", time.Minute, http.DefaultClient)
	assert.True(t, worker.getLastSyncTime(context.Background()).Equal(time.Unix(0, 0)))
}

func TestWorkerRunsInitialSyncOnStart(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	srv, calls := friendshipServer(t, []RemoteFriendship{
		{ID: "f1", PlayerID: "alice", FriendID: "bob", Status: models.FriendshipStatusAccepted, CreatedAt: now, UpdatedAt: now},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	NewFriendSyncWorker(db, clockwork.NewFakeClockAt(now), srv.URL, "svc-token", time.Minute, srv.Client()).Start(ctx)

	require.Eventually(t, func() bool {
		var n int64
		if err := db.Model(&models.Friendship{}).Count(&n).Error; err != nil {
			return false
		}
		return n == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}
