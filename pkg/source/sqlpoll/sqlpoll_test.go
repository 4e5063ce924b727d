package sqlpoll

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "github.com/DeBrosOfficial/fitsync/pkg/errors"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
)

type sinkRecorder struct {
	mu    sync.Mutex
	snaps []feed.Rows
	errs  []error
}

func (s *sinkRecorder) Push(snapshot any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snapshot.(feed.Rows))
}

func (s *sinkRecorder) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *sinkRecorder) pushes() []feed.Rows {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]feed.Rows(nil), s.snaps...)
}

func (s *sinkRecorder) failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs)
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "feeds.db")
	db, err := Open(context.Background(), "sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE pipelines (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pipelines (id, user_id, name, updated_at) VALUES
		('p1', 'u1', 'Strava sync', 10),
		('p2', 'u1', 'Garmin sync', 20),
		('p3', 'u2', 'Other user', 30)`)
	require.NoError(t, err)
	return db
}

func newTestSource(db *sql.DB) *Source {
	return New(db, Config{
		PollInterval: 10 * time.Millisecond,
		QueryTimeout: time.Second,
		Queries: map[string]Query{
			"pipelines": {
				SQL:  "SELECT id, name, updated_at FROM pipelines WHERE user_id = ? ORDER BY updated_at DESC LIMIT ?",
				Args: []string{ArgPrincipal, "limit"},
			},
		},
	}, logging.NewNop())
}

var target = feed.Target{Principal: "u1", Channel: "pipelines", Params: feed.Params{"limit": "10"}}

func TestSubscribe_FirstSnapshotIsSynchronous(t *testing.T) {
	db := openTestDB(t)
	src := newTestSource(db)

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	defer cancel()

	pushes := sink.pushes()
	require.Len(t, pushes, 1)
	require.Len(t, pushes[0], 2)
	assert.Equal(t, "p2", pushes[0][0]["id"])
	assert.Equal(t, "Garmin sync", pushes[0][0]["name"])
	assert.EqualValues(t, 20, pushes[0][0]["updated_at"])
}

func TestSubscribe_PushesOnlyOnChange(t *testing.T) {
	db := openTestDB(t)
	src := newTestSource(db)

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	defer cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.pushes(), 1, "unchanged results must not be pushed again")

	_, err = db.Exec(`INSERT INTO pipelines (id, user_id, name, updated_at) VALUES ('p4', 'u1', 'Wahoo sync', 40)`)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.pushes()) == 2 }, 2*time.Second, 5*time.Millisecond)
	latest := sink.pushes()[1]
	require.Len(t, latest, 3)
	assert.Equal(t, "p4", latest[0]["id"])
}

func TestSubscribe_FailureThenRecovery(t *testing.T) {
	db := openTestDB(t)
	src := newTestSource(db)

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	defer cancel()

	_, err = db.Exec(`ALTER TABLE pipelines RENAME TO pipelines_old`)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return sink.failures() > 0 }, 2*time.Second, 5*time.Millisecond)

	_, err = db.Exec(`ALTER TABLE pipelines_old RENAME TO pipelines`)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sink.pushes()) >= 2 }, 2*time.Second, 5*time.Millisecond,
		"the first successful poll after a failure pushes even if rows are unchanged")
}

func TestSubscribe_CancelStopsPolling(t *testing.T) {
	db := openTestDB(t)
	src := newTestSource(db)

	var sink sinkRecorder
	cancel, err := src.Subscribe(context.Background(), target, &sink)
	require.NoError(t, err)
	cancel()
	cancel()

	time.Sleep(30 * time.Millisecond)
	_, err = db.Exec(`INSERT INTO pipelines (id, user_id, name, updated_at) VALUES ('p5', 'u1', 'Late', 50)`)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.pushes(), 1)
}

func TestSubscribe_Errors(t *testing.T) {
	db := openTestDB(t)
	src := newTestSource(db)
	var sink sinkRecorder

	_, err := src.Subscribe(context.Background(), feed.Target{Principal: "u1", Channel: "unknown"}, &sink)
	assert.True(t, ferrors.IsNotFound(err))

	_, err = src.Subscribe(context.Background(), feed.Target{Principal: "u1", Channel: "pipelines"}, &sink)
	assert.True(t, ferrors.IsValidation(err), "missing limit param")

	broken := New(db, Config{Queries: map[string]Query{"pipelines": {SQL: "SELECT * FROM nope"}}}, nil)
	_, err = broken.Subscribe(context.Background(), target, &sink)
	assert.Error(t, err)
	assert.Empty(t, sink.pushes())
}

func TestWithRegistry(t *testing.T) {
	db := openTestDB(t)
	reg := feed.NewRegistry(newTestSource(db), logging.NewNop())
	defer reg.Close()

	key := feed.NewKey("u1", "pipelines", feed.Params{"limit": "1"})
	var (
		mu   sync.Mutex
		seen []any
	)
	h, err := reg.Acquire(key, nil, feed.Callback{OnSnapshot: func(s any) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	}})
	require.NoError(t, err)
	defer h.Release()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 1)
	rows := seen[0].(feed.Rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "p2", rows[0]["id"])
}
