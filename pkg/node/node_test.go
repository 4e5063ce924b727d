package node

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeBrosOfficial/fitsync/pkg/config"
	"github.com/DeBrosOfficial/fitsync/pkg/dashboard"
	"github.com/DeBrosOfficial/fitsync/pkg/feed"
	"github.com/DeBrosOfficial/fitsync/pkg/logging"
	"github.com/DeBrosOfficial/fitsync/pkg/session"
	"github.com/DeBrosOfficial/fitsync/pkg/source/p2p"
)

func TestCalculateNextBackoff(t *testing.T) {
	if got := calculateNextBackoff(10 * time.Second); got <= 10*time.Second || got > 15*time.Second {
		t.Fatalf("unexpected next: %v", got)
	}
	if got := calculateNextBackoff(10 * time.Minute); got != 10*time.Minute {
		t.Fatalf("cap not applied: %v", got)
	}
}

func TestAddJitter(t *testing.T) {
	base := 10 * time.Second
	min := base - time.Duration(0.2*float64(base))
	max := base + time.Duration(0.2*float64(base))
	for i := 0; i < 100; i++ {
		got := addJitter(base)
		if got < time.Second || got < min || got > max {
			t.Fatalf("jitter out of range: %v", got)
		}
	}
}

func TestLoadOrCreateIdentity(t *testing.T) {
	logger := logging.NewNop()

	priv, err := loadOrCreateIdentity("", logger)
	require.NoError(t, err)
	assert.Nil(t, priv)

	path := filepath.Join(t.TempDir(), "keys", "identity.key")
	first, err := loadOrCreateIdentity(path, logger)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := loadOrCreateIdentity(path, logger)
	require.NoError(t, err)
	assert.True(t, first.Equals(second), "identity must be stable across restarts")
}

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "fitsync.db")
	db, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE pipelines (
		id TEXT PRIMARY KEY, user_id TEXT, name TEXT, provider TEXT, status TEXT,
		last_run_at TEXT, updated_at INTEGER)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE pending_inputs (
		id TEXT PRIMARY KEY, user_id TEXT, pipeline_id TEXT, kind TEXT, prompt TEXT,
		created_at TEXT, resolved_at TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO pipelines VALUES ('p1', 'u1', 'Strava', 'strava', 'ok', NULL, 100)`)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Source.SQL.Driver = "sqlite3"
	cfg.Source.SQL.DSN = dsn
	cfg.Source.SQL.PollInterval = 20 * time.Millisecond
	return cfg
}

func TestNode_SQLSourceEndToEnd(t *testing.T) {
	cfg := sqliteConfig(t)
	n := NewNode(cfg, logging.NewNop())
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	require.NotNil(t, n.SnapshotCache())
	assert.Empty(t, n.PeerID())

	f, err := n.Service().Pipelines(session.Static("u1"), 0)
	require.NoError(t, err)
	defer f.Close()
	f.Start()

	st := f.State()
	require.NotNil(t, st.Data, "first query runs during attach")
	assert.Equal(t, feed.PhaseActive, st.Phase)
	assert.Equal(t, "Strava", (*st.Data)[0].Name)

	key, err := n.Service().Key("u1", dashboard.ChannelPipelines, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok, err := n.SnapshotCache().Load(context.Background(), key)
		return err == nil && ok
	}, 2*time.Second, 10*time.Millisecond, "snapshots are mirrored to the cache")
}

func TestNode_P2PSource(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.Kind = config.SourceP2P
	cfg.Source.P2P.ListenAddresses = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.Cache.Kind = config.CacheNone

	n := NewNode(cfg, logging.NewNop())
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	assert.NotEmpty(t, n.PeerID())
	assert.Nil(t, n.SnapshotCache())

	f, err := n.Service().PendingCount(session.Static("u1"))
	require.NoError(t, err)
	defer f.Close()
	f.Start()

	require.Eventually(t, func() bool {
		_ = p2p.PublishRows(context.Background(), n.Publisher(), dashboard.ChannelPendingInputs, "u1",
			feed.Rows{{"id": "i1"}, {"id": "i2"}})
		st := f.State()
		return st.Data != nil && *st.Data == 2
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNode_StartFailures(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Source.Kind = "carrier-pigeon"
	n := NewNode(cfg, logging.NewNop())
	err := n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start carrier-pigeon source: ")

	cfg = sqliteConfig(t)
	cfg.Cache.Kind = "redis"
	n = NewNode(cfg, logging.NewNop())
	err = n.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start redis cache: ")
}
