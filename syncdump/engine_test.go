package syncdump

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netresearch/t3x-sync-sub000/syncarea"
)

type engineFixture struct {
	engine   *Engine
	db       *sql.DB
	staging  string
	target   string
	locks    *syncarea.LockManager
	notified *[]string
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	db := openTestDB(t)
	staging := t.TempDir()
	target := t.TempDir()

	var notified []string
	notifier := syncarea.NotifierFunc(func(ctx context.Context, area *syncarea.Area) error {
		notified = append(notified, area.Name)
		return nil
	})
	locks := syncarea.NewLockManager(filepath.Join(target, "module.lock"), nil)

	cfg := &Config{
		StagingDir:   staging,
		TargetRoot:   target,
		SnapshotPath: filepath.Join(staging, "snapshot.json"),
		Areas: []syncarea.Area{
			{
				ID:   1,
				Name: "live",
				Systems: []syncarea.System{
					{Name: "production", Directory: "production"},
					{Name: "integration", Directory: "integration"},
				},
			},
		},
	}

	engine, err := NewEngine(db, cfg, NewDBSchemaProvider(db, testSchemaConfig()), locks, notifier, nil)
	require.NoError(t, err)
	engine.now = func() time.Time { return time.Date(2024, 5, 1, 14, 30, 45, 0, time.UTC) }

	return &engineFixture{engine: engine, db: db, staging: staging, target: target,
		locks: locks, notified: &notified}
}

func (f *engineFixture) seedPage(t *testing.T, uid int64, title string, tstamp int64) {
	t.Helper()
	_, err := f.db.Exec(`INSERT INTO pages (uid, pid, title, tstamp) VALUES (?, 0, ?, ?)`, uid, title, tstamp)
	require.NoError(t, err)
}

func TestEngine_CreateDumpToAreas_Distributes(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPage(t, 1, "Home", 500)
	f.seedPage(t, 2, "About", 600)

	req := &SyncRequest{
		Tables:   []Table{{Name: "pages", ForceFullSync: true}},
		Filename: "db.sql",
	}
	require.NoError(t, f.engine.CreateDumpToAreas(context.Background(), req))

	for _, sys := range []string{"production", "integration"} {
		name := fmt.Sprintf("full_%s_20240501-143045_db.sql.gz", sys)
		_, err := os.Stat(filepath.Join(f.target, sys, name))
		require.NoError(t, err, "artifact for %s", sys)
	}
	require.Equal(t, []string{"live"}, *f.notified)

	// The staging temp artifacts are gone after distribution.
	entries, err := os.ReadDir(f.staging)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotContains(t, e.Name(), "db.sql")
	}
}

func TestEngine_CreateDumpToAreas_NothingToSync(t *testing.T) {
	f := newEngineFixture(t)

	req := &SyncRequest{Tables: []Table{{Name: "pages"}}, Filename: "db.sql"}
	err := f.engine.CreateDumpToAreas(context.Background(), req)
	require.ErrorIs(t, err, ErrNothingToSync)

	// The discarded staging file must not block the next run (the
	// in-progress guard only holds while a run is actually in flight).
	_, err = os.Stat(filepath.Join(f.staging, "db.sql"))
	require.True(t, os.IsNotExist(err))
}

func TestEngine_CreateDumpToAreas_InProgressGuard(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPage(t, 1, "Home", 500)

	// A leftover same-named staging artifact marks a run in flight.
	require.NoError(t, os.WriteFile(filepath.Join(f.staging, "db.sql"), []byte("partial"), 0o644))

	req := &SyncRequest{Tables: []Table{{Name: "pages", ForceFullSync: true}}, Filename: "db.sql"}
	err := f.engine.CreateDumpToAreas(context.Background(), req)
	require.ErrorIs(t, err, ErrSyncInProgress)
	require.Empty(t, *f.notified, "no notification for a refused run")
}

func TestEngine_CreateDumpToAreas_ModuleLock(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPage(t, 1, "Home", 500)
	require.NoError(t, f.locks.LockModule())

	req := &SyncRequest{Tables: []Table{{Name: "pages", ForceFullSync: true}}, Filename: "db.sql"}
	require.ErrorIs(t, f.engine.CreateDumpToAreas(context.Background(), req), ErrModuleLocked)

	require.NoError(t, f.locks.UnlockModule())
	require.NoError(t, f.engine.CreateDumpToAreas(context.Background(), req))
}

func TestEngine_CreateDumpToAreas_SkipsLockedTarget(t *testing.T) {
	// A locked target directory is skipped, the others still
	// receive the artifact and the area notification still fires.
	f := newEngineFixture(t)
	f.seedPage(t, 1, "Home", 500)

	lockedDir := filepath.Join(f.target, "production")
	require.NoError(t, os.MkdirAll(lockedDir, 0o755))
	require.NoError(t, f.locks.Lock(lockedDir))

	req := &SyncRequest{Tables: []Table{{Name: "pages", ForceFullSync: true}}, Filename: "db.sql"}
	require.NoError(t, f.engine.CreateDumpToAreas(context.Background(), req))

	_, err := os.Stat(filepath.Join(f.target, "production", "full_production_20240501-143045_db.sql.gz"))
	require.True(t, os.IsNotExist(err), "locked target receives nothing")
	_, err = os.Stat(filepath.Join(f.target, "integration", "full_integration_20240501-143045_db.sql.gz"))
	require.NoError(t, err, "unlocked target still receives the artifact")
	require.Equal(t, []string{"live"}, *f.notified)
}

func TestEngine_CreateDumpToAreas_NotifyFailureCleansUp(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPage(t, 1, "Home", 500)
	f.engine.notifier = syncarea.NotifierFunc(func(ctx context.Context, area *syncarea.Area) error {
		return errors.New("ftp unreachable")
	})

	req := &SyncRequest{Tables: []Table{{Name: "pages", ForceFullSync: true}}, Filename: "db.sql"}
	err := f.engine.CreateDumpToAreas(context.Background(), req)
	require.Error(t, err)
	require.Contains(t, err.Error(), "retry in a few minutes")

	for _, sys := range []string{"production", "integration"} {
		entries, err := os.ReadDir(filepath.Join(f.target, sys))
		require.NoError(t, err)
		require.Empty(t, entries, "copied artifacts are removed after failed notify")
	}
}

func TestEngine_CreateDumpToAreas_WritesFlushTokenSidecar(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPage(t, 1, "Home", 500)

	req := &SyncRequest{Tables: []Table{{Name: "pages", ForceFullSync: true}}, Filename: "db.sql"}
	require.NoError(t, f.engine.CreateDumpToAreas(context.Background(), req))

	data, err := os.ReadFile(filepath.Join(f.target, "production", "full_production_20240501-143045_db.txt"))
	require.NoError(t, err)
	require.Equal(t, "pages:1", string(data))
}

func TestEngine_CreateShortDump(t *testing.T) {
	f := newEngineFixture(t)
	f.seedPage(t, 10, "Home", 500)
	f.seedPage(t, 20, "Other", 500)

	dirs := []string{filepath.Join(f.target, "production")}
	req := &SyncRequest{
		Tables:        []Table{{Name: "pages"}},
		Filename:      "page10.sql",
		ForceFullSync: true,
	}
	require.NoError(t, f.engine.CreateShortDump(context.Background(), req, []int64{10}, dirs))

	name := "full_production_20240501-143045_page10.sql.gz"
	_, err := os.Stat(filepath.Join(dirs[0], name))
	require.NoError(t, err)
	require.Empty(t, *f.notified, "short dump bundles no notification")

	require.NoError(t, f.engine.NotifyArea(context.Background(), "live"))
	require.Equal(t, []string{"live"}, *f.notified)
}

func TestEngine_NotifyArea_UnknownSelector(t *testing.T) {
	f := newEngineFixture(t)
	require.Error(t, f.engine.NotifyArea(context.Background(), "nope"))
}
