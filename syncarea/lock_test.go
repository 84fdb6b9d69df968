package syncarea

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockManager_TargetLocks(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "production")
	m := NewLockManager("", nil)

	require.False(t, m.IsLocked(dir))
	require.NoError(t, m.Lock(dir))
	require.True(t, m.IsLocked(dir))

	data, err := os.ReadFile(filepath.Join(dir, LockFileName))
	require.NoError(t, err)
	require.NotEmpty(t, data, "marker carries the lock timestamp")

	require.NoError(t, m.Unlock(dir))
	require.False(t, m.IsLocked(dir))
	require.NoError(t, m.Unlock(dir), "unlocking twice is not an error")
}

func TestLockManager_ModuleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "module.lock")
	m := NewLockManager(path, nil)

	require.False(t, m.ModuleLocked())
	require.NoError(t, m.LockModule())
	require.True(t, m.ModuleLocked())
	require.NoError(t, m.UnlockModule())
	require.False(t, m.ModuleLocked())
	require.NoError(t, m.UnlockModule())
}

func TestLockManager_ModuleLockUnconfigured(t *testing.T) {
	m := NewLockManager("", nil)
	require.False(t, m.ModuleLocked())
	require.Error(t, m.LockModule())
}
