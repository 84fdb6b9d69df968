// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncarea

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LockFileName is the marker file flagging a target directory as locked.
// A locked target never receives a dump copy; unlocked siblings still do.
const LockFileName = ".lock"

// LockManager tracks per-target lock files and the module-wide lock.
// Locking is purely presence-based: a target is locked while the marker
// file exists in its directory. There are no wait semantics.
type LockManager struct {
	moduleLockPath string
	logger         *slog.Logger
}

// NewLockManager creates a lock manager. moduleLockPath is the flag file
// gating the whole module (admin-togglable); it lives outside any target
// directory.
func NewLockManager(moduleLockPath string, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		moduleLockPath: moduleLockPath,
		logger:         logger,
	}
}

// IsLocked reports whether the target directory carries a lock marker
func (m *LockManager) IsLocked(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, LockFileName))
	return err == nil
}

// Lock places a lock marker in the target directory
func (m *LockManager) Lock(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, LockFileName)
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to lock target %s: %w", dir, err)
	}
	m.logger.Info("Target locked", "dir", dir)
	return nil
}

// Unlock removes the lock marker from the target directory. Unlocking an
// already unlocked target is not an error.
func (m *LockManager) Unlock(dir string) error {
	err := os.Remove(filepath.Join(dir, LockFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to unlock target %s: %w", dir, err)
	}
	m.logger.Info("Target unlocked", "dir", dir)
	return nil
}

// ModuleLocked reports whether the module-wide lock is set
func (m *LockManager) ModuleLocked() bool {
	if m.moduleLockPath == "" {
		return false
	}
	_, err := os.Stat(m.moduleLockPath)
	return err == nil
}

// LockModule sets the module-wide lock, gating every run regardless of
// per-target locks.
func (m *LockManager) LockModule() error {
	if m.moduleLockPath == "" {
		return fmt.Errorf("no module lock path configured")
	}
	if err := os.MkdirAll(filepath.Dir(m.moduleLockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create module lock directory: %w", err)
	}
	content := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(m.moduleLockPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to set module lock: %w", err)
	}
	return nil
}

// UnlockModule clears the module-wide lock
func (m *LockManager) UnlockModule() error {
	err := os.Remove(m.moduleLockPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to clear module lock: %w", err)
	}
	return nil
}
