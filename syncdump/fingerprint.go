// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// SchemaSnapshot maps table names to their ordered column-name lists.
// It only exists to detect "table changed since we last looked" for
// admin warnings; it is distinct from the sync watermarks.
type SchemaSnapshot map[string][]string

// SchemaFingerprint captures and compares schema snapshots
type SchemaFingerprint struct {
	provider  SchemaProvider
	statePath string
	logger    *slog.Logger
}

// NewSchemaFingerprint creates a fingerprint component persisting its
// snapshot artifact at statePath.
func NewSchemaFingerprint(provider SchemaProvider, statePath string, logger *slog.Logger) *SchemaFingerprint {
	if logger == nil {
		logger = slog.Default()
	}
	return &SchemaFingerprint{
		provider:  provider,
		statePath: statePath,
		logger:    logger,
	}
}

// Snapshot reads the live schema of the given tables
func (f *SchemaFingerprint) Snapshot(ctx context.Context, tables []string) (SchemaSnapshot, error) {
	snapshot := make(SchemaSnapshot, len(tables))
	for _, table := range tables {
		cols, err := f.provider.Columns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to snapshot %s: %w", table, err)
		}
		snapshot[table] = cols
	}
	return snapshot, nil
}

// Differs reports whether the live column list of a table drifted from
// the stored snapshot: absent from the snapshot, vanished live, or an
// order-sensitive column list mismatch.
func (f *SchemaFingerprint) Differs(stored SchemaSnapshot, table string, live []string) bool {
	storedCols, ok := stored[table]
	if !ok {
		return true
	}
	if len(live) == 0 {
		return true
	}
	return strings.Join(storedCols, ",") != strings.Join(live, ",")
}

// WarnOnDrift compares the stored snapshot against the live schema and
// surfaces one aggregated warning naming every drifted table. Advisory
// only; a drifted schema never blocks the run.
func (f *SchemaFingerprint) WarnOnDrift(ctx context.Context, tables []string) ([]string, error) {
	stored, err := f.Load()
	if err != nil {
		return nil, err
	}

	var drifted []string
	for _, table := range tables {
		live, err := f.provider.Columns(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if f.Differs(stored, table, live) {
			drifted = append(drifted, table)
		}
	}

	if len(drifted) > 0 {
		f.logger.Warn("Table definitions changed since the last snapshot",
			"tables", strings.Join(drifted, ", "))
	}
	return drifted, nil
}

// Regenerate captures a fresh snapshot of the given tables and persists
// it wholesale, replacing the previous artifact.
func (f *SchemaFingerprint) Regenerate(ctx context.Context, tables []string) error {
	snapshot, err := f.Snapshot(ctx, tables)
	if err != nil {
		return err
	}
	return f.Store(snapshot)
}

// Load reads the persisted snapshot artifact. A missing artifact is an
// empty snapshot (every table reads as drifted until regenerated).
func (f *SchemaFingerprint) Load() (SchemaSnapshot, error) {
	data, err := os.ReadFile(f.statePath)
	if errors.Is(err, os.ErrNotExist) {
		return SchemaSnapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema snapshot: %w", err)
	}
	var snapshot SchemaSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode schema snapshot: %w", err)
	}
	return snapshot, nil
}

// Store persists the snapshot artifact
func (f *SchemaFingerprint) Store(snapshot SchemaSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode schema snapshot: %w", err)
	}
	if err := os.WriteFile(f.statePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write schema snapshot: %w", err)
	}
	return nil
}
