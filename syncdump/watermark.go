// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/netresearch/t3x-sync-sub000/internal/auth"
)

// WildcardTable is the watermark row applied as a floor to every table
const WildcardTable = "*"

// watermarkTable is the backing relation of the watermark store
const watermarkTable = "sync_watermark"

// WatermarkStore persists per-table and per-element sync watermarks,
// split into incremental and full timestamps, keyed by (tab, uid) with
// uid 0 meaning the table itself. Losing watermark writes causes silent
// data loss on the next incremental pass, so every store failure is
// fatal to the run.
type WatermarkStore struct {
	db     *sql.DB
	schema SchemaProvider
	logger *slog.Logger
	now    func() time.Time
}

// NewWatermarkStore creates a watermark store over the given handle
func NewWatermarkStore(db *sql.DB, schema SchemaProvider, logger *slog.Logger) *WatermarkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &WatermarkStore{
		db:     db,
		schema: schema,
		logger: logger,
		now:    time.Now,
	}
}

// EnsureSchema creates the backing table when absent
func (s *WatermarkStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+watermarkTable+` (
			tab VARCHAR(255) NOT NULL,
			uid BIGINT NOT NULL DEFAULT 0,
			incr_time BIGINT NOT NULL DEFAULT 0,
			full_time BIGINT NOT NULL DEFAULT 0,
			cruser_id BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (tab, uid)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create watermark table: %w", err)
	}
	return nil
}

// LastSyncTime returns max(incremental, full) across the wildcard row
// and the table's own row. When neither exists the historical epoch
// (Unix 0) is returned, which makes every row eligible.
func (s *WatermarkStore) LastSyncTime(ctx context.Context, table string) (time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT incr_time, full_time FROM `+watermarkTable+`
		WHERE uid = 0 AND tab IN (?, ?)`, WildcardTable, table)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark for %s: %w", table, err)
	}
	defer rows.Close()

	var last int64
	for rows.Next() {
		var incr, full int64
		if err := rows.Scan(&incr, &full); err != nil {
			return time.Time{}, fmt.Errorf("failed to scan watermark for %s: %w", table, err)
		}
		if incr > last {
			last = incr
		}
		if full > last {
			last = full
		}
	}
	if err := rows.Err(); err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark for %s: %w", table, err)
	}
	return time.Unix(last, 0), nil
}

// IsElementSynchronizable reports whether an element belongs in an
// incremental run. MM linking tables are always synchronizable (no
// timestamp tracking). A row without a modification timestamp is never
// synchronizable; a row whose full watermark is at or past its tstamp
// was already fully dumped and is skipped.
func (s *WatermarkStore) IsElementSynchronizable(ctx context.Context, table string, uid int64) (bool, error) {
	if IsMMTable(table) {
		return true, nil
	}

	tstampField := s.schema.ControlFields(table).Tstamp
	if tstampField == "" {
		return false, fmt.Errorf("%w: %s", ErrMissingTstampField, table)
	}

	var tstamp int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE uid = ?", tstampField, table),
		uid,
	).Scan(&tstamp)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read tstamp of %s:%d: %w", table, uid, err)
	}
	if tstamp == 0 {
		return false, nil
	}

	var full int64
	err = s.db.QueryRowContext(ctx, `
		SELECT full_time FROM `+watermarkTable+` WHERE tab = ? AND uid = ?`,
		table, uid,
	).Scan(&full)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read element watermark of %s:%d: %w", table, uid, err)
	}
	return full < tstamp, nil
}

// RecordSync upserts the element's watermark with the current time into
// either the incremental or the full column, attributed to the acting
// user. Safe to call many times per table.
func (s *WatermarkStore) RecordSync(ctx context.Context, table string, uid int64, isFull bool) error {
	column := "incr_time"
	if isFull {
		column = "full_time"
	}
	now := s.now().Unix()
	userID := auth.UserIDOrZero(ctx)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s = ?, cruser_id = ? WHERE tab = ? AND uid = ?", watermarkTable, column),
		now, userID, table, uid)
	if err != nil {
		return fmt.Errorf("failed to record sync for %s:%d: %w", table, uid, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record sync for %s:%d: %w", table, uid, err)
	}
	if affected > 0 {
		return nil
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (tab, uid, %s, cruser_id) VALUES (?, ?, ?, ?)", watermarkTable, column),
		table, uid, now, userID)
	if err != nil {
		return fmt.Errorf("failed to record sync for %s:%d: %w", table, uid, err)
	}
	return nil
}

// RecordTableSync bumps the table-level (uid 0) watermark after a table
// completed, advancing LastSyncTime for the next incremental run.
func (s *WatermarkStore) RecordTableSync(ctx context.Context, table string, isFull bool) error {
	return s.RecordSync(ctx, table, 0, isFull)
}

// SetWildcard rewrites the wildcard row. Admin operation: the wildcard
// acts as a floor for every table, so a global resync window is forced
// by adjusting this one row.
func (s *WatermarkStore) SetWildcard(ctx context.Context, incr, full time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE `+watermarkTable+` SET incr_time = ?, full_time = ? WHERE tab = ? AND uid = 0`,
		incr.Unix(), full.Unix(), WildcardTable)
	if err != nil {
		return fmt.Errorf("failed to set wildcard watermark: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set wildcard watermark: %w", err)
	}
	if affected > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO `+watermarkTable+` (tab, uid, incr_time, full_time) VALUES (?, 0, ?, ?)`,
		WildcardTable, incr.Unix(), full.Unix())
	if err != nil {
		return fmt.Errorf("failed to set wildcard watermark: %w", err)
	}
	return nil
}
