// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncdump implements the incremental dump-and-sync engine: it
// decides per table whether a full or incremental export is needed,
// generates consistent SQL statement sets (deletes before inserts, with
// de-duplication and obsolete-row cleanup) including dependent reference
// rows, serializes them into an atomic compressed dump file, and fans
// the artifact out to the configured target areas.
package syncdump

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/netresearch/t3x-sync-sub000/syncarea"
)

// Config holds the engine configuration
type Config struct {
	// StagingDir is where temp dump artifacts are created
	StagingDir string
	// TargetRoot is the distribution root the area directories resolve against
	TargetRoot string
	// SnapshotPath is the persisted schema-snapshot artifact
	SnapshotPath string
	// Charset is announced via SET NAMES ("utf8" when empty)
	Charset string
	// PageTable and FileTable override the default table roles
	PageTable string
	FileTable string
	// BatchSize overrides the flush threshold of the statement pipeline
	BatchSize int
	// ReplaceTables lists tables requiring REPLACE INTO semantics
	ReplaceTables []string
	// Areas is the distribution topology
	Areas []syncarea.Area
}

// SyncRequest is the scope selection of one run
type SyncRequest struct {
	Tables             []Table
	Filename           string
	AreaName           string // area selector, "" or "all" for every area
	ForceFullSync      bool
	DeleteObsoleteRows bool
}

// Engine drives a sync run start to finish: dump, compress, distribute,
// notify. Runs are single-threaded and block until completion; there is
// no mid-run abort beyond context cancellation of blocking calls.
type Engine struct {
	cfg *Config

	db          *sql.DB
	schema      SchemaProvider
	watermarks  *WatermarkStore
	writer      *DumpWriter
	builder     *RowSetBuilder
	purger      *ObsoleteRowPurger
	fingerprint *SchemaFingerprint
	locks       *syncarea.LockManager
	notifier    syncarea.Notifier
	logger      *slog.Logger
	now         func() time.Time
}

// NewEngine creates the sync engine and ensures the watermark schema
// exists. The notifier may be nil (no remote handshake).
func NewEngine(db *sql.DB, cfg *Config, schema SchemaProvider,
	locks *syncarea.LockManager, notifier syncarea.Notifier, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.StagingDir == "" {
		return nil, fmt.Errorf("config.StagingDir must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = syncarea.NoopNotifier{}
	}
	if locks == nil {
		locks = syncarea.NewLockManager("", logger)
	}

	watermarks := NewWatermarkStore(db, schema, logger)
	ctx := context.Background()
	if err := watermarks.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	writer := NewDumpWriter(watermarks, logger)
	purger := NewObsoleteRowPurger(schema)
	builder := NewRowSetBuilder(db, schema, writer, purger,
		cfg.PageTable, cfg.FileTable, cfg.BatchSize, cfg.ReplaceTables, logger)
	fingerprint := NewSchemaFingerprint(schema, cfg.SnapshotPath, logger)

	return &Engine{
		cfg:         cfg,
		db:          db,
		schema:      schema,
		watermarks:  watermarks,
		writer:      writer,
		builder:     builder,
		purger:      purger,
		fingerprint: fingerprint,
		locks:       locks,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Watermarks exposes the engine's watermark store (admin operations)
func (e *Engine) Watermarks() *WatermarkStore { return e.watermarks }

// Fingerprint exposes the engine's schema fingerprint component
func (e *Engine) Fingerprint() *SchemaFingerprint { return e.fingerprint }

// CreateDumpToAreas runs a whole-table dump over the requested tables
// and distributes the compressed artifact to every matching area. Each
// table decides full vs incremental on its own; a per-table failure only
// skips that table's contribution. Returns ErrNothingToSync when no
// statement was produced (a successful run with zero artifacts) and
// ErrSyncInProgress when a same-named temp artifact already exists.
func (e *Engine) CreateDumpToAreas(ctx context.Context, req *SyncRequest) error {
	if e.locks.ModuleLocked() {
		return ErrModuleLocked
	}

	areas := syncarea.FindArea(e.cfg.Areas, req.AreaName)
	if len(areas) == 0 {
		return fmt.Errorf("no target area matches %q", req.AreaName)
	}

	tableNames := make([]string, len(req.Tables))
	for i, t := range req.Tables {
		tableNames[i] = t.Name
	}
	if _, err := e.fingerprint.WarnOnDrift(ctx, tableNames); err != nil {
		e.logger.Warn("Schema drift check failed", "error", err)
	}

	dump, err := CreateDumpFile(filepath.Join(e.cfg.StagingDir, req.Filename), e.cfg.Charset)
	if err != nil {
		return err
	}

	run := NewRun(req.ForceFullSync, req.DeleteObsoleteRows)
	anyFull := req.ForceFullSync

	for _, table := range req.Tables {
		full, err := e.builder.WriteDump(ctx, run, table, e.watermarks, dump)
		if err != nil {
			if errors.Is(err, ErrMalformedReferenceRow) {
				dump.Discard()
				return err
			}
			e.logger.Error("Table dump failed, skipping its contribution",
				"table", table.Name, "error", err)
			continue
		}
		if full {
			anyFull = true
		}
	}

	if err := e.writer.FlushObsolete(run, dump); err != nil {
		dump.Discard()
		return err
	}

	if !run.HasOutput() {
		dump.Discard()
		e.logger.Info("No data to sync", "filename", req.Filename)
		return ErrNothingToSync
	}

	if err := e.writer.WriteInsertLines(run, dump); err != nil {
		dump.Discard()
		return err
	}

	gzPath, err := dump.Compress()
	if err != nil {
		return err
	}

	if err := e.distribute(ctx, run, areas, gzPath, req.Filename, anyFull); err != nil {
		return err
	}

	if err := os.Remove(gzPath); err != nil {
		e.logger.Warn("Failed to remove temp artifact", "path", gzPath, "error", err)
	}

	e.logger.Info("Sync run complete",
		"run_id", run.ID,
		"tables", run.Stats.TablesDumped,
		"deletes", run.Stats.DeletesWritten,
		"inserts", run.Stats.InsertsBuffered,
		"full", anyFull)
	return nil
}

// distribute copies the compressed artifact into every unlocked
// directory of each area and triggers the area's remote notification.
// A copy failure is a hard error for the whole call; areas already fully
// copied are not rolled back. A notify failure removes the files just
// copied for that area (best effort) before surfacing the error.
func (e *Engine) distribute(ctx context.Context, run *Run, areas []syncarea.Area,
	gzPath, basename string, full bool) error {
	stamp := e.now()
	tokens := run.FlushTokens()

	for i := range areas {
		area := &areas[i]
		if err := area.EnsureDirectories(e.cfg.TargetRoot); err != nil {
			return err
		}

		var copied []string
		for _, sys := range area.Systems {
			dir := filepath.Join(e.cfg.TargetRoot, sys.Directory)
			if e.locks.IsLocked(dir) {
				e.logger.Warn("Target locked, skipping", "area", area.Name, "dir", dir)
				continue
			}

			name := ArtifactName(full, sys.Name, stamp, basename)
			dest := filepath.Join(dir, name)
			if err := copyFile(gzPath, dest); err != nil {
				return fmt.Errorf("failed to copy dump to %s: %w", dest, err)
			}
			copied = append(copied, dest)

			tokenPath := filepath.Join(dir, FlushTokenName(name))
			if err := WriteFlushTokens(tokenPath, tokens); err != nil {
				return err
			}
			if len(tokens) > 0 {
				copied = append(copied, tokenPath)
			}
		}

		if err := e.notifier.Notify(ctx, area); err != nil {
			for _, path := range copied {
				if rmErr := os.Remove(path); rmErr != nil {
					e.logger.Warn("Cleanup after failed notify incomplete",
						"path", path, "error", rmErr)
				}
			}
			return fmt.Errorf("failed to notify area %s, retry in a few minutes: %w", area.Name, err)
		}
	}
	return nil
}

// CreateShortDump runs the page-scoped dump variant used by the
// single-page sync workflow: per-table page-scoped dumps, the collected
// obsolete-row statements, the buffered insert lines, then compression
// and copy into the given directories. No per-area notification is
// bundled; the caller notifies explicitly afterwards. Unlike the
// whole-table path, any per-table failure aborts the whole run.
func (e *Engine) CreateShortDump(ctx context.Context, req *SyncRequest, pageIDs []int64, dirs []string) error {
	if e.locks.ModuleLocked() {
		return ErrModuleLocked
	}

	// Also guard the final per-directory destinations against an
	// in-flight same-named file.
	for _, dir := range dirs {
		for _, name := range []string{req.Filename, req.Filename + ".gz"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return fmt.Errorf("%w: %s exists in %s", ErrSyncInProgress, name, dir)
			}
		}
	}

	dump, err := CreateDumpFile(filepath.Join(e.cfg.StagingDir, req.Filename), e.cfg.Charset)
	if err != nil {
		return err
	}

	run := NewRun(req.ForceFullSync, req.DeleteObsoleteRows)

	for _, table := range req.Tables {
		if err := e.builder.DumpTableByPageIDs(ctx, run, pageIDs, table.Name, dump, false); err != nil {
			dump.Discard()
			return err
		}
	}

	if err := e.writer.FlushObsolete(run, dump); err != nil {
		dump.Discard()
		return err
	}

	if !run.HasOutput() {
		dump.Discard()
		e.logger.Info("No data to sync", "filename", req.Filename)
		return ErrNothingToSync
	}

	if err := e.writer.WriteInsertLines(run, dump); err != nil {
		dump.Discard()
		return err
	}

	gzPath, err := dump.Compress()
	if err != nil {
		return err
	}

	stamp := e.now()
	tokens := run.FlushTokens()
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create target directory %s: %w", dir, err)
		}
		if e.locks.IsLocked(dir) {
			e.logger.Warn("Target locked, skipping", "dir", dir)
			continue
		}
		name := ArtifactName(req.ForceFullSync, filepath.Base(dir), stamp, req.Filename)
		if err := copyFile(gzPath, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("failed to copy dump to %s: %w", dir, err)
		}
		if err := WriteFlushTokens(filepath.Join(dir, FlushTokenName(name)), tokens); err != nil {
			return err
		}
	}

	if err := os.Remove(gzPath); err != nil {
		e.logger.Warn("Failed to remove temp artifact", "path", gzPath, "error", err)
	}
	return nil
}

// NotifyArea triggers the remote notification of every area matching the
// selector. Used by the single-page sync workflow after CreateShortDump.
func (e *Engine) NotifyArea(ctx context.Context, selector string) error {
	areas := syncarea.FindArea(e.cfg.Areas, selector)
	if len(areas) == 0 {
		return fmt.Errorf("no target area matches %q", selector)
	}
	for i := range areas {
		if err := e.notifier.Notify(ctx, &areas[i]); err != nil {
			return fmt.Errorf("failed to notify area %s, retry in a few minutes: %w", areas[i].Name, err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dest)
		return err
	}
	return out.Close()
}
