// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// DumpWriter is the statement pipeline every flushed batch passes
// through. It enforces the dump invariants: per-run statement dedup,
// insert-over-delete precedence, and the all-deletes-before-any-insert
// file layout.
type DumpWriter struct {
	watermarks *WatermarkStore
	logger     *slog.Logger
}

// NewDumpWriter creates a writer recording sync statistics through the
// given watermark store.
func NewDumpWriter(watermarks *WatermarkStore, logger *slog.Logger) *DumpWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DumpWriter{
		watermarks: watermarks,
		logger:     logger,
	}
}

// PrepareDump runs one batch of delete and insert lines through the
// pipeline, in this fixed order:
//
//  1. unless the run forces a full sync, drop lines for rows that are
//     not synchronizable (already fully dumped since their last change;
//     MM tables exempt);
//  2. drop any delete shadowed by an insert for the same (table, ident)
//     in this batch (the row was re-fetched, insert wins);
//  3. drop any line already written by a previous batch of this run;
//  4. append the surviving delete blocks, then any pending obsolete-row
//     statements, to the sink; surviving inserts are buffered on the run
//     and flushed once at the very end of the dump;
//  5. record a sync watermark per surviving insert (MM tables skipped).
func (w *DumpWriter) PrepareDump(ctx context.Context, run *Run, deletes, inserts LineSet, sink io.Writer) error {
	if !run.forceFull() {
		if err := w.filterSynchronizable(ctx, run, deletes); err != nil {
			return err
		}
		if err := w.filterSynchronizable(ctx, run, inserts); err != nil {
			return err
		}
	}

	for table, idents := range deletes {
		for ident := range idents {
			if inserts.Has(table, ident) {
				deletes.Remove(table, ident)
				run.Stats.LinesFiltered++
			}
		}
	}

	for _, table := range deletes.Tables() {
		for _, line := range deletes.Lines(table) {
			if !run.markWritten(&line) {
				continue
			}
			if _, err := io.WriteString(sink, line.SQL+"\n"); err != nil {
				return fmt.Errorf("failed to write delete line for %s: %w", table, err)
			}
			run.Stats.DeletesWritten++
			if !line.Reference {
				run.recordFlushToken(line.Table, line.Ident)
			}
		}
	}

	if err := w.FlushObsolete(run, sink); err != nil {
		return err
	}

	for _, table := range inserts.Tables() {
		for _, line := range inserts.Lines(table) {
			if !run.markWritten(&line) {
				continue
			}
			run.bufferInsert(line)
			if !line.Reference {
				run.recordFlushToken(line.Table, line.Ident)
			}
			if IsMMTable(table) {
				continue
			}
			if err := w.watermarks.RecordSync(ctx, table, line.UID(), run.forceFull()); err != nil {
				return err
			}
		}
	}

	return nil
}

// FlushObsolete appends the pending obsolete-row statements to the sink.
// Statements registered after the last batch flush are drained by the
// engine before the insert section is written.
func (w *DumpWriter) FlushObsolete(run *Run, sink io.Writer) error {
	for _, stmt := range run.takeObsolete() {
		if _, err := io.WriteString(sink, stmt+"\n"); err != nil {
			return fmt.Errorf("failed to write obsolete-row statement: %w", err)
		}
	}
	return nil
}

// WriteInsertLines flushes the run's buffered insert lines, grouped per
// table under a header comment. Called exactly once, after every table
// of the dump has been processed, which guarantees that every insert
// lands after all delete statements regardless of processing order.
func (w *DumpWriter) WriteInsertLines(run *Run, sink io.Writer) error {
	for _, table := range run.inserts.Tables() {
		if _, err := fmt.Fprintf(sink, "\n-- Insert lines for table: %s\n", table); err != nil {
			return fmt.Errorf("failed to write insert section for %s: %w", table, err)
		}
		for _, line := range run.inserts.Lines(table) {
			if _, err := io.WriteString(sink, line.SQL+"\n"); err != nil {
				return fmt.Errorf("failed to write insert line for %s: %w", table, err)
			}
		}
	}
	return nil
}

// filterSynchronizable drops lines whose rows need no re-sync
func (w *DumpWriter) filterSynchronizable(ctx context.Context, run *Run, set LineSet) error {
	for table, idents := range set {
		if IsMMTable(table) {
			continue
		}
		for ident, line := range idents {
			if line.Reference {
				continue
			}
			ok, err := w.watermarks.IsElementSynchronizable(ctx, table, line.UID())
			if err != nil {
				return err
			}
			if !ok {
				delete(idents, ident)
				run.Stats.LinesFiltered++
			}
		}
	}
	return nil
}
