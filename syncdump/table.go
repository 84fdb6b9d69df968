// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Table is one named relation registered for dumping, with its per-table
// sync flags. Constructed per run; stateless across runs except through
// the watermark store.
type Table struct {
	Name string `json:"name"`

	// ForceFullSync always dumps the whole table, ignoring watermarks
	ForceFullSync bool `json:"force_full_sync"`
	// DeleteObsoleteRows appends the obsolete-row cleanup statement
	DeleteObsoleteRows bool `json:"delete_obsolete_rows"`
	// NoCreateInfo suppresses the section header and target reset of a
	// full dump.
	NoCreateInfo bool `json:"no_create_info"`
	// UseReplace switches the table's upserts to REPLACE INTO
	UseReplace bool `json:"use_replace"`
}

// WriteDump dumps the table into the sink, deciding full vs incremental
// from the table flag, the run flag and the stored watermark. Returns
// whether the dump ran as a full export.
func (b *RowSetBuilder) WriteDump(ctx context.Context, run *Run, t Table,
	watermarks *WatermarkStore, sink io.Writer) (bool, error) {
	if strings.HasSuffix(t.Name, mmTableSuffix) {
		return false, fmt.Errorf("%w: %s", ErrTableNotSyncable, t.Name)
	}

	run.enterDepth()
	defer run.leaveDepth()

	cols, err := b.schema.Columns(ctx, t.Name)
	if err != nil {
		return false, err
	}
	if len(cols) == 0 {
		return false, fmt.Errorf("table %s has no columns (vanished?)", t.Name)
	}

	full := t.ForceFullSync || run.ForceFullSync
	var since time.Time
	if !full {
		since, err = watermarks.LastSyncTime(ctx, t.Name)
		if err != nil {
			return false, err
		}
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), t.Name)
	var args []any
	if !full && since.Unix() > 0 {
		tstampField := b.schema.ControlFields(t.Name).Tstamp
		if tstampField == "" {
			return false, fmt.Errorf("%w: %s", ErrMissingTstampField, t.Name)
		}
		query += fmt.Sprintf(" WHERE %s >= ?", tstampField)
		args = append(args, since.Unix())
	}

	if full && !t.NoCreateInfo {
		if _, err := fmt.Fprintf(sink, "\n-- Table: %s\nTRUNCATE %s;\n", t.Name, t.Name); err != nil {
			return false, fmt.Errorf("failed to write table section for %s: %w", t.Name, err)
		}
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to query %s: %w", t.Name, err)
	}
	defer rows.Close()

	deleteField := b.schema.ControlFields(t.Name).Delete
	useReplace := t.UseReplace || b.replace[t.Name]
	deletes, inserts := NewLineSet(), NewLineSet()
	groups := 0

	// Per-table forced-full runs bypass the per-element watermark filter
	// even when the run itself is incremental.
	if full {
		run.setTableForce(true)
		defer run.setTableForce(false)
	}

	for rows.Next() {
		values, err := scanRow(rows, len(cols))
		if err != nil {
			return false, fmt.Errorf("failed to scan row of %s: %w", t.Name, err)
		}
		uid := columnInt(cols, values, "uid")

		if deleteField != "" && columnInt(cols, values, deleteField) == 1 {
			deletes.Add(StatementLine{
				Kind:  StmtDelete,
				Table: t.Name,
				Ident: strconv.FormatInt(uid, 10),
				SQL:   BuildDelete(t.Name, uid),
			})
		} else {
			inserts.Add(StatementLine{
				Kind:  StmtInsert,
				Table: t.Name,
				Ident: strconv.FormatInt(uid, 10),
				SQL:   BuildInsert(t.Name, cols, values, useReplace),
			})
		}

		groups++
		if groups >= b.batchSize {
			if err := b.writer.PrepareDump(ctx, run, deletes, inserts, sink); err != nil {
				return false, err
			}
			deletes, inserts = NewLineSet(), NewLineSet()
			groups = 0
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to iterate %s: %w", t.Name, err)
	}

	if run.DeleteObsoleteRows || t.DeleteObsoleteRows {
		b.purger.RegisterOnce(run, t.Name)
	}

	if err := b.writer.PrepareDump(ctx, run, deletes, inserts, sink); err != nil {
		return false, err
	}

	if err := watermarks.RecordTableSync(ctx, t.Name, full); err != nil {
		return false, err
	}
	run.Stats.TablesDumped++
	return full, nil
}
