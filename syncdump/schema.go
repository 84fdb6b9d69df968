// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
)

// RelationKind classifies a configured table relation
type RelationKind int

const (
	// RelationMM is a classic many-to-many link through a join table
	RelationMM RelationKind = iota
	// RelationForeign is an inline/foreign-table relation
	RelationForeign
	// RelationFileReference is a file-picker relation through the
	// file-reference table; resolving it additionally dumps the
	// referenced file rows.
	RelationFileReference
)

// Relation describes one configured relation of a table: which join
// table to walk, which field carries the foreign key, and any extra
// match-field constraints scoping the join rows.
type Relation struct {
	Field        string            `json:"field"`         // local field the relation is declared on
	JoinTable    string            `json:"join_table"`    // explicit MM name or foreign_table
	LocalField   string            `json:"local_field"`   // default "uid_local"
	ForeignField string            `json:"foreign_field"` // default "uid_foreign"
	MatchFields  map[string]string `json:"match_fields"`  // extra WHERE constraints on the join table
	Kind         RelationKind      `json:"kind"`
}

// ControlFields are the per-table control columns driving soft-delete,
// visibility and modification-time handling. Empty fields are absent.
type ControlFields struct {
	Tstamp   string `json:"tstamp"`
	Delete   string `json:"delete"`
	Disabled string `json:"disabled"`
	Endtime  string `json:"endtime"`
}

// TableSchema is the explicit per-table configuration a SchemaProvider
// is driven from (instead of runtime reflection over framework metadata).
type TableSchema struct {
	Control   ControlFields `json:"control"`
	Relations []Relation    `json:"relations"`
}

// SchemaConfig maps table names to their declared schema configuration
type SchemaConfig struct {
	Tables map[string]TableSchema `json:"tables"`
}

// SchemaProvider abstracts live schema and relation introspection
type SchemaProvider interface {
	// Columns returns the ordered live column names of a table.
	// An empty list means the table vanished.
	Columns(ctx context.Context, table string) ([]string, error)
	// Relations returns the configured relations of a table
	Relations(table string) []Relation
	// ControlFields returns the configured control columns of a table
	ControlFields(table string) ControlFields
}

// DBSchemaProvider reads live columns from a database/sql handle and
// serves relations and control fields from an explicit SchemaConfig.
// Column lookups are cached per table.
type DBSchemaProvider struct {
	db  *sql.DB
	cfg SchemaConfig

	mu    sync.RWMutex
	cache map[string][]string
}

// NewDBSchemaProvider creates a schema provider over the given handle
func NewDBSchemaProvider(db *sql.DB, cfg SchemaConfig) *DBSchemaProvider {
	return &DBSchemaProvider{
		db:    db,
		cfg:   cfg,
		cache: make(map[string][]string),
	}
}

// Columns returns the ordered column names of a table, cached after the
// first lookup. A missing table yields an empty list, not an error, so
// drift detection can report it.
func (p *DBSchemaProvider) Columns(ctx context.Context, table string) ([]string, error) {
	key := strings.ToLower(table)

	p.mu.RLock()
	if cols, ok := p.cache[key]; ok {
		p.mu.RUnlock()
		return cols, nil
	}
	p.mu.RUnlock()

	// LIMIT 0 keeps this portable across MySQL and SQLite; only the
	// result-set metadata is consumed.
	rows, err := p.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s LIMIT 0", table))
	if err != nil {
		// Table vanished or never existed: report as empty column list.
		return nil, nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	p.mu.Lock()
	p.cache[key] = cols
	p.mu.Unlock()
	return cols, nil
}

// Relations returns the configured relations of a table
func (p *DBSchemaProvider) Relations(table string) []Relation {
	return p.cfg.Tables[table].Relations
}

// ControlFields returns the configured control columns of a table
func (p *DBSchemaProvider) ControlFields(table string) ControlFields {
	return p.cfg.Tables[table].Control
}

// ClearCache drops the cached column lists, forcing fresh lookups
func (p *DBSchemaProvider) ClearCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string][]string)
}

// IsMMTable reports whether a table is a many-to-many linking table
func IsMMTable(table string) bool {
	return strings.Contains(table, mmTableSuffix)
}

// resolvedLocalField returns the relation's local join field, defaulted
func (r *Relation) resolvedLocalField() string {
	if r.LocalField != "" {
		return r.LocalField
	}
	return "uid_local"
}

// resolvedForeignField returns the relation's foreign-key field, defaulted
func (r *Relation) resolvedForeignField() string {
	if r.ForeignField != "" {
		return r.ForeignField
	}
	return "uid_foreign"
}
