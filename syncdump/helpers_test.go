package syncdump

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// openTestDB creates an in-memory database with a representative staging
// schema: a page table, a content table with an MM relation and a file
// reference, plus the join tables.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	stmts := []string{
		`CREATE TABLE pages (
			uid INTEGER PRIMARY KEY,
			pid INTEGER NOT NULL DEFAULT 0,
			title TEXT NOT NULL DEFAULT '',
			tstamp INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			hidden INTEGER NOT NULL DEFAULT 0,
			endtime INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE tt_content (
			uid INTEGER PRIMARY KEY,
			pid INTEGER NOT NULL DEFAULT 0,
			header TEXT NOT NULL DEFAULT '',
			tstamp INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			hidden INTEGER NOT NULL DEFAULT 0,
			endtime INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE tt_content_category_mm (
			uid_local INTEGER NOT NULL,
			uid_foreign INTEGER NOT NULL,
			tablenames TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE sys_file (
			uid INTEGER PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			tstamp INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE sys_file_reference (
			uid_local INTEGER NOT NULL,
			uid_foreign INTEGER NOT NULL,
			fieldname TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to create test schema: %v", err)
		}
	}
	return db
}

// testSchemaConfig declares control fields and relations for the test schema
func testSchemaConfig() SchemaConfig {
	return SchemaConfig{
		Tables: map[string]TableSchema{
			"pages": {
				Control: ControlFields{Tstamp: "tstamp", Delete: "deleted", Disabled: "hidden", Endtime: "endtime"},
			},
			"tt_content": {
				Control: ControlFields{Tstamp: "tstamp", Delete: "deleted", Disabled: "hidden", Endtime: "endtime"},
				Relations: []Relation{
					{
						Field:     "categories",
						JoinTable: "tt_content_category_mm",
						Kind:      RelationMM,
					},
					{
						Field:        "image",
						JoinTable:    "sys_file_reference",
						LocalField:   "uid_foreign",
						ForeignField: "uid_local",
						MatchFields:  map[string]string{"fieldname": "image"},
						Kind:         RelationFileReference,
					},
				},
			},
			"sys_file": {
				Control: ControlFields{Tstamp: "tstamp", Delete: "deleted"},
			},
		},
	}
}

// newTestStore wires a watermark store over the test database
func newTestStore(t *testing.T, db *sql.DB) *WatermarkStore {
	t.Helper()
	store := NewWatermarkStore(db, NewDBSchemaProvider(db, testSchemaConfig()), nil)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("Failed to ensure watermark schema: %v", err)
	}
	return store
}
