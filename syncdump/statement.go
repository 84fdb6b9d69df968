// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StatementLine is a single SQL statement destined for the dump file,
// keyed by (kind, table, ident). The ident is normally the row's uid;
// reference rows without a uid carry a derived "local-foreign" composite
// key plus the true foreign uid.
type StatementLine struct {
	Kind       string
	Table      string
	Ident      string
	SQL        string
	ForeignUID int64 // true foreign uid for composite idents, 0 otherwise

	// Reference marks lines produced by relation resolution. Reference
	// rows carry no tracked modification timestamp and bypass the
	// per-element watermark filter, like MM tables.
	Reference bool
}

// UID returns the row uid encoded in the line's ident. Composite idents
// ("local-foreign") resolve to the explicitly carried foreign uid when
// present, falling back to the second dash-delimited segment.
func (l *StatementLine) UID() int64 {
	if l.ForeignUID != 0 {
		return l.ForeignUID
	}
	if idx := strings.IndexByte(l.Ident, '-'); idx >= 0 {
		uid, _ := strconv.ParseInt(l.Ident[idx+1:], 10, 64)
		return uid
	}
	uid, _ := strconv.ParseInt(l.Ident, 10, 64)
	return uid
}

// key is the per-run dedup key of the line
func (l *StatementLine) key() string {
	return l.Kind + ":" + l.Table + ":" + l.Ident
}

// LineSet groups statement lines by table and ident. Adding a line for
// an already present (table, ident) pair replaces it.
type LineSet map[string]map[string]StatementLine

// NewLineSet creates an empty line set
func NewLineSet() LineSet {
	return make(LineSet)
}

// Add inserts a line into the set
func (s LineSet) Add(line StatementLine) {
	if s[line.Table] == nil {
		s[line.Table] = make(map[string]StatementLine)
	}
	s[line.Table][line.Ident] = line
}

// Has reports whether the set holds a line for (table, ident)
func (s LineSet) Has(table, ident string) bool {
	_, ok := s[table][ident]
	return ok
}

// Remove drops the line for (table, ident) if present
func (s LineSet) Remove(table, ident string) {
	delete(s[table], ident)
}

// Empty reports whether the set holds no lines at all
func (s LineSet) Empty() bool {
	for _, idents := range s {
		if len(idents) > 0 {
			return false
		}
	}
	return true
}

// Tables returns the table names with at least one line, sorted
func (s LineSet) Tables() []string {
	tables := make([]string, 0, len(s))
	for table, idents := range s {
		if len(idents) > 0 {
			tables = append(tables, table)
		}
	}
	sort.Strings(tables)
	return tables
}

// Lines returns the table's lines ordered by ident for deterministic output
func (s LineSet) Lines(table string) []StatementLine {
	idents := make([]string, 0, len(s[table]))
	for ident := range s[table] {
		idents = append(idents, ident)
	}
	sort.Slice(idents, func(i, j int) bool {
		a, errA := strconv.ParseInt(idents[i], 10, 64)
		b, errB := strconv.ParseInt(idents[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		return idents[i] < idents[j]
	})
	lines := make([]StatementLine, 0, len(idents))
	for _, ident := range idents {
		lines = append(lines, s[table][ident])
	}
	return lines
}

// QuoteValue renders a column value for dump SQL: NULL stays bare,
// numeric values stay unquoted, everything else is single-quoted with
// backslash escaping.
func QuoteValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(val, 10)
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case []byte:
		return quoteString(string(val))
	case string:
		return quoteString(val)
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

func quoteString(s string) string {
	// Numeric-looking strings are emitted unquoted, matching the
	// "non-numeric values quoted" dump policy.
	if s != "" {
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			return s
		}
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

// BuildDelete renders a uid-scoped DELETE statement
func BuildDelete(table string, uid int64) string {
	return fmt.Sprintf("DELETE FROM %s WHERE uid = %d;", table, uid)
}

// BuildDeleteWhere renders a DELETE scoped by an arbitrary WHERE clause
func BuildDeleteWhere(table, where string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s;", table, where)
}

// BuildInsert renders an upsert covering every live column. The default
// flavor is INSERT .. ON DUPLICATE KEY UPDATE col = VALUES(col); tables
// with replace semantics get REPLACE INTO instead.
func BuildInsert(table string, columns []string, values []any, useReplace bool) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = QuoteValue(v)
	}

	colList := strings.Join(columns, ", ")
	valList := strings.Join(quoted, ", ")

	if useReplace {
		return fmt.Sprintf("REPLACE INTO %s (%s) VALUES (%s);", table, colList, valList)
	}

	updates := make([]string, len(columns))
	for i, col := range columns {
		updates[i] = fmt.Sprintf("%s = VALUES(%s)", col, col)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s;",
		table, colList, valList, strings.Join(updates, ", "))
}
