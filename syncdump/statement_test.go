package syncdump

import (
	"testing"
)

func TestQuoteValue(t *testing.T) {
	tests := []struct {
		name     string
		value    any
		expected string
	}{
		{"nil", nil, "NULL"},
		{"int64", int64(42), "42"},
		{"int", 7, "7"},
		{"negative", int64(-3), "-3"},
		{"float", 1.5, "1.5"},
		{"bool true", true, "1"},
		{"bool false", false, "0"},
		{"plain string", "hello", "'hello'"},
		{"numeric string", "123", "123"},
		{"byte slice", []byte("abc"), "'abc'"},
		{"numeric bytes", []byte("99"), "99"},
		{"quote escaping", "it's", `'it\'s'`},
		{"backslash escaping", `a\b`, `'a\\b'`},
		{"empty string", "", "''"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QuoteValue(tt.value); got != tt.expected {
				t.Errorf("QuoteValue(%v) = %s, expected %s", tt.value, got, tt.expected)
			}
		})
	}
}

func TestBuildDelete(t *testing.T) {
	got := BuildDelete("pages", 10)
	expected := "DELETE FROM pages WHERE uid = 10;"
	if got != expected {
		t.Errorf("BuildDelete = %q, expected %q", got, expected)
	}
}

func TestBuildInsert_OnDuplicateKey(t *testing.T) {
	got := BuildInsert("pages", []string{"uid", "title"}, []any{int64(10), "Home"}, false)
	expected := "INSERT INTO pages (uid, title) VALUES (10, 'Home') " +
		"ON DUPLICATE KEY UPDATE uid = VALUES(uid), title = VALUES(title);"
	if got != expected {
		t.Errorf("BuildInsert = %q, expected %q", got, expected)
	}
}

func TestBuildInsert_Replace(t *testing.T) {
	got := BuildInsert("sys_file", []string{"uid", "name"}, []any{int64(1), "a.png"}, true)
	expected := "REPLACE INTO sys_file (uid, name) VALUES (1, 'a.png');"
	if got != expected {
		t.Errorf("BuildInsert = %q, expected %q", got, expected)
	}
}

func TestStatementLine_UID(t *testing.T) {
	tests := []struct {
		name     string
		line     StatementLine
		expected int64
	}{
		{"plain uid", StatementLine{Ident: "42"}, 42},
		{"composite takes second segment", StatementLine{Ident: "10-77"}, 77},
		{"explicit foreign uid wins", StatementLine{Ident: "10-77", ForeignUID: 99}, 99},
		{"garbage", StatementLine{Ident: "x"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.line.UID(); got != tt.expected {
				t.Errorf("UID() = %d, expected %d", got, tt.expected)
			}
		})
	}
}

func TestLineSet_AddHasRemove(t *testing.T) {
	set := NewLineSet()
	if !set.Empty() {
		t.Fatal("new set should be empty")
	}

	set.Add(StatementLine{Kind: StmtInsert, Table: "pages", Ident: "1", SQL: "a"})
	set.Add(StatementLine{Kind: StmtInsert, Table: "pages", Ident: "1", SQL: "b"})
	set.Add(StatementLine{Kind: StmtInsert, Table: "pages", Ident: "2", SQL: "c"})

	if !set.Has("pages", "1") {
		t.Error("expected pages:1 in set")
	}
	if len(set["pages"]) != 2 {
		t.Errorf("expected 2 lines, got %d", len(set["pages"]))
	}
	if set["pages"]["1"].SQL != "b" {
		t.Error("re-adding the same ident should replace the line")
	}

	set.Remove("pages", "1")
	if set.Has("pages", "1") {
		t.Error("pages:1 should be removed")
	}
}

func TestLineSet_LinesOrdering(t *testing.T) {
	set := NewLineSet()
	for _, ident := range []string{"10", "2", "33", "1"} {
		set.Add(StatementLine{Kind: StmtDelete, Table: "pages", Ident: ident})
	}
	lines := set.Lines("pages")
	var got []string
	for _, line := range lines {
		got = append(got, line.Ident)
	}
	expected := []string{"1", "2", "10", "33"}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("expected numeric ident order %v, got %v", expected, got)
		}
	}
}
