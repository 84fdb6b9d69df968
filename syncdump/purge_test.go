package syncdump

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type staticSchema struct {
	control map[string]ControlFields
}

func (s *staticSchema) Columns(_ context.Context, _ string) ([]string, error) { return nil, nil }
func (s *staticSchema) Relations(_ string) []Relation                         { return nil }
func (s *staticSchema) ControlFields(table string) ControlFields              { return s.control[table] }

func newTestPurger(control map[string]ControlFields) *ObsoleteRowPurger {
	p := NewObsoleteRowPurger(&staticSchema{control: control})
	// Fixed clock: 2024-05-01 00:00:00 UTC is "today midnight".
	p.now = func() time.Time { return time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC) }
	return p
}

func TestObsoleteRowPurger_SQLForObsoleteRows(t *testing.T) {
	midnight := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Unix()

	tests := []struct {
		name     string
		control  ControlFields
		expected string
	}{
		{
			"all control fields",
			ControlFields{Delete: "deleted", Disabled: "hidden", Endtime: "endtime"},
			fmt.Sprintf("DELETE FROM t WHERE deleted = 1 OR hidden = 1 OR (endtime < %d AND endtime <> 0);", midnight),
		},
		{
			"delete only",
			ControlFields{Delete: "deleted"},
			"DELETE FROM t WHERE deleted = 1;",
		},
		{
			"endtime only",
			ControlFields{Endtime: "endtime"},
			fmt.Sprintf("DELETE FROM t WHERE (endtime < %d AND endtime <> 0);", midnight),
		},
		{
			"no control fields",
			ControlFields{},
			"",
		},
		{
			"tstamp alone does not qualify",
			ControlFields{Tstamp: "tstamp"},
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPurger(map[string]ControlFields{"t": tt.control})
			if got := p.SQLForObsoleteRows("t"); got != tt.expected {
				t.Errorf("SQLForObsoleteRows = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestObsoleteRowPurger_RegisterOnce(t *testing.T) {
	p := newTestPurger(map[string]ControlFields{
		"t": {Delete: "deleted"},
		"u": {Disabled: "hidden"},
		"v": {},
	})
	run := NewRun(false, true)

	if !p.RegisterOnce(run, "t") {
		t.Fatal("first registration should append the statement")
	}
	if p.RegisterOnce(run, "t") {
		t.Fatal("second registration of the same statement must be a no-op")
	}
	if !p.RegisterOnce(run, "u") {
		t.Fatal("a different table's statement should still register")
	}
	if p.RegisterOnce(run, "v") {
		t.Fatal("a table without control fields must not register")
	}

	queue := run.takeObsolete()
	if len(queue) != 3 {
		t.Fatalf("expected header plus two statements, got %d entries: %v", len(queue), queue)
	}
	if queue[0] != "-- Delete obsolete rows" {
		t.Errorf("expected the fixed comment header first, got %q", queue[0])
	}
	if queue[1] != "DELETE FROM t WHERE deleted = 1;" {
		t.Errorf("unexpected first statement %q", queue[1])
	}

	// The queue drains; re-registering a seen statement stays suppressed.
	if len(run.takeObsolete()) != 0 {
		t.Error("queue should be drained")
	}
	if p.RegisterOnce(run, "t") {
		t.Error("statement hash must persist for the whole run")
	}
}
