// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"fmt"
	"strings"
	"time"
)

// ObsoleteRowPurger derives DELETE statements for rows that are
// soft-deleted, disabled on the target, or past their end time, per the
// table's control-field configuration.
type ObsoleteRowPurger struct {
	schema SchemaProvider
	now    func() time.Time
}

// NewObsoleteRowPurger creates a purger over the given schema provider
func NewObsoleteRowPurger(schema SchemaProvider) *ObsoleteRowPurger {
	return &ObsoleteRowPurger{
		schema: schema,
		now:    time.Now,
	}
}

// SQLForObsoleteRows builds the obsolete-row DELETE for a table,
// omitting clauses for absent control fields. An empty string means no
// control fields apply.
func (p *ObsoleteRowPurger) SQLForObsoleteRows(table string) string {
	cf := p.schema.ControlFields(table)

	var clauses []string
	if cf.Delete != "" {
		clauses = append(clauses, fmt.Sprintf("%s = 1", cf.Delete))
	}
	if cf.Disabled != "" {
		clauses = append(clauses, fmt.Sprintf("%s = 1", cf.Disabled))
	}
	if cf.Endtime != "" {
		midnight := p.todayMidnight()
		clauses = append(clauses, fmt.Sprintf("(%s < %d AND %s <> 0)", cf.Endtime, midnight, cf.Endtime))
	}
	if len(clauses) == 0 {
		return ""
	}
	return BuildDeleteWhere(table, strings.Join(clauses, " OR "))
}

// RegisterOnce computes the table's obsolete-row statement and appends
// it to the run-global collection at most once per run.
func (p *ObsoleteRowPurger) RegisterOnce(run *Run, table string) bool {
	stmt := p.SQLForObsoleteRows(table)
	if stmt == "" {
		return false
	}
	return run.RegisterObsolete(stmt)
}

func (p *ObsoleteRowPurger) todayMidnight() int64 {
	now := p.now()
	year, month, day := now.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, now.Location()).Unix()
}
