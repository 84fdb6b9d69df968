// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/google/uuid"
)

// RunStats counts what a run produced
type RunStats struct {
	TablesDumped    int
	DeletesWritten  int
	InsertsBuffered int
	LinesFiltered   int
}

// Run is the context of one dump invocation. It owns every piece of
// state that is run-scoped: the cross-batch statement dedup cache, the
// buffered insert lines, the obsolete-row collection, the cache-flush
// tokens and the recursion depth counter. A Run is single-threaded and
// never shared across invocations.
type Run struct {
	ID                 uuid.UUID
	ForceFullSync      bool
	DeleteObsoleteRows bool
	Stats              RunStats

	written       map[string]struct{}
	inserts       LineSet
	obsoleteSeen  map[string]struct{}
	obsoleteQueue []string
	flushTokens   []string
	tokenSeen     map[string]struct{}
	depth         int

	// tableForce is set while a table flagged ForceFullSync dumps within
	// an otherwise incremental run.
	tableForce bool
}

// forceFull reports whether the per-element watermark filter is bypassed
func (r *Run) forceFull() bool { return r.ForceFullSync || r.tableForce }

// setTableForce toggles the per-table full-sync override
func (r *Run) setTableForce(v bool) { r.tableForce = v }

// NewRun creates the context for one dump invocation
func NewRun(forceFull, deleteObsolete bool) *Run {
	return &Run{
		ID:                 uuid.New(),
		ForceFullSync:      forceFull,
		DeleteObsoleteRows: deleteObsolete,
		written:            make(map[string]struct{}),
		inserts:            NewLineSet(),
		obsoleteSeen:       make(map[string]struct{}),
		tokenSeen:          make(map[string]struct{}),
	}
}

// markWritten records the line in the cross-batch dedup cache and
// reports whether it was seen before.
func (r *Run) markWritten(line *StatementLine) bool {
	key := line.key()
	if _, seen := r.written[key]; seen {
		return false
	}
	r.written[key] = struct{}{}
	return true
}

// bufferInsert holds an insert line for the end-of-run flush
func (r *Run) bufferInsert(line StatementLine) {
	r.inserts.Add(line)
	r.Stats.InsertsBuffered++
}

// RegisterObsolete appends an obsolete-row statement to the run-global
// collection, keyed by content hash so a given statement lands at most
// once per run. The fixed comment header is queued ahead of the first
// statement.
func (r *Run) RegisterObsolete(stmt string) bool {
	sum := sha256.Sum256([]byte(stmt))
	key := hex.EncodeToString(sum[:])
	if _, seen := r.obsoleteSeen[key]; seen {
		return false
	}
	if len(r.obsoleteSeen) == 0 {
		r.obsoleteQueue = append(r.obsoleteQueue, obsoleteHeader)
	}
	r.obsoleteSeen[key] = struct{}{}
	r.obsoleteQueue = append(r.obsoleteQueue, stmt)
	return true
}

// takeObsolete drains the not-yet-written obsolete statements
func (r *Run) takeObsolete() []string {
	queue := r.obsoleteQueue
	r.obsoleteQueue = nil
	return queue
}

// recordFlushToken queues a "table:uid" token for the cache-invalidation
// side channel.
func (r *Run) recordFlushToken(table, ident string) {
	token := table + ":" + ident
	if _, seen := r.tokenSeen[token]; seen {
		return
	}
	r.tokenSeen[token] = struct{}{}
	r.flushTokens = append(r.flushTokens, token)
}

// FlushTokens returns the accumulated cache-flush tokens, sorted
func (r *Run) FlushTokens() []string {
	tokens := make([]string, len(r.flushTokens))
	copy(tokens, r.flushTokens)
	sort.Strings(tokens)
	return tokens
}

// HasOutput reports whether the run produced any statement at all
func (r *Run) HasOutput() bool {
	return len(r.written) > 0 || !r.inserts.Empty()
}

// enterDepth/leaveDepth track recursion depth of the table-dump and
// reference routines, diagnostics only.
func (r *Run) enterDepth() { r.depth++ }
func (r *Run) leaveDepth() { r.depth-- }

// Depth returns the current recursion depth
func (r *Run) Depth() int { return r.depth }
