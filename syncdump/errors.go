// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"errors"
)

// Error taxonomy of a sync run. Contention and nothing-to-sync are
// user-recoverable conditions, not internal failures; callers are
// expected to check them with errors.Is and surface a message instead of
// a stack trace.
var (
	// ErrSyncInProgress is returned when a same-named dump artifact
	// (plain or compressed) already exists. The user retries later;
	// nothing is auto-retried internally.
	ErrSyncInProgress = errors.New("previous sync still in progress")

	// ErrNothingToSync is returned when a run produced no statements.
	// Legitimately nothing changed; the run counts as successful with
	// zero artifacts.
	ErrNothingToSync = errors.New("no data to sync")

	// ErrModuleLocked is returned when the module-wide lock gates the run
	ErrModuleLocked = errors.New("sync module is locked")

	// ErrTableNotSyncable is returned when an MM linking table is passed
	// as a primary dump target.
	ErrTableNotSyncable = errors.New("mm tables cannot be dumped directly")

	// ErrMissingTstampField is a configuration error: an incremental
	// condition required a modification timestamp field the table does
	// not declare.
	ErrMissingTstampField = errors.New("table has no tstamp field configured")

	// ErrMalformedReferenceRow is a programming error: a reference row
	// carries neither a uid nor a foreign uid. It is never translated
	// into a user-facing message and surfaces as a fatal run failure.
	ErrMalformedReferenceRow = errors.New("reference row has neither uid nor uid_foreign")
)
