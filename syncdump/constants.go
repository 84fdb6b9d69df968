// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

// Statement kinds for dump lines
const (
	StmtDelete = "DELETE"
	StmtInsert = "INSERT"
)

// Dump artifact name prefixes
const (
	PrefixFull        = "full"
	PrefixIncremental = "inc"
)

// artifactTimeLayout is the timestamp embedded in distributed artifact names
const artifactTimeLayout = "20060102-150405"

// Default table roles of a staging CMS database. All overridable via Config.
const (
	DefaultPageTable          = "pages"
	DefaultFileTable          = "sys_file"
	DefaultFileReferenceTable = "sys_file_reference"
)

// mmTableSuffix marks many-to-many linking tables. MM tables carry no
// modification timestamp and are only ever dumped through reference
// resolution, never as a primary target.
const mmTableSuffix = "_mm"

// DefaultBatchSize is the number of accumulated delete-line groups after
// which a batch is flushed through the statement pipeline.
const DefaultBatchSize = 50

// DefaultCharset is the connection charset announced at the top of every
// dump via SET NAMES.
const DefaultCharset = "utf8"

// obsoleteHeader is the permanent first entry of the per-run obsolete-row
// collection.
const obsoleteHeader = "-- Delete obsolete rows"
