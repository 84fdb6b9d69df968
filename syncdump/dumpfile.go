// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncdump

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DumpFile is the ephemeral staging artifact of one run: a plain SQL
// text file that accumulates statements and is gzip-compressed once the
// run finished writing.
type DumpFile struct {
	path    string
	f       *os.File
	written int64
}

// CreateDumpFile creates the staging dump at path, guarded against
// overlapping runs: if a same-named artifact (plain or compressed)
// already exists the call fails with ErrSyncInProgress instead of
// overwriting. The connection-charset pragma is written as the first
// line and does not count as run output.
func CreateDumpFile(path, charset string) (*DumpFile, error) {
	if charset == "" {
		charset = DefaultCharset
	}
	for _, existing := range []string{path, path + ".gz"} {
		if _, err := os.Stat(existing); err == nil {
			return nil, fmt.Errorf("%w: %s exists", ErrSyncInProgress, existing)
		}
	}

	// O_EXCL keeps the worst case of the check-then-create race a
	// spurious in-progress error, never a silent overwrite.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s exists", ErrSyncInProgress, path)
		}
		return nil, fmt.Errorf("failed to create dump file %s: %w", path, err)
	}

	if _, err := fmt.Fprintf(f, "SET NAMES %s;\n", charset); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("failed to write charset pragma: %w", err)
	}

	return &DumpFile{path: path, f: f}, nil
}

// Write appends statement text to the dump
func (d *DumpFile) Write(p []byte) (int, error) {
	n, err := d.f.Write(p)
	d.written += int64(n)
	return n, err
}

// BytesWritten returns the statement bytes written beyond the header
func (d *DumpFile) BytesWritten() int64 {
	return d.written
}

// Path returns the staging path of the plain dump
func (d *DumpFile) Path() string {
	return d.path
}

// Compress closes the plain dump, gzip-compresses it at the best
// compression level, removes the plain file and returns the path of the
// compressed artifact.
func (d *DumpFile) Compress() (string, error) {
	if err := d.f.Close(); err != nil {
		return "", fmt.Errorf("failed to close dump file: %w", err)
	}

	in, err := os.Open(d.path)
	if err != nil {
		return "", fmt.Errorf("failed to reopen dump file: %w", err)
	}
	defer in.Close()

	gzPath := d.path + ".gz"
	out, err := os.OpenFile(gzPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create compressed dump %s: %w", gzPath, err)
	}

	gz, err := gzip.NewWriterLevel(out, gzip.BestCompression)
	if err != nil {
		out.Close()
		return "", fmt.Errorf("failed to init gzip writer: %w", err)
	}
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return "", fmt.Errorf("failed to compress dump: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return "", fmt.Errorf("failed to finish compression: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to close compressed dump: %w", err)
	}

	if err := os.Remove(d.path); err != nil {
		return "", fmt.Errorf("failed to remove plain dump: %w", err)
	}
	return gzPath, nil
}

// Discard closes and removes the plain dump (nothing-to-sync cleanup)
func (d *DumpFile) Discard() {
	d.f.Close()
	os.Remove(d.path)
}

// ArtifactName builds the run-scoped distributed artifact name:
// {inc|full}_{target}_{YYYYMMDD-HHMMSS}_{basename}.sql.gz
func ArtifactName(full bool, target string, at time.Time, basename string) string {
	prefix := PrefixIncremental
	if full {
		prefix = PrefixFull
	}
	basename = strings.TrimSuffix(basename, ".gz")
	basename = strings.TrimSuffix(basename, ".sql")
	return fmt.Sprintf("%s_%s_%s_%s.sql.gz", prefix, target, at.Format(artifactTimeLayout), basename)
}

// FlushTokenName derives the cache-flush sidecar name of an artifact
func FlushTokenName(artifact string) string {
	return strings.TrimSuffix(artifact, ".sql.gz") + ".txt"
}

// WriteFlushTokens writes the comma-joined cache-flush token sidecar.
// No tokens means no sidecar.
func WriteFlushTokens(path string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := os.WriteFile(path, []byte(strings.Join(tokens, ",")), 0o644); err != nil {
		return fmt.Errorf("failed to write flush token file %s: %w", path, err)
	}
	return nil
}
