// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncflush consumes the cache-invalidation side channel of the
// dump engine: plain-text token files listing "table:uid" pairs produced
// alongside each sync, dispatched to page-cache flushes and named cache
// entry removals.
package syncflush

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Token prefixes understood by the dispatcher
const (
	prefixPages     = "pages"
	prefixFramework = "framework"
)

// PageCacheFlusher flushes the page cache of one page
type PageCacheFlusher interface {
	FlushPage(ctx context.Context, uid int64) error
}

// NamedCacheRemover removes one entry from a named cache
type NamedCacheRemover interface {
	Remove(ctx context.Context, cache, key string) error
}

// Dispatcher maps flush tokens to cache operations. Unknown token kinds
// are logged and skipped, never an error: the token file may originate
// from a newer producer.
type Dispatcher struct {
	pages  PageCacheFlusher
	named  NamedCacheRemover
	logger *slog.Logger
}

// NewDispatcher creates a token dispatcher. Either flusher may be nil;
// tokens without a backing flusher are skipped with a warning.
func NewDispatcher(pages PageCacheFlusher, named NamedCacheRemover, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		pages:  pages,
		named:  named,
		logger: logger,
	}
}

// ParseTokens splits the comma-joined token list of a sidecar file
func ParseTokens(data string) []string {
	var tokens []string
	for _, token := range strings.Split(data, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}

// Dispatch applies every token: "pages:123" flushes the page cache of
// page 123; "framework:cache|key" removes the entry from the named
// cache; everything else (other table:uid pairs included) is skipped.
// Returns the number of tokens acted on.
func (d *Dispatcher) Dispatch(ctx context.Context, tokens []string) (int, error) {
	flushed := 0
	for _, token := range tokens {
		kind, rest, ok := strings.Cut(token, ":")
		if !ok {
			d.logger.Warn("Malformed flush token, skipping", "token", token)
			continue
		}

		switch kind {
		case prefixPages:
			uid, err := strconv.ParseInt(rest, 10, 64)
			if err != nil {
				d.logger.Warn("Malformed page flush token, skipping", "token", token)
				continue
			}
			if d.pages == nil {
				d.logger.Warn("No page cache flusher configured, skipping", "token", token)
				continue
			}
			if err := d.pages.FlushPage(ctx, uid); err != nil {
				return flushed, fmt.Errorf("failed to flush page cache for %d: %w", uid, err)
			}
			flushed++
		case prefixFramework:
			cache, key, ok := strings.Cut(rest, "|")
			if !ok {
				d.logger.Warn("Malformed framework flush token, skipping", "token", token)
				continue
			}
			if d.named == nil {
				d.logger.Warn("No named cache remover configured, skipping", "token", token)
				continue
			}
			if err := d.named.Remove(ctx, cache, key); err != nil {
				return flushed, fmt.Errorf("failed to remove cache entry %s|%s: %w", cache, key, err)
			}
			flushed++
		default:
			// Non-cache tables land in the sidecar too; only the known
			// kinds trigger cache work.
			d.logger.Debug("Flush token without cache mapping, skipping", "token", token)
		}
	}
	return flushed, nil
}

// DispatchFile reads one sidecar file, dispatches its tokens and removes
// the file on success.
func (d *Dispatcher) DispatchFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read flush token file %s: %w", path, err)
	}
	flushed, err := d.Dispatch(ctx, ParseTokens(string(data)))
	if err != nil {
		return flushed, err
	}
	if err := os.Remove(path); err != nil {
		return flushed, fmt.Errorf("failed to remove consumed token file %s: %w", path, err)
	}
	return flushed, nil
}

// DispatchDir consumes every pending sidecar (.txt) file in a directory.
// Scheduled-task entrypoint.
func (d *Dispatcher) DispatchDir(ctx context.Context, dir string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return 0, fmt.Errorf("failed to list token files in %s: %w", dir, err)
	}

	total := 0
	for _, path := range matches {
		flushed, err := d.DispatchFile(ctx, path)
		total += flushed
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
