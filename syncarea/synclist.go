// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package syncarea

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// PageEntryType distinguishes a single page from a whole subtree
type PageEntryType string

const (
	PageAlone PageEntryType = "alone"
	PageTree  PageEntryType = "tree"
)

// PageEntry is one page (or subtree root) queued for a single-page sync
type PageEntry struct {
	PageID     int64         `json:"page_id"`
	Type       PageEntryType `json:"type"`
	Removeable bool          `json:"removeable"`
}

// TreeResolver expands a subtree root into the page ids it covers,
// including the root itself.
type TreeResolver interface {
	Subtree(root int64) ([]int64, error)
}

// SyncList is the editor-curated set of pages pending a single-page sync,
// keyed by area id. It round-trips through JSON for session persistence
// and is consumed and cleared per area once a sync for that area succeeds.
type SyncList struct {
	mu      sync.Mutex
	entries map[int]map[int64]PageEntry
}

// NewSyncList creates an empty sync list
func NewSyncList() *SyncList {
	return &SyncList{
		entries: make(map[int]map[int64]PageEntry),
	}
}

// Add queues a page entry for the given area, replacing any existing
// entry for the same page.
func (l *SyncList) Add(areaID int, entry PageEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries[areaID] == nil {
		l.entries[areaID] = make(map[int64]PageEntry)
	}
	l.entries[areaID][entry.PageID] = entry
}

// Remove drops the entry for the given page if it is flagged removeable.
// Non-removeable entries stay (they were queued by an event, not by the
// editor).
func (l *SyncList) Remove(areaID int, pageID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[areaID][pageID]
	if !ok || !entry.Removeable {
		return false
	}
	delete(l.entries[areaID], pageID)
	return true
}

// Entries returns the queued entries for an area, ordered by page id
func (l *SyncList) Entries(areaID int) []PageEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make([]PageEntry, 0, len(l.entries[areaID]))
	for _, entry := range l.entries[areaID] {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PageID < entries[j].PageID })
	return entries
}

// PageIDs resolves the area's queue into the concrete page-id set: alone
// entries contribute themselves, tree entries are expanded through the
// resolver. The result is sorted and de-duplicated.
func (l *SyncList) PageIDs(areaID int, resolver TreeResolver) ([]int64, error) {
	seen := make(map[int64]struct{})
	for _, entry := range l.Entries(areaID) {
		switch entry.Type {
		case PageTree:
			if resolver == nil {
				return nil, fmt.Errorf("tree entry for page %d but no tree resolver configured", entry.PageID)
			}
			ids, err := resolver.Subtree(entry.PageID)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve subtree of page %d: %w", entry.PageID, err)
			}
			for _, id := range ids {
				seen[id] = struct{}{}
			}
		default:
			seen[entry.PageID] = struct{}{}
		}
	}

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Clear drops every entry queued for the area
func (l *SyncList) Clear(areaID int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, areaID)
}

// Empty reports whether the area has no queued entries
func (l *SyncList) Empty(areaID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries[areaID]) == 0
}

// MarshalJSON serializes the list for session persistence
func (l *SyncList) MarshalJSON() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(l.entries)
}

// UnmarshalJSON restores a list persisted by MarshalJSON
func (l *SyncList) UnmarshalJSON(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	entries := make(map[int]map[int64]PageEntry)
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to restore sync list: %w", err)
	}
	l.entries = entries
	return nil
}
