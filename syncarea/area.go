// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package syncarea models the distribution topology of the sync engine:
// named areas grouping one or more target systems, per-target lock files,
// remote notification, and the per-area pending page list editors build
// before a single-page sync.
package syncarea

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// NotifyType selects how a target system is told that new data is ready.
const (
	NotifyNone = "none"
	NotifyFTP  = "ftp"
)

// NotifyConfig describes the remote handshake of one target system
type NotifyConfig struct {
	Type     string `json:"type"`     // "ftp" or "none"
	Host     string `json:"host"`     // FTP host
	Port     int    `json:"port"`     // FTP port (0 defaults to 21)
	User     string `json:"user"`     // FTP user
	Password string `json:"password"` // FTP password
	Path     string `json:"path"`     // remote directory for trigger files
}

// System is one physical sync target within an area: a directory the
// compressed dump is copied into plus the notify handshake config.
type System struct {
	Name      string       `json:"name"`
	Directory string       `json:"directory"` // relative to the distribution root
	URLPath   string       `json:"url_path"`
	Notify    NotifyConfig `json:"notify"`
	Hidden    bool         `json:"hidden"` // hidden from the UI but still targeted
}

// Area is a named grouping of target systems sharing sync scope
type Area struct {
	ID      int      `json:"id"`
	Name    string   `json:"name"`
	Systems []System `json:"systems"`
}

// Matches reports whether this area is selected by the given selector.
// An empty selector or "all" selects every area.
func (a *Area) Matches(selector string) bool {
	if selector == "" || strings.EqualFold(selector, "all") {
		return true
	}
	return strings.EqualFold(a.Name, selector)
}

// Directories returns the absolute target directory of every system in the
// area, resolved against the distribution root.
func (a *Area) Directories(root string) []string {
	dirs := make([]string, 0, len(a.Systems))
	for _, sys := range a.Systems {
		dirs = append(dirs, filepath.Join(root, sys.Directory))
	}
	return dirs
}

// EnsureDirectories lazily creates every system directory of the area.
// Directories must exist before any write.
func (a *Area) EnsureDirectories(root string) error {
	for _, dir := range a.Directories(root) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create target directory %s: %w", dir, err)
		}
	}
	return nil
}

// FindArea returns the areas from the given set selected by the selector
func FindArea(areas []Area, selector string) []Area {
	var matched []Area
	for _, area := range areas {
		if area.Matches(selector) {
			matched = append(matched, area)
		}
	}
	return matched
}
