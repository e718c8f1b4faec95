// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher proactively invalidates cache entries for a file the moment it
// changes on disk, instead of waiting for the next lookup to notice a
// stale fingerprint. Opt-in: most sessions are short-lived enough that
// this isn't worth the extra OS resources.
type Watcher struct {
	fsw     *fsnotify.Watcher
	cache   *Cache
	logger  *slog.Logger
	fingerprintsByPath map[string][]string // path -> fingerprints to invalidate on change
}

// NewWatcher creates a Watcher backed by the given cache. Call Watch to
// register paths and Start to begin consuming events; Close releases the
// underlying fsnotify handle.
func NewWatcher(c *Cache, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		fsw:                fsw,
		cache:              c,
		logger:             logger,
		fingerprintsByPath: make(map[string][]string),
	}, nil
}

// Watch registers path for change notifications and associates it with
// fingerprint, so a write/remove event invalidates that cache entry.
func (w *Watcher) Watch(path, fingerprint string) error {
	w.fingerprintsByPath[path] = append(w.fingerprintsByPath[path], fingerprint)
	return w.fsw.Add(path)
}

// Start runs the event loop until the watcher is closed. Intended to be
// called in its own goroutine.
func (w *Watcher) Start() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				for _, fp := range w.fingerprintsByPath[event.Name] {
					w.cache.Invalidate(fp)
				}
				w.logger.Debug("cache.watcher.invalidated", "path", event.Name, "op", event.Op.String())
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("cache.watcher.error", "err", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}
