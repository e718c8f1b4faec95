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

package safeguards

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/kraklabs/elenchus/internal/errors"
)

// TrackerStore persists per-project PeriodicState under
// ${DataDir}/safeguards/periodic-trackers.json: one file for every
// project, keyed by project hash. The on-disk copy is loaded lazily on
// first access, mutated in memory, and written back explicitly after
// each update.
type TrackerStore struct {
	dataDir string

	mu       sync.Mutex
	loaded   bool
	trackers map[string]*PeriodicState
}

// NewTrackerStore builds a TrackerStore rooted at dataDir.
func NewTrackerStore(dataDir string) *TrackerStore {
	return &TrackerStore{dataDir: dataDir, trackers: make(map[string]*PeriodicState)}
}

func (t *TrackerStore) path() string {
	return filepath.Join(t.dataDir, "safeguards", "periodic-trackers.json")
}

// load reads the tracker file once; a missing file means no trackers yet,
// a corrupt one is treated as empty (and will be overwritten on the next
// update). Callers must hold t.mu.
func (t *TrackerStore) load() {
	if t.loaded {
		return
	}
	t.loaded = true
	data, err := os.ReadFile(t.path())
	if err != nil {
		return
	}
	var trackers map[string]*PeriodicState
	if json.Unmarshal(data, &trackers) == nil && trackers != nil {
		t.trackers = trackers
	}
}

// Get returns a copy of the tracker for projectHash (zero-valued when the
// project has never been tracked).
func (t *TrackerStore) Get(projectHash string) PeriodicState {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()
	if state, ok := t.trackers[projectHash]; ok {
		cp := *state
		cp.RecentMissPaths = make(map[string]int, len(state.RecentMissPaths))
		for k, v := range state.RecentMissPaths {
			cp.RecentMissPaths[k] = v
		}
		return cp
	}
	return PeriodicState{}
}

// Update applies mutate to the tracker for projectHash and writes the
// whole tracker map back, retrying the write once before surfacing an
// IOError.
func (t *TrackerStore) Update(projectHash string, mutate func(*PeriodicState)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.load()

	state, ok := t.trackers[projectHash]
	if !ok {
		state = &PeriodicState{RecentMissPaths: make(map[string]int)}
		t.trackers[projectHash] = state
	}
	if state.RecentMissPaths == nil {
		state.RecentMissPaths = make(map[string]int)
	}
	mutate(state)

	dir := filepath.Dir(t.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError("failed to create safeguards directory", err.Error(), err)
	}
	data, err := json.MarshalIndent(t.trackers, "", "  ")
	if err != nil {
		return errors.NewIOError("failed to marshal periodic trackers", err.Error(), err)
	}
	if werr := os.WriteFile(t.path(), data, 0o644); werr != nil {
		if werr = os.WriteFile(t.path(), data, 0o644); werr != nil {
			return errors.NewIOError("failed to persist periodic trackers", "path="+t.path(), werr)
		}
	}
	return nil
}
