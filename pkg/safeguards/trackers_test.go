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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrackerStore_RoundTripsAcrossInstances(t *testing.T) {
	dir := t.TempDir()

	store := NewTrackerStore(dir)
	require.NoError(t, store.Update("proj1", func(st *PeriodicState) {
		st.IncrementalCount = 4
		st.RecentMissPaths["auth.go"] = 2
	}))

	// A fresh store instance must see the persisted state.
	reloaded := NewTrackerStore(dir)
	state := reloaded.Get("proj1")
	assert.Equal(t, 4, state.IncrementalCount)
	assert.Equal(t, 2, state.RecentMissPaths["auth.go"])
}

func TestTrackerStore_UnknownProjectIsZeroValued(t *testing.T) {
	store := NewTrackerStore(t.TempDir())
	state := store.Get("never-seen")
	assert.Zero(t, state.IncrementalCount)
	assert.True(t, state.LastFullAt.IsZero())
}

func TestTrackerStore_GetReturnsACopy(t *testing.T) {
	store := NewTrackerStore(t.TempDir())
	require.NoError(t, store.Update("proj1", func(st *PeriodicState) {
		st.RecentMissPaths["a.go"] = 1
	}))

	state := store.Get("proj1")
	state.RecentMissPaths["a.go"] = 99

	assert.Equal(t, 1, store.Get("proj1").RecentMissPaths["a.go"])
}

func TestTrackerStore_CorruptFileTreatedAsEmpty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "safeguards"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "safeguards", "periodic-trackers.json"), []byte("{not json"), 0o644))

	store := NewTrackerStore(dir)
	assert.Zero(t, store.Get("proj1").IncrementalCount)

	// The next update overwrites the corrupt file with valid state.
	require.NoError(t, store.Update("proj1", func(st *PeriodicState) { st.IncrementalCount = 1 }))
	assert.Equal(t, 1, NewTrackerStore(dir).Get("proj1").IncrementalCount)
}
