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

package baseline

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectHash_StableAnd16Chars(t *testing.T) {
	a := ProjectHash("/home/user/project")
	b := ProjectHash("/home/user/project")
	c := ProjectHash("/home/user/other")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestStore_SaveThenLoadRoundTrips(t *testing.T) {
	store := NewStore(t.TempDir())
	hash := ProjectHash("/repo")
	b := &Baseline{
		ProjectHash: hash, Timestamp: time.Now(), Target: "/repo", SessionID: "s1",
		Verdict: VerdictPass, FileHashes: map[string]string{"a.go": "abc"}, TotalFiles: 1,
	}
	require.NoError(t, store.Save(b))

	loaded, err := store.Load(hash)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, b.SessionID, loaded.SessionID)
	assert.Equal(t, b.FileHashes, loaded.FileHashes)
}

func TestStore_LoadMissingReturnsNilNoError(t *testing.T) {
	store := NewStore(t.TempDir())
	loaded, err := store.Load(ProjectHash("/nowhere"))
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_HistoryTruncatedToLimit(t *testing.T) {
	store := NewStore(t.TempDir())
	hash := ProjectHash("/repo")
	for i := 0; i < historyLimit+5; i++ {
		b := &Baseline{
			ProjectHash: hash, Timestamp: time.Now(), Target: "/repo",
			SessionID: fmt.Sprintf("s%d", i), Verdict: VerdictPass, FileHashes: map[string]string{},
		}
		require.NoError(t, store.Save(b))
	}
	hist, err := store.History(hash)
	require.NoError(t, err)
	assert.Len(t, hist, historyLimit)
	// Most-recently-superseded baseline is first.
	assert.Equal(t, fmt.Sprintf("s%d", historyLimit+3), hist[0].SessionID)
}

func TestStore_OnePerProjectOverwritesCurrent(t *testing.T) {
	store := NewStore(t.TempDir())
	hash := ProjectHash("/repo")
	require.NoError(t, store.Save(&Baseline{ProjectHash: hash, Timestamp: time.Now(), SessionID: "first", Verdict: VerdictPass, FileHashes: map[string]string{}}))
	require.NoError(t, store.Save(&Baseline{ProjectHash: hash, Timestamp: time.Now(), SessionID: "second", Verdict: VerdictPass, FileHashes: map[string]string{}}))

	loaded, err := store.Load(hash)
	require.NoError(t, err)
	assert.Equal(t, "second", loaded.SessionID)

	hist, err := store.History(hash)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "first", hist[0].SessionID)
}
