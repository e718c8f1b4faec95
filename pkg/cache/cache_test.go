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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableAndDistinct(t *testing.T) {
	a := Fingerprint("content", "reqs", "verifier", "screen")
	b := Fingerprint("content", "reqs", "verifier", "screen")
	c := Fingerprint("content", "reqs", "critic", "screen")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

func TestCache_LookupMissThenHit(t *testing.T) {
	c := New(time.Hour, 0.1, 0.5, 10)
	now := time.Now()

	miss := c.Lookup("fp1", now)
	assert.False(t, miss.Hit)

	c.Put("fp1", "artifact", 1.0, now)
	hit := c.Lookup("fp1", now)
	assert.True(t, hit.Hit)
	assert.Equal(t, "artifact", hit.Entry.Artifact)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New(time.Minute, 0.1, 0.5, 10)
	now := time.Now()
	c.Put("fp1", "artifact", 1.0, now)

	later := now.Add(2 * time.Minute)
	result := c.Lookup("fp1", later)
	assert.False(t, result.Hit)
}

func TestCache_DecaysConfidenceAfterHalfTTL(t *testing.T) {
	c := New(2*time.Hour, 0.1, 0.1, 10)
	now := time.Now()
	c.Put("fp1", "artifact", 1.0, now)

	// Halfway point: no decay yet.
	atHalf := now.Add(time.Hour)
	half := c.Lookup("fp1", atHalf)
	assert.True(t, half.Hit)
	assert.Equal(t, 1.0, half.Confidence)

	// Past halfway: confidence should have decayed.
	later := now.Add(time.Hour + 30*time.Minute)
	result := c.Lookup("fp1", later)
	assert.Less(t, result.Confidence, 1.0)
}

func TestCache_RejectsHitBelowMinConfidence(t *testing.T) {
	c := New(2*time.Hour, 1.0, 0.9, 10)
	now := time.Now()
	c.Put("fp1", "artifact", 1.0, now)

	later := now.Add(time.Hour + 10*time.Minute)
	result := c.Lookup("fp1", later)
	assert.False(t, result.Hit)
}

func TestCache_EvictsLRUAtCapacity(t *testing.T) {
	c := New(time.Hour, 0, 0, 2)
	now := time.Now()
	c.Put("fp1", "a", 1.0, now)
	c.Put("fp2", "b", 1.0, now)
	// Touch fp1 so it's most-recently-used; fp2 should be evicted next.
	c.Lookup("fp1", now)
	c.Put("fp3", "c", 1.0, now)

	assert.Equal(t, 2, c.Len())
	assert.True(t, c.Lookup("fp1", now).Hit)
	assert.True(t, c.Lookup("fp3", now).Hit)
	assert.False(t, c.Lookup("fp2", now).Hit)
}

func TestCache_InvalidateRemovesEntry(t *testing.T) {
	c := New(time.Hour, 0, 0, 10)
	now := time.Now()
	c.Put("fp1", "a", 1.0, now)
	c.Invalidate("fp1")
	assert.False(t, c.Lookup("fp1", now).Hit)
}
