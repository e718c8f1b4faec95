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

package confidence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFor_Thresholds(t *testing.T) {
	assert.Equal(t, LevelHigh, LevelFor(0.85))
	assert.Equal(t, LevelMedium, LevelFor(0.7))
	assert.Equal(t, LevelLow, LevelFor(0.5))
	assert.Equal(t, LevelUnreliable, LevelFor(0.49))
}

func TestFull_IsPerfectWithNoWarnings(t *testing.T) {
	s := Full()
	assert.Equal(t, 1.0, s.Value)
	assert.Equal(t, LevelHigh, s.Level)
	assert.Empty(t, s.Warnings)
}

func TestCache_StaleEntryLowerThanFresh(t *testing.T) {
	fresh := Cache(CacheParams{AgeFraction: 0.1, HistoricalAccuracy: 1})
	stale := Cache(CacheParams{AgeFraction: 0.9, HistoricalAccuracy: 1})
	assert.Greater(t, fresh.Value, stale.Value)
	assert.Empty(t, fresh.Warnings)
	assert.NotEmpty(t, stale.Warnings)
}

func TestCache_RequirementsChangedAttachesContextMismatch(t *testing.T) {
	s := Cache(CacheParams{RequirementsChanged: true, HistoricalAccuracy: 1})
	found := false
	for _, w := range s.Warnings {
		if w.Code == WarnContextMismatch {
			found = true
		}
	}
	assert.True(t, found)
}

func TestChunk_CrossChunkCallsPenaltyCapped(t *testing.T) {
	s := Chunk(ChunkParams{DependencyCoverageFraction: 1, CrossChunkCalls: 100, HistoricalAccuracy: 1})
	var impact float64
	for _, w := range s.Warnings {
		if w.Code == WarnCrossFileRisk {
			impact = w.Impact
		}
	}
	assert.Equal(t, 0.2, impact, "penalty caps at 0.2 regardless of call count")
}

func TestTiered_MethodBasePerTierAndSkipPenalty(t *testing.T) {
	full := Tiered(TieredParams{Tier: "exhaustive", SkippedTiers: 0, HistoricalAccuracy: 1})
	skipped := Tiered(TieredParams{Tier: "exhaustive", SkippedTiers: 2, HistoricalAccuracy: 1})
	assert.Greater(t, full.Value, skipped.Value)
	assert.Equal(t, 0.4, tierMethodBase["screen"])
	assert.Equal(t, 0.7, tierMethodBase["focused"])
	assert.Equal(t, 1.0, tierMethodBase["exhaustive"])
}

func TestSampled_ProductiveLowerThanClean(t *testing.T) {
	clean := Sampled(false)
	productive := Sampled(true)
	assert.Equal(t, 0.95, clean.Value)
	assert.Equal(t, 0.9, productive.Value)
}

func TestAggregate_EmptyIsUnreliable(t *testing.T) {
	agg := Aggregate(nil)
	assert.Equal(t, LevelUnreliable, agg.Level)
}

func TestAggregate_MeanAndRecommendations(t *testing.T) {
	perFile := map[string]Score{
		"a.go": Full(),
		"b.go": Cache(CacheParams{AgeFraction: 0.9, HistoricalAccuracy: 1}),
	}
	agg := Aggregate(perFile)
	assert.InDelta(t, (perFile["a.go"].Value+perFile["b.go"].Value)/2, agg.MeanScore, 1e-9)
	assert.Contains(t, agg.Recommendations, RecommendReVerifyStale)
}

func TestAggregate_LowLevelRecommendsFullVerification(t *testing.T) {
	perFile := map[string]Score{
		"a.go": {Source: SourceSampled, Value: 0.3, Level: LevelFor(0.3)},
	}
	agg := Aggregate(perFile)
	assert.Contains(t, agg.Recommendations, RecommendFullVerification)
}
