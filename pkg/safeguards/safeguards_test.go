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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/elenchus/pkg/confidence"
)

func TestAutoActivate_NoOptimizationLeavesBaseRate(t *testing.T) {
	cfg := PolicyConfig{BaseSamplingRate: 10, IncrementalThreshold: 10}
	ap := AutoActivate(cfg, false, false, false)
	assert.False(t, ap.SamplingForced)
	assert.False(t, ap.PeriodicForced)
	assert.Equal(t, 10.0, ap.EffectiveSamplingRate)
}

func TestAutoActivate_AnyOptimizationForcesSamplingAndPeriodic(t *testing.T) {
	cfg := PolicyConfig{
		BaseSamplingRate: 10, DifferentialSampleRate: 30, CacheSampleRate: 20, PipelineSampleRate: 15,
		IncrementalThreshold: 10, OptimizedIncrementalThresh: 5,
	}
	ap := AutoActivate(cfg, true, true, true)
	assert.True(t, ap.SamplingForced)
	assert.True(t, ap.PeriodicForced)
	assert.Equal(t, 30.0, ap.EffectiveSamplingRate, "adopts the max across active optimizations' rates")
	assert.Equal(t, 5, ap.EffectiveIncrementalThresh, "tightens to the more aggressive threshold")
}

func TestAutoActivate_OnlyActiveOptimizationsContributeRate(t *testing.T) {
	cfg := PolicyConfig{BaseSamplingRate: 10, DifferentialSampleRate: 50, CacheSampleRate: 99}
	ap := AutoActivate(cfg, true, false, false)
	assert.Equal(t, 50.0, ap.EffectiveSamplingRate, "cache's rate must not leak in when cache is off")
}

func TestAutoActivate_MergesAndDedupesAlwaysFullPatterns(t *testing.T) {
	cfg := PolicyConfig{
		AlwaysFullPatterns:         []string{"auth/**", "common/**"},
		ExtendedAlwaysFullPatterns: []string{"common/**", "payments/**"},
	}
	ap := AutoActivate(cfg, true, false, false)
	assert.ElementsMatch(t, []string{"auth/**", "common/**", "payments/**"}, ap.AlwaysFullPatterns)
}

func TestAssess_CompositeScoreFormula(t *testing.T) {
	m := Metrics{Confidence: 1, Coverage: 1, IncrementalDrift: 0, SamplingProductivity: 0}
	qa := Assess(m, false)
	assert.InDelta(t, 1.0, qa.Score, 1e-9)
	assert.Equal(t, LevelExcellent, qa.Level)
	assert.Empty(t, qa.Concerns)
}

func TestAssess_LowConfidenceRaisesConcernAndPoorAction(t *testing.T) {
	m := Metrics{Confidence: 0.1, Coverage: 0.1, IncrementalDrift: 0.9, SamplingProductivity: 50}
	qa := Assess(m, false)
	assert.Equal(t, LevelUnacceptable, qa.Level)
	assert.NotEmpty(t, qa.Concerns)
	assert.Contains(t, qa.Actions, "run a full, unoptimized re-verification before converging")
}

func TestShouldAllowConvergence_StrictBlocksOnPoorOrBelow(t *testing.T) {
	qa := QualityAssessment{Level: LevelPoor, Metrics: Metrics{Confidence: 0.8}}
	dec := ShouldAllowConvergence(qa, true, 0.5, false)
	assert.False(t, dec.Allowed)
}

func TestShouldAllowConvergence_StrictBlocksBelowMinimumConfidence(t *testing.T) {
	qa := QualityAssessment{Level: LevelExcellent, Metrics: Metrics{Confidence: 0.4}}
	dec := ShouldAllowConvergence(qa, true, 0.7, false)
	assert.False(t, dec.Allowed)
}

func TestShouldAllowConvergence_NormalOnlyBlocksOnUnacceptableOrError(t *testing.T) {
	poor := QualityAssessment{Level: LevelPoor, Metrics: Metrics{Confidence: 0.3}}
	dec := ShouldAllowConvergence(poor, false, 0.7, false)
	assert.True(t, dec.Allowed, "normal mode tolerates POOR")

	unacceptable := QualityAssessment{Level: LevelUnacceptable}
	dec = ShouldAllowConvergence(unacceptable, false, 0.7, false)
	assert.False(t, dec.Allowed)

	good := QualityAssessment{Level: LevelGood}
	dec = ShouldAllowConvergence(good, false, 0.7, true)
	assert.False(t, dec.Allowed, "error-class concern blocks even a good level in normal mode")
}

func TestCheckPeriodic_ForcesFullOnThreshold(t *testing.T) {
	state := PeriodicState{IncrementalCount: 10}
	ap := ActivePolicy{EffectiveIncrementalThresh: 10}
	res := CheckPeriodic(state, ap, time.Now(), 0, false, nil, nil, 0)
	assert.True(t, res.ForceFull)
}

func TestCheckPeriodic_ForcesFullOnRecentMisses(t *testing.T) {
	state := PeriodicState{RecentMissPaths: map[string]int{"auth/login.go": 3}}
	ap := ActivePolicy{EffectiveIncrementalThresh: 100}
	res := CheckPeriodic(state, ap, time.Now(), 0, false, []string{"auth/login.go"}, nil, 3)
	assert.True(t, res.ForceFull)
	assert.Contains(t, res.Reason, "historical misses")
}

func TestCheckPeriodic_NoForceWhenNothingTrips(t *testing.T) {
	state := PeriodicState{IncrementalCount: 1, LastFullAt: time.Now()}
	ap := ActivePolicy{EffectiveIncrementalThresh: 100}
	res := CheckPeriodic(state, ap, time.Now(), 168, false, []string{"app/main.go"}, func(string) bool { return false }, 3)
	assert.False(t, res.ForceFull)
}

func TestCoordinator_RecomputeAggregatesObservations(t *testing.T) {
	c := NewCoordinator(PolicyConfig{BaseSamplingRate: 10, IncrementalThreshold: 10}, false, false, false)
	c.Observe("a.go", confidence.Full())
	c.Observe("b.go", confidence.Full())
	qa := c.Recompute(0, 0, false)
	assert.Equal(t, 1.0, qa.Metrics.Coverage)
	assert.InDelta(t, 1.0, qa.Metrics.Confidence, 1e-9)
	assert.Equal(t, LevelExcellent, qa.Level)
}
