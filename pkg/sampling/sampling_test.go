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

package sampling

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/elenchus/pkg/pipeline"
)

func thirtyFiles() []Candidate {
	out := make([]Candidate, 0, 30)
	for i := 0; i < 30; i++ {
		out = append(out, Candidate{Path: fmt.Sprintf("pkg/file%02d.go", i)})
	}
	return out
}

// TestSelect_SeededReproducibility: with a fixed
// seed and file list, two independent invocations return identical
// ordered samples.
func TestSelect_SeededReproducibility(t *testing.T) {
	candidates := thirtyFiles()

	run := func() []string {
		res := Select(StrategyRiskWeighted, candidates, nil, nil, 10, 2, 20, 0, 42)
		paths := make([]string, len(res.Sampled))
		for i, s := range res.Sampled {
			paths[i] = s.Path
		}
		return paths
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestSelect_NeverSampleExcludedAlwaysSampleForced(t *testing.T) {
	candidates := []Candidate{
		{Path: "vendor/lib.go"},
		{Path: "auth/login.go"},
		{Path: "app/main.go"},
	}
	never, err := pipeline.NewPatternMatcher([]string{"vendor/**"})
	require.NoError(t, err)
	always, err := pipeline.NewPatternMatcher([]string{"auth/**"})
	require.NoError(t, err)

	res := Select(StrategyUniform, candidates, never, always, 100, 1, 10, 0, 7)
	var paths []string
	for _, s := range res.Sampled {
		paths = append(paths, s.Path)
	}
	assert.Contains(t, paths, "auth/login.go")
	assert.NotContains(t, paths, "vendor/lib.go")
}

func TestTargetSize_ClampsToRange(t *testing.T) {
	assert.Equal(t, 2, TargetSize(10, 10, 2, 20)) // ceil(1) clamped up to min
	assert.Equal(t, 20, TargetSize(1000, 50, 2, 20))
	assert.Equal(t, 3, TargetSize(25, 10, 1, 20)) // ceil(2.5)=3
}

func TestWeight_RiskWeightedFactorsCompose(t *testing.T) {
	base := Weight(StrategyRiskWeighted, Candidate{Path: "app/handler.go"}, 0)
	risky := Weight(StrategyRiskWeighted, Candidate{
		Path: "app/auth/handler.go", EntryPoint: true, HistoricalIssues: 5, HighFanIn: true,
	}, 0)
	assert.Greater(t, risky, base)
}

func TestWeight_RecentMissAppliesHistoricalBoost(t *testing.T) {
	plain := Weight(StrategyUniform, Candidate{Path: "a.go"}, 0)
	boosted := Weight(StrategyUniform, Candidate{Path: "a.go", RecentMiss: true}, 0)
	assert.InDelta(t, plain*historicalBoostDefault, boosted, 1e-9)
}

func TestRNG_DeterministicStream(t *testing.T) {
	a := NewRNG(42)
	b := NewRNG(42)
	for i := 0; i < 10; i++ {
		assert.Equal(t, a.Float64(), b.Float64())
	}
}

func TestRNG_UniformInclusionConvergesToTargetOverEligible(t *testing.T) {
	candidates := thirtyFiles()
	counts := make(map[string]int)
	const runs = 400
	for seed := int64(0); seed < runs; seed++ {
		res := Select(StrategyUniform, candidates, nil, nil, 10, 3, 3, 0, seed)
		for _, s := range res.Sampled {
			counts[s.Path]++
		}
	}
	expected := float64(3) / float64(30)
	tolerance := 3.0 / math.Sqrt(runs) * expected // O(1/sqrt(N)) slack
	for _, c := range candidates {
		freq := float64(counts[c.Path]) / float64(runs)
		assert.InDeltaf(t, expected, freq, tolerance+0.05, "path %s frequency out of bounds", c.Path)
	}
}
