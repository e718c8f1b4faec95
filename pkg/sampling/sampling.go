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

// Package sampling weighted-selects files excluded by an optimization
// (differential, cache, tiering) for spot-check verification, using a
// seeded linear-congruential generator so the same (files, weights, seed)
// always reproduces the same sample.
package sampling

import (
	"math"

	"github.com/kraklabs/elenchus/pkg/pipeline"
)

// Strategy selects how per-file weights are computed.
type Strategy string

const (
	StrategyUniform            Strategy = "UNIFORM"
	StrategyRiskWeighted       Strategy = "RISK_WEIGHTED"
	StrategyChangeWeighted     Strategy = "CHANGE_WEIGHTED"
	StrategyDependencyWeighted Strategy = "DEPENDENCY_WEIGHTED"
)

// Candidate is one file eligible for sampling, carrying the signals the
// weighting strategies need.
type Candidate struct {
	Path             string
	DependencyCount  int
	HistoricalIssues int  // count of issues historically raised against this path
	HighFanIn        bool // importance-derived: many dependents
	EntryPoint       bool // path looks like an entry point (main, index, cmd/)
	Changed          bool // change metadata available (for CHANGE_WEIGHTED)
	RecentMiss       bool // recorded sampling misses for this path reached the threshold
}

// Sampled is one file chosen for spot-check verification.
type Sampled struct {
	Path   string  `json:"path"`
	Weight float64 `json:"weight"`
}

// Result is the outcome of a sampling selection.
type Result struct {
	Sampled   []Sampled `json:"sampled"`
	Eligible  int       `json:"eligible"`
	Target    int       `json:"target"`
	Seed      int64     `json:"seed"`
	Strategy  Strategy  `json:"strategy"`
}

// RNG is a 31-bit linear-congruential generator: state =
// (state*1103515245 + 12345) mod 2^31. Deterministic and reproducible
// given a seed — no cryptographic properties are required or claimed.
type RNG struct {
	state int64
}

const (
	lcgA    = 1103515245
	lcgC    = 12345
	lcgMod  = 1 << 31
)

// NewRNG seeds the generator. A zero seed is accepted as-is (it still
// produces a deterministic, reproducible stream).
func NewRNG(seed int64) *RNG {
	return &RNG{state: seed % lcgMod}
}

// next advances the generator and returns the raw 31-bit state.
func (r *RNG) next() int64 {
	r.state = (r.state*lcgA + lcgC) % lcgMod
	if r.state < 0 {
		r.state += lcgMod
	}
	return r.state
}

// Float64 returns a uniform variate in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.next()) / float64(lcgMod)
}

// historicalBoostDefault is applied multiplicatively when a candidate has
// recorded misses, unless the caller supplies an override.
const historicalBoostDefault = 1.5

// Weight computes a candidate's sampling weight under strategy.
func Weight(strategy Strategy, c Candidate, historicalBoost float64) float64 {
	if historicalBoost <= 0 {
		historicalBoost = historicalBoostDefault
	}

	var w float64
	switch strategy {
	case StrategyRiskWeighted:
		w = 1.0
		if isSecuritySensitive(c.Path) {
			w += 0.3
		}
		if c.EntryPoint {
			w += 0.1
		}
		histBoost := math.Min(0.3, 0.1*float64(c.HistoricalIssues))
		w += histBoost
		if c.HighFanIn {
			w += 0.1
		}
	case StrategyChangeWeighted:
		w = 1.0
		if c.Changed {
			w = 2.0
		}
	case StrategyDependencyWeighted:
		w = 1.0 + 0.1*float64(c.DependencyCount)
		if w > 2.0 {
			w = 2.0
		}
	case StrategyUniform:
		fallthrough
	default:
		w = 1.0
	}

	if c.RecentMiss {
		w *= historicalBoost
	}
	if w <= 0 {
		w = 0.0001 // never let a weight reach zero; it would be unselectable forever
	}
	return w
}

func isSecuritySensitive(path string) bool {
	m, _ := pipeline.NewPatternMatcher([]string{
		"(?i)auth", "(?i)security", "(?i)crypto", "(?i)payment", "(?i)secret",
	})
	return m.Match(path)
}

// clamp bounds the target sample size to [minSamples, maxSamples].
func clamp(n, minSamples, maxSamples int) int {
	if n < minSamples {
		n = minSamples
	}
	if maxSamples > 0 && n > maxSamples {
		n = maxSamples
	}
	return n
}

// TargetSize computes ceil(eligible * rate/100) clamped to [min, max].
func TargetSize(eligible int, ratePercent float64, minSamples, maxSamples int) int {
	raw := int(math.Ceil(float64(eligible) * ratePercent / 100.0))
	return clamp(raw, minSamples, maxSamples)
}

// Select performs weighted-without-replacement sampling: never-sample
// patterns are filtered out first, always-sample patterns are force-
// included, and the remaining budget is drawn by recomputing the total
// weight over the shrinking pool after every draw (recomputation is
// mandatory — caching the initial total and subtracting drifts the
// distribution as elements are removed).
func Select(
	strategy Strategy,
	candidates []Candidate,
	neverSample, alwaysSample *pipeline.PatternMatcher,
	ratePercent float64,
	minSamples, maxSamples int,
	historicalBoost float64,
	seed int64,
) Result {
	rng := NewRNG(seed)

	var eligible []Candidate
	var forced []Candidate
	for _, c := range candidates {
		if neverSample != nil && neverSample.Match(c.Path) {
			continue
		}
		if alwaysSample != nil && alwaysSample.Match(c.Path) {
			forced = append(forced, c)
			continue
		}
		eligible = append(eligible, c)
	}

	target := TargetSize(len(eligible)+len(forced), ratePercent, minSamples, maxSamples)

	out := make([]Sampled, 0, target)
	for _, c := range forced {
		out = append(out, Sampled{Path: c.Path, Weight: Weight(strategy, c, historicalBoost)})
	}

	remaining := target - len(forced)
	pool := eligible

	for remaining > 0 && len(pool) > 0 {
		// Weights are recomputed fresh from the current pool every round so
		// the cumulative distribution always reflects what's actually left.
		weights := make([]float64, len(pool))
		var total float64
		for i, c := range pool {
			weights[i] = Weight(strategy, c, historicalBoost)
			total += weights[i]
		}

		threshold := rng.Float64() * total
		var acc float64
		chosen := len(pool) - 1
		for i, w := range weights {
			acc += w
			if threshold < acc {
				chosen = i
				break
			}
		}

		out = append(out, Sampled{Path: pool[chosen].Path, Weight: weights[chosen]})
		pool = append(pool[:chosen], pool[chosen+1:]...)
		remaining--
	}

	return Result{
		Sampled:  out,
		Eligible: len(eligible) + len(forced),
		Target:   target,
		Seed:     seed,
		Strategy: strategy,
	}
}
