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

// Package safeguards stitches the differential scanner, verification
// cache, tier pipeline, sampling engine, and confidence aggregator into a
// per-session policy: when any optimization is active it tightens the
// other subsystems' knobs automatically, and it reasons about whether the
// resulting confidence is strong enough to let the session converge.
package safeguards

import (
	"sort"
	"time"

	"github.com/kraklabs/elenchus/pkg/confidence"
)

// Level is the overall quality bucket, worst to best ordered for gating.
type Level string

const (
	LevelExcellent    Level = "EXCELLENT"
	LevelGood         Level = "GOOD"
	LevelAcceptable   Level = "ACCEPTABLE"
	LevelPoor         Level = "POOR"
	LevelUnacceptable Level = "UNACCEPTABLE"
)

var levelRank = map[Level]int{
	LevelUnacceptable: 0,
	LevelPoor:         1,
	LevelAcceptable:   2,
	LevelGood:         3,
	LevelExcellent:    4,
}

func levelFor(score float64) Level {
	switch {
	case score >= 0.9:
		return LevelExcellent
	case score >= 0.75:
		return LevelGood
	case score >= 0.6:
		return LevelAcceptable
	case score >= 0.4:
		return LevelPoor
	default:
		return LevelUnacceptable
	}
}

// Metrics is the quantitative breakdown behind the quality score.
type Metrics struct {
	Coverage              float64 `json:"coverage"`
	Confidence            float64 `json:"confidence"`
	SamplingProductivity  float64 `json:"samplingProductivity"` // 0-100
	IncrementalDrift      float64 `json:"incrementalDrift"`     // 0-1, fraction of files not freshly verified
}

// QualityAssessment is the aggregate safeguards verdict for a session.
type QualityAssessment struct {
	Score    float64  `json:"score"`
	Level    Level    `json:"level"`
	Metrics  Metrics  `json:"metrics"`
	Concerns []string `json:"concerns"`
	Actions  []string `json:"actions"`
}

// Assess computes the composite quality score:
// 0.4*confidence + 0.3*coverage + 0.2*(1-incrementalDrift) + 0.1*(1-samplingProductivity/100).
func Assess(m Metrics, errorClassConcern bool) QualityAssessment {
	score := 0.4*m.Confidence + 0.3*m.Coverage + 0.2*(1-m.IncrementalDrift) + 0.1*(1-m.SamplingProductivity/100)
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	qa := QualityAssessment{Score: score, Level: levelFor(score), Metrics: m}

	if m.Confidence < 0.6 {
		qa.Concerns = append(qa.Concerns, "aggregate confidence below acceptable floor")
	}
	if m.Coverage < 0.7 {
		qa.Concerns = append(qa.Concerns, "verification coverage incomplete")
	}
	if m.IncrementalDrift > 0.5 {
		qa.Concerns = append(qa.Concerns, "majority of files verified incrementally, not in full")
	}
	if m.SamplingProductivity > 30 {
		qa.Concerns = append(qa.Concerns, "spot-check sampling is finding issues at a high rate")
	}
	if errorClassConcern {
		qa.Concerns = append(qa.Concerns, "an error-class condition was recorded this session")
	}

	switch qa.Level {
	case LevelUnacceptable:
		qa.Actions = append(qa.Actions, "run a full, unoptimized re-verification before converging")
	case LevelPoor:
		qa.Actions = append(qa.Actions, "escalate remaining tiers and re-verify stale cache entries")
	case LevelAcceptable:
		qa.Actions = append(qa.Actions, "increase the sampling rate for the next round")
	}
	return qa
}

// PolicyConfig is a session's safeguards configuration, adopted from
// config.SafeguardsConfig plus the base rates of whichever optimizations
// are active (differential/cache/pipeline/sampling, each possibly
// carrying its own preferred sampling rate).
type PolicyConfig struct {
	Strict                      bool
	MinimumAcceptableConfidence float64
	IncrementalThreshold        int
	OptimizedIncrementalThresh  int
	MaxHoursSinceFull           float64
	ExtendedAlwaysFullPatterns  []string
	RecentMissWindowDays        int
	RecentMissThreshold         int

	BaseSamplingRate       float64
	DifferentialSampleRate float64
	CacheSampleRate        float64
	PipelineSampleRate     float64

	AlwaysFullPatterns []string
}

// ActivePolicy is the effective, auto-activated policy computed for a
// session given which optimizations are on.
type ActivePolicy struct {
	SamplingForced          bool
	PeriodicForced          bool
	EffectiveSamplingRate   float64
	EffectiveIncrementalThresh int
	AlwaysFullPatterns      []string
}

// AutoActivate enforces the auto-activation rule: when any
// optimization is on, sampling and periodic full-verification are forced
// on, the sampling rate becomes the max across base and every active
// optimization's preferred rate (differential >= cache >= pipeline by
// convention when tied), the incremental threshold tightens to the more
// aggressive of base and the optimized threshold, and the always-full
// pattern lists are merged and deduplicated.
func AutoActivate(cfg PolicyConfig, differentialOn, cacheOn, pipelineOn bool) ActivePolicy {
	anyOptimization := differentialOn || cacheOn || pipelineOn
	ap := ActivePolicy{AlwaysFullPatterns: dedupe(cfg.AlwaysFullPatterns)}

	if !anyOptimization {
		ap.EffectiveSamplingRate = cfg.BaseSamplingRate
		ap.EffectiveIncrementalThresh = cfg.IncrementalThreshold
		return ap
	}

	ap.SamplingForced = true
	ap.PeriodicForced = true

	rate := cfg.BaseSamplingRate
	if differentialOn && cfg.DifferentialSampleRate > rate {
		rate = cfg.DifferentialSampleRate
	}
	if cacheOn && cfg.CacheSampleRate > rate {
		rate = cfg.CacheSampleRate
	}
	if pipelineOn && cfg.PipelineSampleRate > rate {
		rate = cfg.PipelineSampleRate
	}
	ap.EffectiveSamplingRate = rate

	thresh := cfg.IncrementalThreshold
	if cfg.OptimizedIncrementalThresh > 0 && cfg.OptimizedIncrementalThresh < thresh {
		thresh = cfg.OptimizedIncrementalThresh
	}
	ap.EffectiveIncrementalThresh = thresh

	ap.AlwaysFullPatterns = dedupe(append(append([]string{}, cfg.AlwaysFullPatterns...), cfg.ExtendedAlwaysFullPatterns...))

	return ap
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// PeriodicState is the per-project incremental-verification tracker
// persisted at ${DATA_DIR}/safeguards/periodic-trackers.json.
type PeriodicState struct {
	IncrementalCount int       `json:"incrementalCount"`
	LastFullAt       time.Time `json:"lastFullAt"`
	RecentMissPaths  map[string]int `json:"recentMissPaths,omitempty"`
}

// PeriodicCheckResult reports whether a full (non-optimized) verification
// pass must be forced this round, and why.
type PeriodicCheckResult struct {
	ForceFull bool
	Reason    string
}

// CheckPeriodic decides whether a periodic full pass is due: a full
// verification is forced when the incremental count has reached the
// threshold, too much time has passed since the last full pass, the
// confidence floor has been breached, a changed path matches an
// always-full pattern, or a recent-misses pattern intersects the current
// changed-file set.
func CheckPeriodic(
	state PeriodicState,
	policy ActivePolicy,
	now time.Time,
	maxHoursSinceFull float64,
	confidenceFloorBreached bool,
	changedPaths []string,
	alwaysFullMatch func(path string) bool,
	missThreshold int,
) PeriodicCheckResult {
	if state.IncrementalCount >= policy.EffectiveIncrementalThresh {
		return PeriodicCheckResult{true, "incremental verification count reached the forcing threshold"}
	}
	if maxHoursSinceFull > 0 && !state.LastFullAt.IsZero() {
		if now.Sub(state.LastFullAt).Hours() >= maxHoursSinceFull {
			return PeriodicCheckResult{true, "too many hours have elapsed since the last full verification"}
		}
	}
	if confidenceFloorBreached {
		return PeriodicCheckResult{true, "aggregate confidence has fallen below the configured floor"}
	}
	for _, p := range changedPaths {
		if alwaysFullMatch != nil && alwaysFullMatch(p) {
			return PeriodicCheckResult{true, "a changed path matches an always-full verification pattern"}
		}
	}
	if missThreshold > 0 {
		for _, p := range changedPaths {
			if state.RecentMissPaths[p] >= missThreshold {
				return PeriodicCheckResult{true, "a changed path has recorded repeated historical misses"}
			}
		}
	}
	return PeriodicCheckResult{}
}

// GateDecision is the result of ShouldAllowConvergence.
type GateDecision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// ShouldAllowConvergence gates convergence on quality: in strict mode,
// block on any level <= POOR or confidence below the minimum-acceptable
// floor; in normal mode, block only on UNACCEPTABLE or an error-class
// concern.
func ShouldAllowConvergence(qa QualityAssessment, strict bool, minimumAcceptable float64, errorClassConcern bool) GateDecision {
	if strict {
		if levelRank[qa.Level] <= levelRank[LevelPoor] {
			return GateDecision{false, "strict mode blocks convergence at POOR quality or below"}
		}
		if qa.Metrics.Confidence < minimumAcceptable {
			return GateDecision{false, "strict mode blocks convergence below the minimum-acceptable confidence"}
		}
		return GateDecision{true, "quality and confidence clear the strict-mode floor"}
	}
	if qa.Level == LevelUnacceptable {
		return GateDecision{false, "overall quality assessment is UNACCEPTABLE"}
	}
	if errorClassConcern {
		return GateDecision{false, "an unresolved error-class concern blocks convergence"}
	}
	return GateDecision{true, "no blocking concern in normal mode"}
}

// Coordinator holds the per-session safeguards record: policy, per-file
// confidence observations, and the last computed assessment.
type Coordinator struct {
	Policy      PolicyConfig
	Active      ActivePolicy
	PerFile     map[string]confidence.Score
	LastAssess  QualityAssessment
}

// NewCoordinator builds a Coordinator, computing the auto-activated policy
// up front.
func NewCoordinator(cfg PolicyConfig, differentialOn, cacheOn, pipelineOn bool) *Coordinator {
	return &Coordinator{
		Policy:  cfg,
		Active:  AutoActivate(cfg, differentialOn, cacheOn, pipelineOn),
		PerFile: make(map[string]confidence.Score),
	}
}

// Observe records (or overwrites) one file's confidence score.
func (c *Coordinator) Observe(path string, score confidence.Score) {
	c.PerFile[path] = score
}

// Recompute aggregates the current per-file observations into a fresh
// QualityAssessment, given the incremental-drift and sampling-productivity
// signals (supplied by the caller since they're session-scoped state the
// coordinator doesn't itself own).
func (c *Coordinator) Recompute(incrementalDrift, samplingProductivity float64, errorClassConcern bool) QualityAssessment {
	agg := confidence.Aggregate(c.PerFile)
	coverage := 0.0
	if len(c.PerFile) > 0 {
		coverage = 1.0 // every file in PerFile has been observed by definition
	}
	m := Metrics{
		Coverage:             coverage,
		Confidence:           agg.MeanScore,
		SamplingProductivity: samplingProductivity,
		IncrementalDrift:      incrementalDrift,
	}
	c.LastAssess = Assess(m, errorClassConcern)
	return c.LastAssess
}
