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

// Package confidence scores how much a single file's verification result
// should be trusted, given which source produced it (a full pass, a cache
// hit, a chunked pass, a tier in the escalator, or a spot-check sample),
// and aggregates per-file scores into a session-wide assessment.
package confidence

import "sort"

// Source identifies which verification path produced a result.
type Source string

const (
	SourceFull    Source = "full"
	SourceCache   Source = "cache"
	SourceChunk   Source = "chunk"
	SourceTiered  Source = "tiered"
	SourceSampled Source = "sampled"
)

// Level is the discretized confidence bucket.
type Level string

const (
	LevelHigh       Level = "HIGH"
	LevelMedium     Level = "MEDIUM"
	LevelLow        Level = "LOW"
	LevelUnreliable Level = "UNRELIABLE"
)

// LevelFor discretizes a composite score into its level band.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.85:
		return LevelHigh
	case score >= 0.7:
		return LevelMedium
	case score >= 0.5:
		return LevelLow
	default:
		return LevelUnreliable
	}
}

// WarningCode enumerates the coded warnings a scoring function may attach.
type WarningCode string

const (
	WarnStaleCache          WarningCode = "STALE_CACHE"
	WarnContextMismatch     WarningCode = "CONTEXT_MISMATCH"
	WarnUnverifiedDependency WarningCode = "UNVERIFIED_DEPENDENCY"
	WarnChunkBoundary       WarningCode = "CHUNK_BOUNDARY"
	WarnCrossFileRisk       WarningCode = "CROSS_FILE_RISK"
)

// Warning is one coded concern with its score impact (always a penalty,
// i.e. a non-negative number to subtract from the composite).
type Warning struct {
	Code   WarningCode `json:"code"`
	Detail string      `json:"detail"`
	Impact float64     `json:"impact"`
}

// Factors is the five-weighted-factor breakdown shared by every source.
type Factors struct {
	MethodBase         float64 `json:"methodBase"`
	Freshness          float64 `json:"freshness"`
	ContextMatch       float64 `json:"contextMatch"`
	Coverage           float64 `json:"coverage"`
	HistoricalAccuracy float64 `json:"historicalAccuracy"`
}

// weights sum to 1.0 and are fixed per source.
var weights = Factors{
	MethodBase:         0.35,
	Freshness:          0.2,
	ContextMatch:       0.2,
	Coverage:           0.15,
	HistoricalAccuracy: 0.1,
}

// Score is the per-file confidence result.
type Score struct {
	Source   Source    `json:"source"`
	Value    float64   `json:"value"`
	Level    Level     `json:"level"`
	Factors  Factors   `json:"factors"`
	Warnings []Warning `json:"warnings,omitempty"`
}

func composite(f Factors, warnings []Warning) float64 {
	v := f.MethodBase*weights.MethodBase +
		f.Freshness*weights.Freshness +
		f.ContextMatch*weights.ContextMatch +
		f.Coverage*weights.Coverage +
		f.HistoricalAccuracy*weights.HistoricalAccuracy
	for _, w := range warnings {
		v -= w.Impact
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return v
}

func finish(source Source, f Factors, warnings []Warning) Score {
	v := composite(f, warnings)
	return Score{Source: source, Value: v, Level: LevelFor(v), Factors: f, Warnings: warnings}
}

// Full scores a file verified end-to-end in the current round: perfect
// confidence, no warnings.
func Full() Score {
	f := Factors{MethodBase: 1, Freshness: 1, ContextMatch: 1, Coverage: 1, HistoricalAccuracy: 1}
	return finish(SourceFull, f, nil)
}

// CacheParams are the inputs to the Cache scoring function.
type CacheParams struct {
	AgeFraction        float64 // age / TTL, in [0, ~1+]
	RequirementsChanged bool
	DependencySetChanged bool
	HistoricalAccuracy  float64
}

// Cache scores a cache-hit result. Freshness decays linearly once age
// passes half the TTL (mirrors pkg/cache's own decay curve, applied here
// to the confidence factor rather than the cache's stored value).
func Cache(p CacheParams) Score {
	freshness := 1.0
	if p.AgeFraction > 0.5 {
		freshness = 1 - 2*(p.AgeFraction-0.5)
		if freshness < 0 {
			freshness = 0
		}
	}

	f := Factors{MethodBase: 0.9, Freshness: freshness, ContextMatch: 1, Coverage: 1, HistoricalAccuracy: p.HistoricalAccuracy}
	var warnings []Warning
	if p.AgeFraction > 0.5 {
		warnings = append(warnings, Warning{Code: WarnStaleCache, Detail: "cache entry older than half its TTL", Impact: 0.05})
	}
	if p.RequirementsChanged {
		f.ContextMatch = 0.3
		warnings = append(warnings, Warning{Code: WarnContextMismatch, Detail: "requirements changed since this entry was cached", Impact: 0.15})
	}
	if p.DependencySetChanged {
		warnings = append(warnings, Warning{Code: WarnUnverifiedDependency, Detail: "the file's dependency set changed since caching", Impact: 0.1})
	}
	return finish(SourceCache, f, warnings)
}

// ChunkParams are the inputs to the Chunk scoring function.
type ChunkParams struct {
	DependencyCoverageFraction float64 // fraction of dependencies visible to the chunk
	CrossChunkCalls            int     // count of calls crossing a chunk boundary
	HistoricalAccuracy         float64
}

// Chunk scores a file verified by splitting it into functional units.
func Chunk(p ChunkParams) Score {
	f := Factors{MethodBase: 0.85, Freshness: 1, ContextMatch: p.DependencyCoverageFraction, Coverage: p.DependencyCoverageFraction, HistoricalAccuracy: p.HistoricalAccuracy}

	warnings := []Warning{{Code: WarnChunkBoundary, Detail: "verification occurred across a chunk boundary", Impact: 0.05}}
	if p.CrossChunkCalls > 0 {
		impact := 0.05 * float64(p.CrossChunkCalls)
		if impact > 0.2 {
			impact = 0.2
		}
		warnings = append(warnings, Warning{Code: WarnCrossFileRisk, Detail: "calls cross a chunk boundary", Impact: impact})
	}
	return finish(SourceChunk, f, warnings)
}

// tierMethodBase is the per-tier method-base factor.
var tierMethodBase = map[string]float64{
	"screen":     0.4,
	"focused":    0.7,
	"exhaustive": 1.0,
}

// TieredParams are the inputs to the Tiered scoring function.
type TieredParams struct {
	Tier               string
	SkippedTiers       int // count of tiers skipped en route to Tier
	HistoricalAccuracy float64
}

// Tiered scores a file verified through the screen/focused/exhaustive
// escalator, penalizing coverage for every tier that was skipped.
func Tiered(p TieredParams) Score {
	base := tierMethodBase[p.Tier]
	coverage := 1 - 0.2*float64(p.SkippedTiers)
	if coverage < 0 {
		coverage = 0
	}
	f := Factors{MethodBase: base, Freshness: 1, ContextMatch: 1, Coverage: coverage, HistoricalAccuracy: p.HistoricalAccuracy}
	return finish(SourceTiered, f, nil)
}

// Sampled scores a file verified as part of a spot-check sample. Per
// contract here, the composite is a fixed 0.9 when the sample was productive
// (it found something, validating that sampling there was worthwhile) and
// 0.95 otherwise (a clean sample is itself weak evidence of correctness,
// scored slightly higher than a productive one which surfaced doubt).
func Sampled(productive bool) Score {
	v := 0.95
	if productive {
		v = 0.9
	}
	f := Factors{MethodBase: v, Freshness: 1, ContextMatch: 1, Coverage: 1, HistoricalAccuracy: 1}
	return Score{Source: SourceSampled, Value: v, Level: LevelFor(v), Factors: f}
}

// RecommendationCode enumerates the session-level remediation buckets.
type RecommendationCode string

const (
	RecommendReVerifyStale   RecommendationCode = "RE_VERIFY_STALE"
	RecommendVerifyBoundaries RecommendationCode = "VERIFY_BOUNDARIES"
	RecommendCompleteTiers   RecommendationCode = "COMPLETE_TIERS"
	RecommendFullVerification RecommendationCode = "FULL_VERIFICATION"
)

// SessionAggregate is the session-wide roll-up of per-file scores.
type SessionAggregate struct {
	MeanScore       float64               `json:"meanScore"`
	Level           Level                 `json:"level"`
	PerFile         map[string]Score      `json:"perFile"`
	Warnings        []Warning             `json:"warnings"`
	Recommendations []RecommendationCode  `json:"recommendations"`
}

// Aggregate computes the arithmetic mean of per-file scores, unions their
// warnings, and derives ordered recommendation buckets from the warning
// codes present.
func Aggregate(perFile map[string]Score) SessionAggregate {
	agg := SessionAggregate{PerFile: perFile}
	if len(perFile) == 0 {
		agg.Level = LevelUnreliable
		return agg
	}

	var sum float64
	seen := make(map[WarningCode]bool)
	codesPresent := make(map[WarningCode]bool)
	paths := make([]string, 0, len(perFile))
	for p := range perFile {
		paths = append(paths, p)
	}
	sort.Strings(paths) // deterministic warning ordering

	for _, p := range paths {
		s := perFile[p]
		sum += s.Value
		for _, w := range s.Warnings {
			codesPresent[w.Code] = true
			if !seen[w.Code] {
				seen[w.Code] = true
				agg.Warnings = append(agg.Warnings, w)
			}
		}
	}
	agg.MeanScore = sum / float64(len(perFile))
	agg.Level = LevelFor(agg.MeanScore)

	if codesPresent[WarnStaleCache] || codesPresent[WarnContextMismatch] {
		agg.Recommendations = append(agg.Recommendations, RecommendReVerifyStale)
	}
	if codesPresent[WarnChunkBoundary] || codesPresent[WarnCrossFileRisk] {
		agg.Recommendations = append(agg.Recommendations, RecommendVerifyBoundaries)
	}
	hasTiered := false
	for _, s := range perFile {
		if s.Source == SourceTiered && s.Factors.Coverage < 1 {
			hasTiered = true
			break
		}
	}
	if hasTiered {
		agg.Recommendations = append(agg.Recommendations, RecommendCompleteTiers)
	}
	if agg.Level == LevelUnreliable || agg.Level == LevelLow {
		agg.Recommendations = append(agg.Recommendations, RecommendFullVerification)
	}
	return agg
}
