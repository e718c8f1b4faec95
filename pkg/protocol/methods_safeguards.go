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

package protocol

import (
	"context"
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/baseline"
	"github.com/kraklabs/elenchus/pkg/cache"
	"github.com/kraklabs/elenchus/pkg/confidence"
	"github.com/kraklabs/elenchus/pkg/model"
	"github.com/kraklabs/elenchus/pkg/pipeline"
	"github.com/kraklabs/elenchus/pkg/safeguards"
	"github.com/kraklabs/elenchus/pkg/sampling"
)

// baseDifferential/Cache/PipelineSampleRate are the preferred sampling
// rates safeguards.AutoActivate picks from when the matching optimization
// is active. The configuration format does not expose these individually,
// so they're fixed constants rather than config fields.
const (
	baseDifferentialSampleRate = 0.25
	baseCacheSampleRate        = 0.2
	basePipelineSampleRate     = 0.2
)

// safeguardsCoordinator returns a session's runtime safeguards.Coordinator,
// building one from the process configuration on first use. Which
// optimizations are "active" is read off the runtime itself: a session
// that has touched the differential scanner or the tiered pipeline has
// those optimizations on; the verification cache is always available.
func (a *App) safeguardsCoordinator(rt *sessionRuntime) *safeguards.Coordinator {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.safeguards != nil {
		return rt.safeguards
	}
	sc := a.cfg.Safeguards
	cfg := safeguards.PolicyConfig{
		Strict:                      sc.Strict,
		MinimumAcceptableConfidence: sc.MinimumAcceptableConfidence,
		IncrementalThreshold:        sc.IncrementalThreshold,
		OptimizedIncrementalThresh:  sc.OptimizedIncrementalThresh,
		MaxHoursSinceFull:           sc.MaxHoursSinceFull,
		ExtendedAlwaysFullPatterns:  sc.ExtendedAlwaysFullPatterns,
		RecentMissWindowDays:        sc.RecentMissWindowDays,
		RecentMissThreshold:         sc.RecentMissThreshold,
		BaseSamplingRate:            a.cfg.Sampling.RatePercent / 100,
		DifferentialSampleRate:      baseDifferentialSampleRate,
		CacheSampleRate:             baseCacheSampleRate,
		PipelineSampleRate:          basePipelineSampleRate,
		AlwaysFullPatterns:          a.cfg.Sampling.AlwaysSamplePatterns,
	}
	rt.safeguards = safeguards.NewCoordinator(cfg, rt.scanner != nil, true, rt.pipeline != nil)
	return rt.safeguards
}

func (a *App) productivityTracker(rt *sessionRuntime) *sampling.ProductivityTracker {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.productivity == nil {
		rt.productivity = sampling.NewProductivityTracker()
	}
	return rt.productivity
}

func handleGetSafeguardsStatus(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_safeguards_status parameters", err.Error(), "")
	}
	if _, err := a.requireSession(p.SessionID); err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	coord := a.safeguardsCoordinator(rt)
	return map[string]any{
		"activePolicy":   coord.Active,
		"lastAssessment": coord.LastAssess,
		"filesObserved":  len(coord.PerFile),
	}, nil
}

func handleUpdateConfidence(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string             `json:"sessionId"`
		Path      string             `json:"path"`
		Source    confidence.Source  `json:"source"`
		Cache     confidence.CacheParams `json:"cache"`
		Chunk     confidence.ChunkParams `json:"chunk"`
		Tiered    confidence.TieredParams `json:"tiered"`
		Sampled   bool               `json:"sampledProductive"`

		// When the host supplies the verification artifact, the result is
		// stored in the process-wide cache keyed by the file's current
		// content, so later rounds (and sessions) can reuse it.
		Role     model.Role `json:"role"`
		Tier     string     `json:"tier"`
		Artifact string     `json:"artifact"`

		IncrementalDrift     float64 `json:"incrementalDrift"`
		ErrorClassConcern    bool    `json:"errorClassConcern"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid update_confidence parameters", err.Error(), "")
	}
	if p.Path == "" {
		return nil, errors.NewValidationError("path is required", "update_confidence requires a non-empty path", "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}

	var score confidence.Score
	switch p.Source {
	case confidence.SourceCache:
		score = confidence.Cache(p.Cache)
	case confidence.SourceChunk:
		score = confidence.Chunk(p.Chunk)
	case confidence.SourceTiered:
		score = confidence.Tiered(p.Tiered)
	case confidence.SourceSampled:
		score = confidence.Sampled(p.Sampled)
	default:
		score = confidence.Full()
	}

	rt := a.runtimeFor(p.SessionID)
	coord := a.safeguardsCoordinator(rt)
	coord.Observe(p.Path, score)

	var fingerprint string
	if p.Artifact != "" {
		if fc, ok := s.Context.Files[p.Path]; ok && fc != nil && fc.Content != "" {
			role := p.Role
			if role == "" {
				role = model.RoleVerifier
			}
			fingerprint = cache.Fingerprint(fc.Content, s.Context.Requirements, string(role), p.Tier)
			a.cache.Put(fingerprint, p.Artifact, score.Value, time.Now())
			a.watchFile(filepath.Join(s.Target, p.Path), fingerprint)
		}
	}

	productivity := a.productivityTracker(rt).Rate()
	qa := coord.Recompute(p.IncrementalDrift, productivity, p.ErrorClassConcern)
	a.metrics.observeQuality(p.SessionID, qa.Level)

	return map[string]any{"score": score, "assessment": qa, "cachedFingerprint": fingerprint}, nil
}

func handleRecordSamplingResult(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID  string `json:"sessionId"`
		Path       string `json:"path"`
		FoundIssue bool   `json:"foundIssue"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid record_sampling_result parameters", err.Error(), "")
	}
	if p.Path == "" {
		return nil, errors.NewValidationError("path is required", "record_sampling_result requires a non-empty path", "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	tracker := a.productivityTracker(rt)
	tracker.Record(p.Path, p.FoundIssue)

	// A sampled file that turned up an issue is a miss the optimizations
	// would have shipped; the periodic tracker remembers it per path so
	// repeat offenders force a full pass.
	if p.FoundIssue {
		if terr := a.trackers.Update(baseline.ProjectHash(s.Target), func(st *safeguards.PeriodicState) {
			st.RecentMissPaths[p.Path]++
		}); terr != nil {
			a.logger.Error("protocol.record_sampling_result.tracker_update_failed", "error", terr)
		}
	}

	coord := a.safeguardsCoordinator(rt)
	coord.Observe(p.Path, confidence.Sampled(tracker.Productive(p.Path)))

	return map[string]any{
		"productivityRate": tracker.Rate(),
		"recentMiss":       tracker.RecentMiss(p.Path, a.cfg.Safeguards.RecentMissThreshold),
	}, nil
}

func handleCheckConvergenceAllowed(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID         string  `json:"sessionId"`
		IncrementalDrift  float64 `json:"incrementalDrift"`
		ErrorClassConcern bool    `json:"errorClassConcern"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid check_convergence_allowed parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	coord := a.safeguardsCoordinator(rt)
	productivity := a.productivityTracker(rt).Rate()
	qa := coord.Recompute(p.IncrementalDrift, productivity, p.ErrorClassConcern)
	a.metrics.observeQuality(p.SessionID, qa.Level)

	decision := safeguards.ShouldAllowConvergence(qa, coord.Policy.Strict, coord.Policy.MinimumAcceptableConfidence, p.ErrorClassConcern)
	periodic := a.checkPeriodic(rt, s, coord, qa)
	return map[string]any{"decision": decision, "assessment": qa, "periodic": periodic}, nil
}

// checkPeriodic runs the periodic-verification rule against the
// per-project tracker: the result says whether the host must run a full
// (non-optimized) pass before convergence can be trusted.
func (a *App) checkPeriodic(rt *sessionRuntime, s *model.Session, coord *safeguards.Coordinator, qa safeguards.QualityAssessment) safeguards.PeriodicCheckResult {
	state := a.trackers.Get(baseline.ProjectHash(s.Target))

	rt.mu.Lock()
	var changedPaths []string
	if rt.lastDiff != nil {
		for _, c := range rt.lastDiff.ChangedFiles {
			changedPaths = append(changedPaths, c.Path)
		}
	}
	rt.mu.Unlock()

	var alwaysFull func(string) bool
	if len(coord.Active.AlwaysFullPatterns) > 0 {
		if m, merr := pipeline.NewPatternMatcher(coord.Active.AlwaysFullPatterns); merr == nil {
			alwaysFull = m.Match
		}
	}

	floorBreached := qa.Metrics.Confidence < coord.Policy.MinimumAcceptableConfidence
	return safeguards.CheckPeriodic(
		state, coord.Active, time.Now(),
		a.cfg.Safeguards.MaxHoursSinceFull, floorBreached,
		changedPaths, alwaysFull, a.cfg.Safeguards.RecentMissThreshold,
	)
}
