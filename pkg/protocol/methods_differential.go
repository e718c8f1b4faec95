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
	"path"
	"sort"
	"strings"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/baseline"
	"github.com/kraklabs/elenchus/pkg/differential"
	"github.com/kraklabs/elenchus/pkg/model"
	"github.com/kraklabs/elenchus/pkg/pipeline"
	"github.com/kraklabs/elenchus/pkg/safeguards"
	"github.com/kraklabs/elenchus/pkg/sampling"
)

func handleSaveBaseline(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid save_baseline parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}

	fileHashes := make(map[string]string, len(s.Context.Files))
	for path, fc := range s.Context.Files {
		fileHashes[path] = differential.HashFile([]byte(fc.Content))
	}
	b := &baseline.Baseline{
		ProjectHash:     baseline.ProjectHash(s.Target),
		Timestamp:       s.UpdatedAt,
		Target:          s.Target,
		SessionID:       s.ID,
		Verdict:         baseline.VerdictPass,
		FileHashes:      fileHashes,
		TotalFiles:      len(fileHashes),
		RemainingIssues: len(s.ActiveIssues()),
	}
	if err := a.baselines.Save(b); err != nil {
		return nil, err
	}

	// A PASS baseline is the product of a full verification: the periodic
	// tracker restarts its incremental count from here.
	if terr := a.trackers.Update(b.ProjectHash, func(st *safeguards.PeriodicState) {
		st.IncrementalCount = 0
		st.LastFullAt = b.Timestamp
	}); terr != nil {
		a.logger.Error("protocol.save_baseline.tracker_update_failed", "error", terr)
	}

	return b, nil
}

func handleGetDiffSummary(a *App, ctx context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
		BaseRef   string `json:"baseRef"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_diff_summary parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	rt.mu.Lock()
	if rt.scanner == nil {
		runner, rerr := differential.NewGitExecutor(s.Target)
		if rerr == nil {
			rt.runner = runner
		}
		rt.scanner = differential.NewScanner(rt.runner)
	}
	scanner := rt.scanner
	rt.mu.Unlock()

	currentHashes := make(differential.HashBaseline, len(s.Context.Files))
	for path, fc := range s.Context.Files {
		currentHashes[path] = differential.HashFile([]byte(fc.Content))
	}

	var baselineHashes differential.HashBaseline
	if b, berr := a.baselines.Load(baseline.ProjectHash(s.Target)); berr == nil && b != nil {
		baselineHashes = b.FileHashes
	}

	baseRef := p.BaseRef
	if baseRef == "" {
		baseRef = "HEAD"
	}

	result, err := scanner.Scan(ctx, baseRef, currentHashes, baselineHashes)
	if err != nil {
		return nil, errors.NewExternalToolError("differential scan failed", err.Error(), "falling back to full verification", err)
	}

	rt.mu.Lock()
	rt.lastDiff = result
	rt.mu.Unlock()

	// Each diff-scoped scan is one more incremental verification since the
	// last full pass; the periodic tracker uses the running count to force
	// a full pass once the threshold is reached.
	if terr := a.trackers.Update(baseline.ProjectHash(s.Target), func(st *safeguards.PeriodicState) {
		st.IncrementalCount++
	}); terr != nil {
		a.logger.Error("protocol.get_diff_summary.tracker_update_failed", "error", terr)
	}

	// Files the diff leaves unchanged are exactly what differential mode
	// skips, so a spot-check sample over them rides along with the
	// summary; the host verifies the sampled paths and reports back via
	// record_sampling_result.
	plan := a.sampleSkipped(rt, s, result)

	return map[string]any{"diff": result, "sampling": plan}, nil
}

// sampleSkipped draws a weighted sample from the context files the
// differential scan did not flag as changed.
func (a *App) sampleSkipped(rt *sessionRuntime, s *model.Session, diff *differential.DiffResult) sampling.Result {
	changed := make(map[string]bool, len(diff.ChangedFiles))
	for _, c := range diff.ChangedFiles {
		changed[c.Path] = true
	}

	rt.mu.Lock()
	if rt.neverSample == nil && len(a.cfg.Sampling.NeverSamplePatterns) > 0 {
		if m, merr := pipeline.NewPatternMatcher(a.cfg.Sampling.NeverSamplePatterns); merr == nil {
			rt.neverSample = m
		}
	}
	if rt.alwaysSample == nil && len(a.cfg.Sampling.AlwaysSamplePatterns) > 0 {
		if m, merr := pipeline.NewPatternMatcher(a.cfg.Sampling.AlwaysSamplePatterns); merr == nil {
			rt.alwaysSample = m
		}
	}
	g := rt.graph
	never, always := rt.neverSample, rt.alwaysSample
	tracker := rt.productivity
	rt.mu.Unlock()

	var candidates []sampling.Candidate
	for p := range s.Context.Files {
		if changed[p] {
			continue
		}
		c := sampling.Candidate{Path: p, EntryPoint: looksLikeEntryPoint(p)}
		if g != nil {
			c.DependencyCount = len(g.Dependencies(p))
			c.HighFanIn = len(g.Dependents(p)) >= a.cfg.Mediator.CriticalImportanceThreshold
		}
		if tracker != nil {
			c.RecentMiss = tracker.RecentMiss(p, a.cfg.Safeguards.RecentMissThreshold)
		}
		for _, iss := range s.Issues {
			if strings.HasPrefix(iss.Location, p+":") {
				c.HistoricalIssues++
			}
		}
		candidates = append(candidates, c)
	}
	// Map iteration order would leak into the draw sequence and break
	// seeded reproducibility.
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Path < candidates[j].Path })

	sc := a.cfg.Sampling
	return sampling.Select(sampling.Strategy(sc.Strategy), candidates, never, always,
		sc.RatePercent, sc.MinSamples, sc.MaxSamples, sc.HistoricalBoost, sc.Seed)
}

func looksLikeEntryPoint(p string) bool {
	base := path.Base(p)
	return strings.HasPrefix(base, "main.") || strings.HasPrefix(base, "index.") ||
		strings.HasPrefix(p, "cmd/") || strings.Contains(p, "/cmd/")
}

func handleGetProjectHistory(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Target string `json:"target"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_project_history parameters", err.Error(), "")
	}
	if p.Target == "" {
		return nil, errors.NewValidationError("target is required", "get_project_history requires a non-empty target", "")
	}

	projectHash := baseline.ProjectHash(p.Target)
	current, err := a.baselines.Load(projectHash)
	if err != nil {
		return nil, err
	}
	history, err := a.baselines.History(projectHash)
	if err != nil {
		return nil, err
	}
	return map[string]any{"current": current, "history": history}, nil
}
