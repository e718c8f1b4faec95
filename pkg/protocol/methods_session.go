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
	"os"
	"path/filepath"
	"strings"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/graph"
	"github.com/kraklabs/elenchus/pkg/mediator"
	"github.com/kraklabs/elenchus/pkg/model"
	"github.com/kraklabs/elenchus/pkg/session"
)

// skipDirs are never walked when framing a new session's file context.
var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".elenchus": true, "dist": true, "build": true, "__pycache__": true,
}

// startSessionParams are the inputs to start_session.
type startSessionParams struct {
	Target       string               `json:"target"`
	Requirements string               `json:"requirements"`
	MaxRounds    int                  `json:"maxRounds"`
	Mode         model.ModeConfig     `json:"modeConfig"`
	Optimization model.OptimizationConfig `json:"optimization"`
}

// startSessionResult summarizes a newly framed session.
type startSessionResult struct {
	Session            *model.Session `json:"session"`
	FilesFramed        int            `json:"filesFramed"`
	UnverifiedCritical []string       `json:"unverifiedCritical"`
}

func handleStartSession(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p startSessionParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid start_session parameters", err.Error(), "")
	}

	s, err := a.engine.CreateSession(session.CreateParams{
		Target:       p.Target,
		Requirements: p.Requirements,
		MaxRounds:    p.MaxRounds,
		ModeConfig:   p.Mode,
		Optimization: p.Optimization,
	})
	if err != nil {
		return nil, err
	}

	rt := a.runtimeFor(s.ID)
	nodes, files, err := a.frameTarget(p.Target)
	if err != nil {
		a.logger.Warn("protocol.start_session.frame_failed", "target", p.Target, "error", err)
	}

	for path, content := range files {
		s.Context.Files[path] = &model.FileContext{Path: path, Content: content, Layer: model.LayerBase}
	}

	g := graph.Build(nodes)
	rt.mu.Lock()
	rt.graph = g
	rt.mediator = mediator.New(
		a.cfg.Mediator.RippleMaxDepth, a.cfg.Mediator.MaxCallersTracked,
		a.cfg.Mediator.MaxDependenciesTracked, a.cfg.Mediator.CriticalImportanceThreshold,
	)
	unverified := mediator.InvalidateNewFiles(g, rt.verifiedCritical, a.cfg.Mediator.CriticalImportanceThreshold)
	rt.mu.Unlock()

	return startSessionResult{Session: s, FilesFramed: len(files), UnverifiedCritical: unverified}, nil
}

// frameTarget walks target (a file or directory) and returns the AST nodes
// and raw file contents framed into the session's initial context.
func (a *App) frameTarget(target string) ([]*graph.Node, map[string]string, error) {
	if target == "" {
		return nil, nil, errors.NewValidationError("target is required", "start_session requires a non-empty target", "")
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, nil, errors.NewIOError("failed to stat target", err.Error(), err)
	}

	root := target
	if !info.IsDir() {
		root = filepath.Dir(target)
	}

	var nodes []*graph.Node
	files := make(map[string]string)

	walkOne := func(full string) error {
		rel, err := filepath.Rel(root, full)
		if err != nil {
			rel = full
		}
		rel = filepath.ToSlash(rel)
		node, _, err := a.extractor.ExtractFile(full, rel)
		if err != nil {
			return nil // unreadable file: skip, don't fail the whole framing
		}
		content, err := os.ReadFile(full)
		if err == nil {
			files[rel] = string(content)
		}
		nodes = append(nodes, node)
		return nil
	}

	if !info.IsDir() {
		if err := walkOne(target); err != nil {
			return nil, nil, err
		}
		return nodes, files, nil
	}

	err = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && d.Name() != "." {
				return filepath.SkipDir
			}
			return nil
		}
		return walkOne(path)
	})
	if err != nil {
		return nodes, files, errors.NewIOError("failed to walk target directory", err.Error(), err)
	}
	return nodes, files, nil
}

func handleGetContext(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_context parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"context":        s.Context,
		"cacheSkippable": a.cacheSkippable(s),
	}, nil
}

// submitRoundParams mirrors session.SubmitParams with JSON field names.
type submitRoundParams struct {
	SessionID        string                         `json:"sessionId"`
	Role             model.Role                     `json:"role"`
	Output           string                         `json:"output"`
	Input            model.RoundInput                `json:"input"`
	RaisedIssues     []*model.Issue                 `json:"issuesRaised"`
	ResolvedIssueIDs []string                       `json:"issuesResolved"`
	CriticVerdicts   map[string]model.CriticVerdict `json:"criticVerdicts"`
	NewFiles         []*model.FileContext           `json:"newFiles"`
}

func handleSubmitRound(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p submitRoundParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid submit_round parameters", err.Error(), "")
	}
	if p.SessionID == "" {
		return nil, errors.NewValidationError("sessionId is required", "submit_round requires a sessionId", "")
	}

	rt := a.runtimeFor(p.SessionID)
	rt.mu.Lock()
	g := rt.graph
	med := rt.mediator
	rt.mu.Unlock()

	if g != nil && med != nil {
		for _, iss := range p.RaisedIssues {
			attachImpact(iss, g, med)
		}
	}

	ack, err := a.engine.SubmitRound(p.SessionID, session.SubmitParams{
		Role:             p.Role,
		Output:           p.Output,
		Input:            p.Input,
		RaisedIssues:     p.RaisedIssues,
		ResolvedIssueIDs: p.ResolvedIssueIDs,
		CriticVerdicts:   p.CriticVerdicts,
		NewFiles:         p.NewFiles,
	})
	if err != nil {
		return nil, err
	}
	a.metrics.observeRound(p.Role)

	if g != nil {
		for _, fc := range p.NewFiles {
			node, _, extractErr := a.extractor.ExtractFile(fc.Path, fc.Path)
			if extractErr == nil {
				g.AddNode(node)
			}
		}
	}

	return ack, nil
}

// attachImpact parses "file:line" out of an issue's Location and populates
// its ImpactAnalysis from the session's dependency graph.
func attachImpact(iss *model.Issue, g *graph.Graph, med *mediator.Mediator) {
	file, line := splitLocation(iss.Location)
	if file == "" {
		return
	}
	res := med.Impact(g, file, line)
	iss.Impact = &model.ImpactAnalysis{
		Callers:            res.Callers,
		Dependencies:       res.Dependencies,
		AffectedFunctions:  res.AffectedFunctions,
		TotalAffectedFiles: res.TotalAffectedFiles,
		RiskLevel:          string(res.RiskLevel),
	}
}

func splitLocation(loc string) (string, int) {
	idx := strings.LastIndex(loc, ":")
	if idx < 0 {
		return loc, 0
	}
	file := loc[:idx]
	n := 0
	for _, r := range loc[idx+1:] {
		if r < '0' || r > '9' {
			return file, 0
		}
		n = n*10 + int(r-'0')
	}
	return file, n
}

func handleEndSession(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string       `json:"sessionId"`
		Verdict   model.Verdict `json:"verdict"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid end_session parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}
	if err := a.engine.EndSession(p.SessionID, p.Verdict, a.baselines, s.Target); err != nil {
		return nil, err
	}
	a.dropRuntime(p.SessionID)
	return map[string]any{"sessionId": p.SessionID, "verdict": p.Verdict}, nil
}

type issueFilter struct {
	SessionID string          `json:"sessionId"`
	Status    model.Status    `json:"status,omitempty"`
	Severity  model.Severity  `json:"severity,omitempty"`
	Category  model.Category  `json:"category,omitempty"`
}

func handleGetIssues(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p issueFilter
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_issues parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}
	out := make([]*model.Issue, 0, len(s.Issues))
	for _, iss := range s.Issues {
		if p.Status != "" && iss.Status != p.Status {
			continue
		}
		if p.Severity != "" && iss.Severity != p.Severity {
			continue
		}
		if p.Category != "" && iss.Category != p.Category {
			continue
		}
		out = append(out, iss)
	}
	return out, nil
}

func handleCheckpoint(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid checkpoint parameters", err.Error(), "")
	}
	return a.engine.Checkpoint(p.SessionID)
}

func handleRollback(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
		Round     int    `json:"round"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid rollback parameters", err.Error(), "")
	}
	if err := a.engine.Rollback(p.SessionID, p.Round); err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": p.SessionID, "round": p.Round}, nil
}

func handleApplyFix(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
		IssueID   string `json:"issueId"`
		Note      string `json:"note"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid apply_fix parameters", err.Error(), "")
	}
	if err := a.engine.AnnotateFixApplied(p.SessionID, p.IssueID, p.Note); err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": p.SessionID, "issueId": p.IssueID}, nil
}

func handleStartReverification(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID  string `json:"sessionId"`
		ExtraRounds int   `json:"extraRounds"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid start_reverification parameters", err.Error(), "")
	}
	return a.engine.StartReverification(p.SessionID, p.ExtraRounds)
}

// requireSession loads a session or returns a NotFound error — the shared
// guard every read-only method needs before projecting session state.
func (a *App) requireSession(id string) (*model.Session, error) {
	if id == "" {
		return nil, errors.NewValidationError("sessionId is required", "this method requires a non-empty sessionId", "")
	}
	s, err := a.engine.GetSession(id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.NewNotFoundError("session not found", id)
	}
	return s, nil
}
