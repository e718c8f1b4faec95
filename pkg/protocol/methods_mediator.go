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
	"sort"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/mediator"
)

func handleRippleEffect(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
		File      string `json:"file"`
		Function  string `json:"function"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid ripple_effect parameters", err.Error(), "")
	}
	if _, err := a.requireSession(p.SessionID); err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	rt.mu.Lock()
	g, med := rt.graph, rt.mediator
	rt.mu.Unlock()
	if g == nil || med == nil {
		return nil, errors.NewStateError("dependency graph not yet built", "start_session must complete before ripple_effect is available", "")
	}
	return med.Ripple(g, p.File, p.Function), nil
}

// mediatorSummaryResult reports the dependency graph's current shape and
// which critical-importance files remain unverified.
type mediatorSummaryResult struct {
	TrackedFiles       int      `json:"trackedFiles"`
	UnresolvedImports  []string `json:"unresolvedImports"`
	UnverifiedCritical []string `json:"unverifiedCritical"`
	HasCycle           bool     `json:"hasCycle"`
	CycleSample        []string `json:"cycleSample,omitempty"`
}

func handleMediatorSummary(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid mediator_summary parameters", err.Error(), "")
	}
	if _, err := a.requireSession(p.SessionID); err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	rt.mu.Lock()
	g, med, verified := rt.graph, rt.mediator, rt.verifiedCritical
	rt.mu.Unlock()
	if g == nil || med == nil {
		return nil, errors.NewStateError("dependency graph not yet built", "start_session must complete before mediator_summary is available", "")
	}

	unverified := mediator.InvalidateNewFiles(g, verified, med.CriticalImportance)
	hasCycle, cycle := g.HasCycle()
	sort.Strings(unverified)

	var unresolved []string
	for _, p := range g.Paths() {
		for _, spec := range g.UnresolvedImports(p) {
			unresolved = append(unresolved, p+" -> "+spec)
		}
	}
	sort.Strings(unresolved)

	return mediatorSummaryResult{
		TrackedFiles:       len(g.Paths()),
		UnresolvedImports:  unresolved,
		UnverifiedCritical: unverified,
		HasCycle:           hasCycle,
		CycleSample:        cycle,
	}, nil
}
