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

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/pipeline"
)

// pipelineState returns a session's runtime pipeline.State, building one
// from the process configuration on first use.
func (a *App) pipelineState(rt *sessionRuntime) (*pipeline.State, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pipeline != nil {
		return rt.pipeline, nil
	}
	st, err := pipeline.NewState(pipeline.Config{
		MaxTotalTokens:          a.cfg.Pipeline.MaxTotalTokens,
		EnforceTokenBudget:      a.cfg.Pipeline.EnforceTokenBudget,
		QualityFirst:            a.cfg.Pipeline.QualityFirst,
		AlwaysExhaustivePattern: a.cfg.Pipeline.AlwaysExhaustivePattern,
	})
	if err != nil {
		return nil, errors.NewConfigError("failed to build pipeline state", err.Error(), "check always_exhaustive_patterns in the configuration", err)
	}
	rt.pipeline = st
	return st, nil
}

func handleGetPipelineStatus(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_pipeline_status parameters", err.Error(), "")
	}
	if _, err := a.requireSession(p.SessionID); err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	st, err := a.pipelineState(rt)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"completed":           st.Completed(),
		"cumulativeTokens":    st.CumulativeTokens(),
		"tokenBudgetExceeded": st.TokenBudgetExceeded(),
	}, nil
}

func handleEscalateTier(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
		Path      string `json:"path"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid escalate_tier parameters", err.Error(), "")
	}
	if _, err := a.requireSession(p.SessionID); err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	st, err := a.pipelineState(rt)
	if err != nil {
		return nil, err
	}

	completed := st.Completed()
	tier := pipeline.TierScreen
	if n := len(completed); n > 0 {
		if next, ok := pipeline.Next(completed[n-1].Tier); ok {
			tier = next
		} else {
			tier = completed[n-1].Tier
		}
	}
	if p.Path != "" && st.IsAlwaysExhaustive(p.Path) {
		tier = pipeline.TierExhaustive
	}

	return map[string]any{
		"tier":          tier,
		"budget":        pipeline.BudgetFor(tier, a.cfg.Pipeline.MaxTotalTokens),
		"severityFocus": pipeline.SeverityFocus(tier),
	}, nil
}

func handleCompleteTier(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID            string         `json:"sessionId"`
		Result               pipeline.TierResult `json:"result"`
		AlwaysExhaustivePath bool           `json:"alwaysExhaustivePath"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid complete_tier parameters", err.Error(), "")
	}
	if _, err := a.requireSession(p.SessionID); err != nil {
		return nil, err
	}

	rt := a.runtimeFor(p.SessionID)
	st, err := a.pipelineState(rt)
	if err != nil {
		return nil, err
	}
	res := st.CompleteTier(p.Result, p.AlwaysExhaustivePath)
	if res.ShouldEscalate {
		a.metrics.observeTierEscalation(string(res.NextTier))
	}
	return res, nil
}
