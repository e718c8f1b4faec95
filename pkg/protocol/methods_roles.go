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
	"github.com/kraklabs/elenchus/pkg/model"
)

// rolePrompts are the built-in persona/guidance defaults for each role,
// varied slightly by verification mode since fast-track and single-pass
// sessions ask less of the Critic (or skip it entirely).
var rolePrompts = map[model.Role]map[model.VerificationMode]string{
	model.RoleVerifier: {
		model.ModeStandard:   "Review the target against its stated requirements. Raise every issue you find with a precise file:line location, severity, and category. Look explicitly for edge cases and boundary conditions before declaring anything clean.",
		model.ModeFastTrack:  "Review the target against its stated requirements. Raise issues with file:line locations. If nothing is wrong, say so explicitly; a clean round here skips the Critic.",
		model.ModeSinglePass: "Perform one thorough, final review against the stated requirements. There will be no Critic round and no further Verifier round after this one.",
	},
	model.RoleCritic: {
		model.ModeStandard:  "Adjudicate each issue the Verifier raised: VALID, INVALID, or PARTIAL, with your reasoning. Challenge anything that looks speculative or unsupported by the evidence given.",
		model.ModeFastTrack: "Adjudicate each issue the Verifier raised this round.",
	},
}

func handleGetRolePrompt(_ *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		Role model.Role             `json:"role"`
		Mode model.VerificationMode `json:"mode"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid get_role_prompt parameters", err.Error(), "")
	}
	if p.Mode == "" {
		p.Mode = model.ModeStandard
	}
	byMode, ok := rolePrompts[p.Role]
	if !ok {
		return nil, errors.NewValidationError("unknown role", string(p.Role), "role must be verifier or critic")
	}
	prompt, ok := byMode[p.Mode]
	if !ok {
		prompt = byMode[model.ModeStandard]
	}
	return map[string]any{"role": p.Role, "mode": p.Mode, "prompt": prompt}, nil
}

// roleSummaryResult reports per-role round and issue-raising activity.
type roleSummaryResult struct {
	VerifierRounds int `json:"verifierRounds"`
	CriticRounds   int `json:"criticRounds"`
	IssuesByRole   map[model.Role]int `json:"issuesByRole"`
}

func handleRoleSummary(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid role_summary parameters", err.Error(), "")
	}
	s, err := a.requireSession(p.SessionID)
	if err != nil {
		return nil, err
	}

	res := roleSummaryResult{IssuesByRole: make(map[model.Role]int)}
	for _, r := range s.Rounds {
		switch r.Role {
		case model.RoleVerifier:
			res.VerifierRounds++
		case model.RoleCritic:
			res.CriticRounds++
		}
	}
	for _, iss := range s.Issues {
		res.IssuesByRole[iss.RaisedByRole]++
	}
	return res, nil
}

func handleUpdateRoleConfig(a *App, _ context.Context, raw json.RawMessage) (any, error) {
	var p struct {
		SessionID string           `json:"sessionId"`
		ModeConfig model.ModeConfig `json:"modeConfig"`
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.NewValidationError("invalid update_role_config parameters", err.Error(), "")
	}
	if err := a.engine.UpdateModeConfig(p.SessionID, p.ModeConfig); err != nil {
		return nil, err
	}
	return map[string]any{"sessionId": p.SessionID, "modeConfig": p.ModeConfig}, nil
}
