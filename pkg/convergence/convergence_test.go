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

package convergence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/elenchus/pkg/model"
)

func fullyExaminedOutput() string {
	return "SECURITY CORRECTNESS RELIABILITY MAINTAINABILITY PERFORMANCE " +
		"No issues found, all looks good, verified. " +
		"What if the input is empty or null? Boundary case: max overflow. Edge case review complete."
}

func baseSession(mode model.VerificationMode, rounds int) *model.Session {
	s := &model.Session{
		Issues:       map[string]*model.Issue{},
		ModeConfig:   model.ModeConfig{Mode: mode},
		CurrentRound: rounds,
	}
	for i := 1; i <= rounds; i++ {
		s.Rounds = append(s.Rounds, &model.Round{Number: i, Output: fullyExaminedOutput()})
	}
	return s
}

func TestEvaluate_StandardConvergesWithStabilityAndCoverage(t *testing.T) {
	s := baseSession(model.ModeStandard, 3)
	snap := Evaluate(s)
	require.True(t, snap.IsConverged, "reason: %s", snap.Reason)
	assert.Equal(t, 1.0, snap.CategoryCoverage)
	assert.True(t, snap.HasEdgeCaseCoverage)
	assert.True(t, snap.HasNegativeAssertions)
}

func TestEvaluate_StandardBlocksOnCriticalUnresolved(t *testing.T) {
	s := baseSession(model.ModeStandard, 3)
	s.Issues["X-1"] = &model.Issue{ID: "X-1", Category: model.CategorySecurity, Severity: model.SeverityCritical, Status: model.StatusRaised}
	snap := Evaluate(s)
	assert.False(t, snap.IsConverged)
	assert.Contains(t, snap.Reason, "critical")
}

func TestEvaluate_StandardBlocksBelowMinRounds(t *testing.T) {
	s := baseSession(model.ModeStandard, 1)
	snap := Evaluate(s)
	assert.False(t, snap.IsConverged)
}

func TestEvaluate_SinglePassIgnoresEdgeCaseAndStability(t *testing.T) {
	s := &model.Session{
		Issues:       map[string]*model.Issue{},
		ModeConfig:   model.ModeConfig{Mode: model.ModeSinglePass},
		CurrentRound: 1,
		Rounds: []*model.Round{
			{Number: 1, Output: "SECURITY CORRECTNESS RELIABILITY MAINTAINABILITY PERFORMANCE reviewed everything"},
		},
	}
	snap := Evaluate(s)
	require.True(t, snap.IsConverged, "reason: %s", snap.Reason)
}

func TestEvaluate_SinglePassIgnoresHighRiskImpactCoverage(t *testing.T) {
	s := &model.Session{
		Issues:       map[string]*model.Issue{},
		ModeConfig:   model.ModeConfig{Mode: model.ModeSinglePass},
		CurrentRound: 1,
		Rounds: []*model.Round{
			{Number: 1, Output: "SECURITY CORRECTNESS RELIABILITY MAINTAINABILITY PERFORMANCE reviewed everything"},
		},
	}
	snap := Evaluate(s)
	require.True(t, snap.IsConverged, "reason: %s", snap.Reason)

	// A medium-severity issue whose impact carries HIGH risk (many affected
	// files, none reviewed) must not un-converge a single-pass session:
	// only critical/high severity can do that.
	s.Issues["COR-01"] = &model.Issue{
		ID:       "COR-01",
		Category: model.CategoryCorrectness,
		Severity: model.SeverityMedium,
		Status:   model.StatusRaised,
		Impact: &model.ImpactAnalysis{
			Callers:            []string{"w.go", "x.go", "y.go", "z.go", "q.go"},
			TotalAffectedFiles: 5,
			RiskLevel:          "HIGH",
		},
	}
	snap = Evaluate(s)
	assert.True(t, snap.IsConverged, "reason: %s", snap.Reason)
	assert.Less(t, snap.ImpactCoverage, 1.0)
}

func TestEvaluate_FastTrackDropsStabilityRequirement(t *testing.T) {
	s := &model.Session{
		Issues:       map[string]*model.Issue{},
		ModeConfig:   model.ModeConfig{Mode: model.ModeFastTrack},
		CurrentRound: 1,
		Rounds: []*model.Round{
			{Number: 1, Output: fullyExaminedOutput()},
		},
	}
	snap := Evaluate(s)
	require.True(t, snap.IsConverged, "reason: %s", snap.Reason)
}

func TestEvaluate_UncoveredCategoriesBlockConvergence(t *testing.T) {
	s := &model.Session{
		Issues:       map[string]*model.Issue{},
		ModeConfig:   model.ModeConfig{Mode: model.ModeStandard},
		CurrentRound: 3,
		Rounds: []*model.Round{
			{Number: 1, Output: "no issues found, verified"},
			{Number: 2, Output: "no issues found, verified"},
			{Number: 3, Output: "no issues found, verified"},
		},
	}
	snap := Evaluate(s)
	assert.False(t, snap.IsConverged)
	assert.NotEmpty(t, snap.UncoveredCategories)
}

func TestEvaluate_IssuesStabilizedReflectsRecentTransitions(t *testing.T) {
	s := baseSession(model.ModeStandard, 3)
	s.Issues["X-1"] = &model.Issue{
		ID: "X-1", Category: model.CategorySecurity, Severity: model.SeverityLow, Status: model.StatusResolved,
		Transitions: []model.IssueTransition{{Round: 3}},
	}
	snap := Evaluate(s)
	assert.False(t, snap.IssuesStabilized)
}
