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

// Package convergence decides whether a verification session has reached
// a stable, examined, well-covered state: the debate stops when no new
// issues are surfacing, every category has been looked at, and (outside
// single-pass mode) both sides have said so explicitly in their own words.
package convergence

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kraklabs/elenchus/pkg/mediator"
	"github.com/kraklabs/elenchus/pkg/model"
)

// Snapshot is the full set of signals the convergence predicate reasons
// about, computed by a single linear pass over a session's issues plus a
// scan of round outputs.
type Snapshot struct {
	IsConverged                      bool     `json:"isConverged"`
	Reason                           string   `json:"reason"`
	CategoryCoverage                 float64  `json:"categoryCoverage"`
	UnresolvedIssues                 int      `json:"unresolvedIssues"`
	CriticalUnresolved               int      `json:"criticalUnresolved"`
	HighUnresolved                   int      `json:"highUnresolved"`
	RoundsWithoutNewIssues           int      `json:"roundsWithoutNewIssues"`
	AllCategoriesExamined            bool     `json:"allCategoriesExamined"`
	UncoveredCategories              []string `json:"uncoveredCategories"`
	IssuesStabilized                 bool     `json:"issuesStabilized"`
	RecentTransitions                int      `json:"recentTransitions"`
	DismissedCount                   int      `json:"dismissedCount"`
	MergedCount                      int      `json:"mergedCount"`
	HasEdgeCaseCoverage              bool     `json:"hasEdgeCaseCoverage"`
	HasNegativeAssertions            bool     `json:"hasNegativeAssertions"`
	EdgeCaseCategoryCoverage         int      `json:"edgeCaseCategoryCoverage"`
	HasComprehensiveEdgeCaseCoverage bool     `json:"hasComprehensiveEdgeCaseCoverage"`
	ImpactCoverage                   float64  `json:"impactCoverage"`
}

// nineEdgeCaseCategories is the fixed conceptual list reported as fully
// covered when the structural edge-case detector fires (a soft check;
// strict per-category edge-case validation is left to the Critic persona
// itself, not enforced here).
const nineEdgeCaseCategories = 9

var (
	edgeCaseHeadingPattern = regexp.MustCompile(`(?i)\b(edge case|corner case|boundary)\b`)
	scenarioPhrasePattern  = regexp.MustCompile(`(?i)\b(what if|when .+ fails?|failure scenario)\b`)
	boundaryVocabPattern   = regexp.MustCompile(`(?i)\b(empty|null|zero|max(?:imum)?|min(?:imum)?|overflow)\b`)
	negativeAssertPattern  = regexp.MustCompile(`(?i)\b(no issues?( found)?|verified|looks good|lgtm)\b|✓|✔`)
)

// Evaluate runs the single-pass aggregation and mode-gated predicate over
// a session, returning a full Snapshot.
func Evaluate(s *model.Session) *Snapshot {
	snap := &Snapshot{}

	categoryCounts := make(map[model.Category]int)
	var dismissed, merged, recentTransitions int
	var criticalUnresolved, highUnresolved, unresolved int

	for _, iss := range s.Issues {
		categoryCounts[iss.Category]++
		switch iss.Status {
		case model.StatusDismissed:
			dismissed++
		case model.StatusMerged:
			merged++
		}
		if !iss.Status.Inactive() {
			unresolved++
			switch iss.Severity {
			case model.SeverityCritical:
				criticalUnresolved++
			case model.SeverityHigh:
				highUnresolved++
			}
		}
		for _, t := range iss.Transitions {
			if t.Round >= s.CurrentRound-1 {
				recentTransitions++
			}
		}
	}

	snap.DismissedCount = dismissed
	snap.MergedCount = merged
	snap.UnresolvedIssues = unresolved
	snap.CriticalUnresolved = criticalUnresolved
	snap.HighUnresolved = highUnresolved
	snap.RecentTransitions = recentTransitions
	snap.IssuesStabilized = recentTransitions == 0

	allOutputs := make([]string, 0, len(s.Rounds))
	for _, r := range s.Rounds {
		allOutputs = append(allOutputs, r.Output)
	}
	combined := strings.Join(allOutputs, "\n")

	var uncovered []string
	for _, cat := range model.AllCategories {
		examined := categoryCounts[cat] > 0 || strings.Contains(strings.ToLower(combined), strings.ToLower(string(cat)))
		if !examined {
			uncovered = append(uncovered, string(cat))
		}
	}
	snap.UncoveredCategories = uncovered
	snap.AllCategoriesExamined = len(uncovered) == 0
	snap.CategoryCoverage = float64(len(model.AllCategories)-len(uncovered)) / float64(len(model.AllCategories))

	snap.RoundsWithoutNewIssues = trailingEmptyRaiseRounds(s.Rounds)

	edgeCase := edgeCaseHeadingPattern.MatchString(combined) ||
		scenarioPhrasePattern.MatchString(combined) ||
		boundaryVocabPattern.MatchString(combined)
	snap.HasEdgeCaseCoverage = edgeCase
	if edgeCase {
		snap.EdgeCaseCategoryCoverage = nineEdgeCaseCategories
		snap.HasComprehensiveEdgeCaseCoverage = true
	}

	snap.HasNegativeAssertions = negativeAssertPattern.MatchString(combined)

	coverageRate, hasHighRiskCoverage := impactCoverage(s, allOutputs)
	snap.ImpactCoverage = coverageRate

	mode := s.ModeConfig.Mode
	if mode == "" {
		mode = model.ModeStandard
	}
	minRounds, stableRounds := modeDefaults(mode, s.ModeConfig)

	snap.IsConverged, snap.Reason = gatedPredicate(mode, snap, s.CurrentRound, minRounds, stableRounds, hasHighRiskCoverage)
	return snap
}

func modeDefaults(mode model.VerificationMode, cfg model.ModeConfig) (minRounds, stableRounds int) {
	minRounds, stableRounds = 3, 2
	switch mode {
	case model.ModeFastTrack, model.ModeSinglePass:
		minRounds, stableRounds = 1, 1
	}
	if cfg.MinRounds > 0 {
		minRounds = cfg.MinRounds
	}
	if cfg.StableRoundsRequired > 0 {
		stableRounds = cfg.StableRoundsRequired
	}
	return minRounds, stableRounds
}

func trailingEmptyRaiseRounds(rounds []*model.Round) int {
	count := 0
	for i := len(rounds) - 1; i >= 0; i-- {
		if len(rounds[i].IssuesRaised) != 0 {
			break
		}
		count++
	}
	return count
}

// impactCoverage returns (coverageRate, hasHighRiskCoverage) per the
// impact-coverage rule: a file is "reviewed" if mentioned in any round
// output; coverage = |reviewed ∩ impacted| / |impacted|.
func impactCoverage(s *model.Session, outputs []string) (float64, bool) {
	impacted := make(map[string]bool)
	highRisk := make(map[string]bool)

	for _, iss := range s.Issues {
		if iss.Impact == nil {
			continue
		}
		for _, f := range iss.Impact.Callers {
			impacted[f] = true
		}
		for _, f := range iss.Impact.Dependencies {
			impacted[f] = true
		}
		if iss.Impact.RiskLevel == string(mediator.RiskHigh) || iss.Impact.RiskLevel == string(mediator.RiskCritical) {
			for _, f := range iss.Impact.Callers {
				highRisk[f] = true
			}
			for _, f := range iss.Impact.Dependencies {
				highRisk[f] = true
			}
		}
	}

	if len(impacted) == 0 {
		return 1.0, true
	}

	reviewed := 0
	hasHighRiskCoverage := true
	for f := range impacted {
		if mediator.ReviewedInOutputs(f, outputs) {
			reviewed++
		} else if highRisk[f] {
			hasHighRiskCoverage = false
		}
	}
	return float64(reviewed) / float64(len(impacted)), hasHighRiskCoverage
}

// gatedPredicate applies the mode-specific convergence predicate and, on
// failure, assembles the highest-priority failing reason.
func gatedPredicate(mode model.VerificationMode, s *Snapshot, currentRound, minRounds, stableRounds int, hasHighRiskCoverage bool) (bool, string) {
	type clause struct {
		fails  bool
		reason string
	}

	var clauses []clause
	clauses = append(clauses,
		clause{s.CriticalUnresolved > 0, fmt.Sprintf("%d critical issue(s) remain unresolved", s.CriticalUnresolved)},
		clause{s.HighUnresolved > 0, fmt.Sprintf("%d high-severity issue(s) remain unresolved", s.HighUnresolved)},
		clause{!s.AllCategoriesExamined, fmt.Sprintf("categories not yet examined: %s", strings.Join(s.UncoveredCategories, ", "))},
	)

	if mode != model.ModeSinglePass {
		clauses = append(clauses,
			clause{!s.HasEdgeCaseCoverage, "no edge-case or boundary-condition analysis found in round output"},
			clause{!s.HasNegativeAssertions, "no explicit clean/verified statement found in round output"},
			clause{!hasHighRiskCoverage, "high-risk impacted files have not been reviewed"},
		)
	}

	if mode == model.ModeStandard {
		clauses = append(clauses,
			clause{!s.IssuesStabilized || s.RoundsWithoutNewIssues < stableRounds, fmt.Sprintf("issue activity has not stabilized for %d round(s)", stableRounds)},
		)
	}

	clauses = append(clauses, clause{currentRound < minRounds, fmt.Sprintf("minimum of %d round(s) not yet reached", minRounds)})

	for _, c := range clauses {
		if c.fails {
			return false, c.reason
		}
	}

	return true, fmt.Sprintf("converged in %s mode with %.0f%% impact coverage", mode, s.ImpactCoverage*100)
}
