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

// Package pipeline is the three-tier verification escalator: screen,
// focused, exhaustive, each with a token-budget multiplier and a minimum
// severity focus, escalating from one completed tier to the next when
// the findings warrant it and the global budget allows it.
package pipeline

import (
	"fmt"
)

// Tier is one escalation level of the pipeline.
type Tier string

const (
	TierScreen     Tier = "screen"
	TierFocused    Tier = "focused"
	TierExhaustive Tier = "exhaustive"
)

var tierOrder = []Tier{TierScreen, TierFocused, TierExhaustive}

// budgetMultiplier is the fraction of maxTotalTokens a tier is allotted.
var budgetMultiplier = map[Tier]float64{
	TierScreen:     0.3,
	TierFocused:    0.6,
	TierExhaustive: 1.0,
}

// severityFocus is the minimum issue severity a tier is expected to surface.
var severityFocus = map[Tier]string{
	TierScreen:     "HIGH",
	TierFocused:    "MEDIUM",
	TierExhaustive: "LOW",
}

// BudgetFor returns the token budget for tier given the session's total
// token ceiling.
func BudgetFor(tier Tier, maxTotalTokens int64) int64 {
	return int64(float64(maxTotalTokens) * budgetMultiplier[tier])
}

// SeverityFocus returns the minimum severity a tier focuses on.
func SeverityFocus(tier Tier) string {
	return severityFocus[tier]
}

// Next returns the tier after t and whether one exists.
func Next(t Tier) (Tier, bool) {
	for i, cur := range tierOrder {
		if cur == t && i+1 < len(tierOrder) {
			return tierOrder[i+1], true
		}
	}
	return "", false
}

// TierResult is the outcome of completing one tier's verification pass.
type TierResult struct {
	Tier           Tier  `json:"tier"`
	FilesVerified  int   `json:"filesVerified"`
	IssuesFound    int   `json:"issuesFound"`
	CriticalIssues int   `json:"criticalIssues"`
	HighIssues     int   `json:"highIssues"`
	TokensUsed     int64 `json:"tokensUsed"`
	TimeMs         int64 `json:"timeMs"`
}

// Config mirrors the subset of config.PipelineConfig the escalator needs,
// kept local so pipeline doesn't import config (config already imports
// nothing from pipeline, but keeping the dependency one-directional here
// avoids coupling the escalator's decision rule to the on-disk schema).
type Config struct {
	MaxTotalTokens          int64
	EnforceTokenBudget      bool
	QualityFirst            bool
	AlwaysExhaustivePattern []string
}

// State tracks cumulative pipeline progress across tiers within a session.
type State struct {
	cfg               Config
	matcher           *PatternMatcher
	cumulativeTokens  int64
	completed         []TierResult
	tokenBudgetExceeded bool
}

// NewState builds pipeline State from cfg. Returns an error only if one of
// the always-exhaustive glob patterns fails to compile.
func NewState(cfg Config) (*State, error) {
	m, err := NewPatternMatcher(cfg.AlwaysExhaustivePattern)
	if err != nil {
		return nil, fmt.Errorf("compile always-exhaustive patterns: %w", err)
	}
	return &State{cfg: cfg, matcher: m}, nil
}

// IsAlwaysExhaustive reports whether path matches one of the configured
// always-exhaustive glob patterns (e.g. auth/**, **/security/*).
func (s *State) IsAlwaysExhaustive(path string) bool {
	return s.matcher.Match(path)
}

// CompleteTierResult is the outcome of CompleteTier: whether to escalate
// and, if not, why.
type CompleteTierResult struct {
	ShouldEscalate      bool   `json:"shouldEscalate"`
	NextTier            Tier   `json:"nextTier,omitempty"`
	Reason              string `json:"reason"`
	TokenBudgetExceeded bool   `json:"tokenBudgetExceeded"`
	BudgetWarning       bool   `json:"budgetWarning"`
	CumulativeTokens    int64  `json:"cumulativeTokens"`
}

// CompleteTier records a completed tier's result, updates cumulative token
// usage, and decides whether to escalate to the next tier.
//
// Escalation rule: escalate if criticalIssues >= 1 or issuesFound >= 3.
// Token budget: if enforcement is on and cumulative usage has reached
// maxTotalTokens, escalation is blocked even with criticals present,
// unless qualityFirst is set. At >=80% usage a warning is surfaced but
// escalation is not blocked.
func (s *State) CompleteTier(result TierResult, alwaysExhaustivePath bool) CompleteTierResult {
	s.completed = append(s.completed, result)
	s.cumulativeTokens += result.TokensUsed

	budgetWarning := false
	if s.cfg.MaxTotalTokens > 0 && float64(s.cumulativeTokens) >= 0.8*float64(s.cfg.MaxTotalTokens) {
		budgetWarning = true
	}

	exceeded := s.cfg.EnforceTokenBudget && s.cfg.MaxTotalTokens > 0 && s.cumulativeTokens >= s.cfg.MaxTotalTokens
	if exceeded {
		s.tokenBudgetExceeded = true
	}

	next, hasNext := Next(result.Tier)

	warrant := result.CriticalIssues >= 1 || result.IssuesFound >= 3

	if !warrant && !alwaysExhaustivePath {
		return CompleteTierResult{
			ShouldEscalate:      false,
			Reason:              "Findings do not warrant escalation",
			TokenBudgetExceeded: s.tokenBudgetExceeded,
			BudgetWarning:       budgetWarning,
			CumulativeTokens:    s.cumulativeTokens,
		}
	}

	if !hasNext {
		return CompleteTierResult{
			ShouldEscalate:      false,
			Reason:              "Already at the exhaustive tier",
			TokenBudgetExceeded: s.tokenBudgetExceeded,
			BudgetWarning:       budgetWarning,
			CumulativeTokens:    s.cumulativeTokens,
		}
	}

	// Always-exhaustive paths bypass the escalation rule (they escalate
	// regardless of findings) but still obey the budget.
	if exceeded && !s.cfg.QualityFirst {
		return CompleteTierResult{
			ShouldEscalate:      false,
			Reason:              "Token budget exceeded",
			TokenBudgetExceeded: true,
			BudgetWarning:       budgetWarning,
			CumulativeTokens:    s.cumulativeTokens,
		}
	}

	reason := "Escalating: findings warrant deeper review"
	if alwaysExhaustivePath && !warrant {
		reason = "Escalating: path matches an always-exhaustive pattern"
	}

	return CompleteTierResult{
		ShouldEscalate:      true,
		NextTier:            next,
		Reason:              reason,
		TokenBudgetExceeded: s.tokenBudgetExceeded,
		BudgetWarning:       budgetWarning,
		CumulativeTokens:    s.cumulativeTokens,
	}
}

// Completed returns the tier results recorded so far.
func (s *State) Completed() []TierResult {
	return s.completed
}

// CumulativeTokens returns total tokens consumed across all completed tiers.
func (s *State) CumulativeTokens() int64 {
	return s.cumulativeTokens
}

// TokenBudgetExceeded reports whether the budget was ever exceeded.
func (s *State) TokenBudgetExceeded() bool {
	return s.tokenBudgetExceeded
}
