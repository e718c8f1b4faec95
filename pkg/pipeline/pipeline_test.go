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

package pipeline

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteTier_BlocksEscalationWhenBudgetExceeded(t *testing.T) {
	// Scenario 3: maxTotalTokens=500, enforceTokenBudget=true, qualityFirst=false.
	s, err := NewState(Config{MaxTotalTokens: 500, EnforceTokenBudget: true, QualityFirst: false})
	require.NoError(t, err)

	res := s.CompleteTier(TierResult{Tier: TierScreen, TokensUsed: 600, CriticalIssues: 1}, false)
	assert.False(t, res.ShouldEscalate)
	assert.True(t, res.TokenBudgetExceeded)
	assert.Contains(t, res.Reason, "Token budget exceeded")
}

func TestCompleteTier_QualityFirstOverridesBudget(t *testing.T) {
	s, err := NewState(Config{MaxTotalTokens: 500, EnforceTokenBudget: true, QualityFirst: true})
	require.NoError(t, err)

	res := s.CompleteTier(TierResult{Tier: TierScreen, TokensUsed: 600, CriticalIssues: 1}, false)
	assert.True(t, res.ShouldEscalate)
	assert.Equal(t, TierFocused, res.NextTier)
}

func TestCompleteTier_UnenforcedBudgetDoesNotBlockEscalation(t *testing.T) {
	s, err := NewState(Config{MaxTotalTokens: 500, EnforceTokenBudget: false})
	require.NoError(t, err)
	res := s.CompleteTier(TierResult{Tier: TierScreen, TokensUsed: 600, CriticalIssues: 1}, false)
	assert.True(t, res.ShouldEscalate, "budget not enforced, findings still warrant escalation")
	assert.False(t, res.TokenBudgetExceeded)
}

func TestCompleteTier_EscalationRuleWarrant(t *testing.T) {
	s, err := NewState(Config{MaxTotalTokens: 100000})
	require.NoError(t, err)

	res := s.CompleteTier(TierResult{Tier: TierScreen, IssuesFound: 1}, false)
	assert.False(t, res.ShouldEscalate, "1 issue and no criticals does not warrant escalation")

	res = s.CompleteTier(TierResult{Tier: TierFocused, IssuesFound: 3}, false)
	assert.True(t, res.ShouldEscalate, ">=3 issues warrants escalation")
	assert.Equal(t, TierExhaustive, res.NextTier)
}

func TestCompleteTier_ExhaustiveHasNoNext(t *testing.T) {
	s, err := NewState(Config{MaxTotalTokens: 100000})
	require.NoError(t, err)
	res := s.CompleteTier(TierResult{Tier: TierExhaustive, CriticalIssues: 5}, false)
	assert.False(t, res.ShouldEscalate)
	assert.Contains(t, res.Reason, "exhaustive")
}

func TestCompleteTier_AlwaysExhaustiveBypassesWarrant(t *testing.T) {
	s, err := NewState(Config{MaxTotalTokens: 100000})
	require.NoError(t, err)
	res := s.CompleteTier(TierResult{Tier: TierScreen, IssuesFound: 0}, true)
	assert.True(t, res.ShouldEscalate)
}

func TestCompleteTier_BudgetWarningAt80Percent(t *testing.T) {
	s, err := NewState(Config{MaxTotalTokens: 1000})
	require.NoError(t, err)
	res := s.CompleteTier(TierResult{Tier: TierScreen, TokensUsed: 850, IssuesFound: 1}, false)
	assert.True(t, res.BudgetWarning)
}

func TestBudgetFor_AppliesTierMultipliers(t *testing.T) {
	assert.Equal(t, int64(300), BudgetFor(TierScreen, 1000))
	assert.Equal(t, int64(600), BudgetFor(TierFocused, 1000))
	assert.Equal(t, int64(1000), BudgetFor(TierExhaustive, 1000))
}

func TestPatternMatcher_GlobTranslation(t *testing.T) {
	m, err := NewPatternMatcher([]string{"auth/**", "**/security/*.go", "(?i)payment"})
	require.NoError(t, err)
	assert.True(t, m.Match("auth/login.go"))
	assert.True(t, m.Match("auth/deeply/nested/file.go"))
	assert.True(t, m.Match("internal/security/keys.go"))
	assert.True(t, m.Match("billing/Payment.go"))
	assert.False(t, m.Match("unrelated/file.go"))
}

// TestGlobToRegex_LinearInPatternLength guards the ReDoS-safety testable
// property: compiling a pathological glob must stay fast regardless of
// how many repeated wildcard segments it contains.
func TestGlobToRegex_LinearInPatternLength(t *testing.T) {
	pattern := strings.Repeat("a*", 2000) + "b"
	start := time.Now()
	_, err := NewPatternMatcher([]string{pattern})
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestGlobToRegex_MatchLinearAgainstNonMatchingPath(t *testing.T) {
	m, err := NewPatternMatcher([]string{strings.Repeat("a*", 200) + "x"})
	require.NoError(t, err)
	path := strings.Repeat("a", 500) + "y" // never matches; classic backtracking trap
	start := time.Now()
	m.Match(path)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
