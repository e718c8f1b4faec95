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

// Package model defines the data model shared by every Elenchus
// component: sessions, rounds, issues, checkpoints, and the
// verification context that ties them together.
package model

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	StatusInitialized SessionStatus = "initialized"
	StatusFraming     SessionStatus = "framing"
	StatusVerifying   SessionStatus = "verifying"
	StatusConverging  SessionStatus = "converging"
	StatusConverged   SessionStatus = "converged"
	StatusForcedStop  SessionStatus = "forced_stop"
	StatusError       SessionStatus = "error"
	StatusReVerifying SessionStatus = "re-verifying"
)

// terminalStatuses are statuses from which no further rounds may be
// submitted.
var terminalStatuses = map[SessionStatus]bool{
	StatusConverged:  true,
	StatusForcedStop: true,
	StatusError:      true,
}

// IsTerminal reports whether s admits no further round submissions.
func (s SessionStatus) IsTerminal() bool { return terminalStatuses[s] }

// Role is the discriminant carried by a Round.
type Role string

const (
	RoleVerifier Role = "verifier"
	RoleCritic   Role = "critic"
	RoleArbiter  Role = "arbiter"
)

// VerificationMode selects which convergence predicate governs a session.
type VerificationMode string

const (
	ModeStandard   VerificationMode = "standard"
	ModeFastTrack  VerificationMode = "fast-track"
	ModeSinglePass VerificationMode = "single-pass"
)

// Verdict is the final outcome recorded by endSession.
type Verdict string

const (
	VerdictPass        Verdict = "PASS"
	VerdictFail        Verdict = "FAIL"
	VerdictConditional Verdict = "CONDITIONAL"
)

// ModeConfig is the session's verification-mode configuration, with
// optional overrides of the mode's built-in minimums.
type ModeConfig struct {
	Mode                 VerificationMode `json:"mode"`
	MinRounds            int              `json:"minRounds,omitempty"`
	StableRoundsRequired int              `json:"stableRoundsRequired,omitempty"`
}

// OptimizationConfig records which optional optimizations are active for
// a session, consumed by the safeguards coordinator.
type OptimizationConfig struct {
	DifferentialEnabled bool `json:"differentialEnabled"`
	CacheEnabled        bool `json:"cacheEnabled"`
	PipelineEnabled     bool `json:"pipelineEnabled"`
	SamplingEnabled     bool `json:"samplingEnabled"`
}

// Any reports whether at least one optimization is active.
func (o OptimizationConfig) Any() bool {
	return o.DifferentialEnabled || o.CacheEnabled || o.PipelineEnabled || o.SamplingEnabled
}

// FileLayer tags when a FileContext entered the session.
type FileLayer string

const (
	LayerBase       FileLayer = "base"
	LayerDiscovered FileLayer = "discovered"
)

// ChangeStatus is the differential attribute of a FileContext.
type ChangeStatus string

const (
	ChangeAdded     ChangeStatus = "added"
	ChangeModified  ChangeStatus = "modified"
	ChangeDeleted   ChangeStatus = "deleted"
	ChangeRenamed   ChangeStatus = "renamed"
	ChangeUnchanged ChangeStatus = "unchanged"
)

// FileContext is one file's presence inside a session's verification
// context.
type FileContext struct {
	Path         string       `json:"path"`
	Content      string       `json:"content,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
	Layer        FileLayer    `json:"layer"`
	AddedInRound int          `json:"addedInRound,omitempty"`

	// Differential attributes, populated once the change scanner has run.
	ChangeStatus      ChangeStatus `json:"changeStatus,omitempty"`
	ChangedLines      []int        `json:"changedLines,omitempty"`
	AffectedByChange  bool         `json:"affectedByChange,omitempty"`
	SkipVerification  bool         `json:"skipVerification,omitempty"`
}

// VerificationContext is the session-wide target + requirements + file map.
type VerificationContext struct {
	Target       string                  `json:"target"`
	Requirements string                  `json:"requirements"`
	Files        map[string]*FileContext `json:"files"`
}

// ContextDelta is the space-efficient alternative to a full context
// summary carried by a Round's Input: only the files added since
// a reference round.
type ContextDelta struct {
	ReferenceRound int      `json:"referenceRound"`
	AddedPaths     []string `json:"addedPaths"`
}

// RoundInput is either a full context summary or a ContextDelta.
type RoundInput struct {
	FullContextSummary string        `json:"fullContextSummary,omitempty"`
	Delta              *ContextDelta `json:"delta,omitempty"`
}

// Round is one submission by a role.
type Round struct {
	Number             int        `json:"number"`
	Role               Role       `json:"role"`
	Input              RoundInput `json:"input"`
	Output             string     `json:"output"`
	Timestamp          time.Time  `json:"timestamp"`
	IssuesRaised       []string   `json:"issuesRaised,omitempty"`
	IssuesResolved     []string   `json:"issuesResolved,omitempty"`
	ContextExpanded    bool       `json:"contextExpanded"`
	NewFilesDiscovered []string   `json:"newFilesDiscovered,omitempty"`
}

// Checkpoint is a rollback point. Issues and Files are deep
// copies: after a rollback, the pre-checkpoint issue/file instances are
// unreachable from session state.
type Checkpoint struct {
	Round         int                     `json:"round"`
	Timestamp     time.Time               `json:"timestamp"`
	Issues        map[string]*Issue       `json:"issues"`
	Files         map[string]*FileContext `json:"files"`
	CanRollbackTo bool                    `json:"canRollbackTo"`
}

// Session is the long-lived aggregate tying a verification run together.
type Session struct {
	ID           string               `json:"id"`
	Target       string               `json:"target"`
	Requirements string               `json:"requirements"`
	Status       SessionStatus        `json:"status"`
	Phase        string               `json:"phase,omitempty"`
	CurrentRound int                  `json:"currentRound"`
	MaxRounds    int                  `json:"maxRounds"`
	ModeConfig   ModeConfig           `json:"modeConfig"`
	Optimization OptimizationConfig   `json:"optimization"`
	Rounds       []*Round             `json:"rounds"`
	Checkpoints  []*Checkpoint        `json:"checkpoints"`
	Issues       map[string]*Issue    `json:"issues"`
	Context      VerificationContext  `json:"context"`
	Verdict      Verdict              `json:"verdict,omitempty"`
	CreatedAt    time.Time            `json:"createdAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// LastRound returns the most recently submitted round, or nil.
func (s *Session) LastRound() *Round {
	if len(s.Rounds) == 0 {
		return nil
	}
	return s.Rounds[len(s.Rounds)-1]
}

// ActiveIssues returns issues whose status is not RESOLVED/DISMISSED/MERGED.
func (s *Session) ActiveIssues() []*Issue {
	out := make([]*Issue, 0, len(s.Issues))
	for _, iss := range s.Issues {
		if !iss.Status.Inactive() {
			out = append(out, iss)
		}
	}
	return out
}

// DeepCopyIssues returns a deep copy of the session's issue set, used by
// checkpoint/rollback.
func (s *Session) DeepCopyIssues() map[string]*Issue {
	out := make(map[string]*Issue, len(s.Issues))
	for id, iss := range s.Issues {
		out[id] = iss.Clone()
	}
	return out
}

// DeepCopyFiles returns a deep copy of the current file-context map.
func (s *Session) DeepCopyFiles() map[string]*FileContext {
	out := make(map[string]*FileContext, len(s.Context.Files))
	for path, fc := range s.Context.Files {
		cp := *fc
		cp.Dependencies = append([]string(nil), fc.Dependencies...)
		cp.ChangedLines = append([]int(nil), fc.ChangedLines...)
		out[path] = &cp
	}
	return out
}
