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

// Package session implements the session & round engine: it
// creates and persists sessions, validates strict role alternation,
// admits rounds, and orchestrates checkpoint/rollback. It is the only
// component that mutates session state; every other package (issueindex,
// convergence, mediator) is handed a session snapshot and reasons over it
// without writing back.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/baseline"
	"github.com/kraklabs/elenchus/pkg/convergence"
	"github.com/kraklabs/elenchus/pkg/issueindex"
	"github.com/kraklabs/elenchus/pkg/model"
)

// contentHash computes the SHA-256 content hash baselines record per
// file, feeding the baseline's file-hash map.
func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// entry is the in-memory record for one active session: the session
// itself plus the issue index kept in lock-step with it.
type entry struct {
	mu      sync.Mutex
	session *model.Session
	index   *issueindex.Index
}

// Engine is the process-wide session & round engine. All mutating
// operations on a given session are serialized through that session's
// entry mutex; there is no cross-session ordering guarantee.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	store    *diskStore
	logger   *slog.Logger
}

// New builds an Engine persisting sessions under dataDir.
func New(dataDir string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		sessions: make(map[string]*entry),
		store:    newDiskStore(dataDir, logger),
		logger:   logger,
	}
}

// CreateParams are the inputs to CreateSession.
type CreateParams struct {
	Target       string
	Requirements string
	MaxRounds    int
	ModeConfig   model.ModeConfig
	Optimization model.OptimizationConfig
}

// CreateSession generates a session id, initializes state, persists an
// initial record, and admits the session to the in-memory cache.
func (e *Engine) CreateSession(p CreateParams) (*model.Session, error) {
	if p.Target == "" {
		return nil, errors.NewValidationError("target is required", "CreateSession requires a non-empty target path", "pass a target directory or file path")
	}
	if p.MaxRounds <= 0 {
		p.MaxRounds = 20
	}
	if p.ModeConfig.Mode == "" {
		p.ModeConfig.Mode = model.ModeStandard
	}

	now := time.Now()
	id := NewID(p.Target, now)

	s := &model.Session{
		ID:           id,
		Target:       p.Target,
		Requirements: p.Requirements,
		Status:       model.StatusInitialized,
		MaxRounds:    p.MaxRounds,
		ModeConfig:   p.ModeConfig,
		Optimization: p.Optimization,
		Issues:       make(map[string]*model.Issue),
		Context: model.VerificationContext{
			Target:       p.Target,
			Requirements: p.Requirements,
			Files:        make(map[string]*model.FileContext),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := e.store.Save(s); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.sessions[id] = &entry{session: s, index: issueindex.New()}
	e.mu.Unlock()

	return s, nil
}

// entryFor returns the in-memory entry for id, loading it from disk on a
// cache miss. Returns (nil, nil) when the session genuinely doesn't
// exist; malformed persisted sessions are logged and treated as absent,
// leaving state untouched.
func (e *Engine) entryFor(id string) (*entry, error) {
	if !ValidID(id) {
		return nil, errors.NewValidationError("invalid session id", id, "session ids must match [A-Za-z0-9_-]{1,100}")
	}

	e.mu.RLock()
	en, ok := e.sessions[id]
	e.mu.RUnlock()
	if ok {
		return en, nil
	}

	s, err := e.store.Load(id)
	if err != nil {
		e.logger.Error("failed to load persisted session", "session_id", id, "error", err)
		return nil, nil
	}
	if s == nil {
		return nil, nil
	}

	idx := issueindex.New()
	idx.Rebuild(s.Issues)

	e.mu.Lock()
	en, ok = e.sessions[id]
	if !ok {
		en = &entry{session: s, index: idx}
		e.sessions[id] = en
	}
	e.mu.Unlock()
	return en, nil
}

// GetSession returns a snapshot of the session, or nil if it doesn't
// exist (including when the persisted copy failed schema validation).
func (e *Engine) GetSession(id string) (*model.Session, error) {
	en, err := e.entryFor(id)
	if err != nil {
		return nil, err
	}
	if en == nil {
		return nil, nil
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	return cloneSession(en.session), nil
}

// expectedNextRole derives the next admissible role from the session's
// last round, applying the fast-track Critic-skip and single-pass
// exceptions.
func expectedNextRole(s *model.Session) model.Role {
	last := s.LastRound()
	if last == nil {
		return model.RoleVerifier
	}
	if s.ModeConfig.Mode == model.ModeSinglePass {
		return model.RoleVerifier
	}
	if last.Role == model.RoleVerifier {
		if s.ModeConfig.Mode == model.ModeFastTrack && len(last.IssuesRaised) == 0 {
			return model.RoleVerifier
		}
		return model.RoleCritic
	}
	return model.RoleVerifier
}

// SubmitParams are the inputs to SubmitRound. RaisedIssues carries fully
// formed new issues (the engine canonicalizes their ids and stamps
// RaisedInRound); ResolvedIssueIDs references issues already present in
// the session that this round resolves, each of which must already carry
// a Critic verdict; CriticVerdicts maps
// an issue id to the verdict a Critic round is adjudicating this round.
type SubmitParams struct {
	Role             model.Role
	Output           string
	Input            model.RoundInput
	RaisedIssues     []*model.Issue
	ResolvedIssueIDs []string
	CriticVerdicts   map[string]model.CriticVerdict
	NewFiles         []*model.FileContext
}

// RoundAck is the result of a successful SubmitRound call.
type RoundAck struct {
	RoundNumber        int                    `json:"roundNumber"`
	NextRole           model.Role             `json:"nextRole"`
	IssuesRaised       []string               `json:"issuesRaised"`
	IssuesResolved     []string               `json:"issuesResolved"`
	ContextExpanded    bool                   `json:"contextExpanded"`
	NewFilesDiscovered []string               `json:"newFilesDiscovered"`
	Convergence        *convergence.Snapshot  `json:"convergence"`
	Intervention       string                 `json:"intervention,omitempty"`
}

// SubmitRound validates and admits one round. On any
// validation or state failure, session state is left untouched.
func (e *Engine) SubmitRound(id string, p SubmitParams) (*RoundAck, error) {
	en, err := e.entryFor(id)
	if err != nil {
		return nil, err
	}
	if en == nil {
		return nil, errors.NewNotFoundError("session not found", id)
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	if s.Status.IsTerminal() {
		return nil, errors.NewStateError("session already terminated", "status="+string(s.Status), "start a new session to continue verification")
	}

	expected := expectedNextRole(s)
	if p.Role != expected {
		return nil, errors.NewStateError("round submitted out of turn",
			"expected role "+string(expected)+", got "+string(p.Role),
			"submit the next round with the expected role")
	}

	for _, rid := range p.ResolvedIssueIDs {
		if _, ok := s.Issues[upper(rid)]; !ok {
			return nil, errors.NewValidationError("round references an unknown issue id", rid, "only resolve issues already raised in this session")
		}
	}
	for id, verdict := range p.CriticVerdicts {
		if _, ok := s.Issues[upper(id)]; !ok {
			return nil, errors.NewValidationError("round references an unknown issue id", id, "only adjudicate issues already raised in this session")
		}
		_ = verdict
	}

	// Everything validated; take a pre-mutation snapshot so an I/O
	// failure while persisting can roll the in-memory copy back.
	preSnapshot := cloneSession(s)

	roundNumber := s.CurrentRound + 1
	round := &model.Round{
		Number:    roundNumber,
		Role:      p.Role,
		Input:     p.Input,
		Output:    p.Output,
		Timestamp: time.Now(),
	}
	if round.Timestamp.Before(lastTimestamp(s)) {
		round.Timestamp = lastTimestamp(s)
	}

	var raisedIDs []string
	for _, iss := range p.RaisedIssues {
		iss.ID = upper(iss.ID)
		iss.RaisedByRole = p.Role
		iss.RaisedInRound = roundNumber
		if iss.Status == "" {
			iss.Status = model.StatusRaised
		}
		iss.AppendTransition(model.IssueTransition{
			Type: model.TransitionDiscovered, FromStatus: "", ToStatus: model.StatusRaised,
			Round: roundNumber, TriggeredBy: p.Role, Timestamp: round.Timestamp,
		})
		s.Issues[iss.ID] = iss
		en.index.Upsert(iss)
		raisedIDs = append(raisedIDs, iss.ID)
	}

	for id, verdict := range p.CriticVerdicts {
		iss := s.Issues[upper(id)]
		iss.CriticVerdict = verdict
		iss.CriticReviewRound = roundNumber
		toStatus := model.StatusChallenged
		ttype := model.TransitionValidated
		if verdict == model.VerdictInvalid {
			toStatus = model.StatusDismissed
			ttype = model.TransitionInvalidated
		}
		iss.AppendTransition(model.IssueTransition{
			Type: ttype, FromStatus: iss.Status, ToStatus: toStatus,
			Round: roundNumber, TriggeredBy: p.Role, Timestamp: round.Timestamp,
		})
		en.index.Upsert(iss)
	}

	var resolvedIDs []string
	for _, rid := range p.ResolvedIssueIDs {
		iss := s.Issues[upper(rid)]
		if iss.CriticVerdict == "" {
			*s = *preSnapshot
			en.index.Rebuild(s.Issues)
			return nil, errors.NewStateError(
				"issue cannot be resolved without a prior Critic review",
				iss.ID, "have a critic round adjudicate this issue before resolving it")
		}
		iss.ResolvedInRound = roundNumber
		iss.AppendTransition(model.IssueTransition{
			Type: model.TransitionValidated, FromStatus: iss.Status, ToStatus: model.StatusResolved,
			Round: roundNumber, TriggeredBy: p.Role, Timestamp: round.Timestamp,
		})
		en.index.Upsert(iss)
		resolvedIDs = append(resolvedIDs, iss.ID)
	}

	var newFiles []string
	contextExpanded := len(p.NewFiles) > 0
	for _, fc := range p.NewFiles {
		fc.Layer = model.LayerDiscovered
		fc.AddedInRound = roundNumber
		s.Context.Files[fc.Path] = fc
		newFiles = append(newFiles, fc.Path)
	}

	round.IssuesRaised = raisedIDs
	round.IssuesResolved = resolvedIDs
	round.ContextExpanded = contextExpanded
	round.NewFilesDiscovered = newFiles

	s.Rounds = append(s.Rounds, round)
	s.CurrentRound = roundNumber
	s.UpdatedAt = round.Timestamp
	if s.Status == model.StatusInitialized {
		s.Status = model.StatusFraming
	}

	snap := convergence.Evaluate(s)
	if snap.IsConverged {
		s.Status = model.StatusConverged
	} else if s.Status == model.StatusFraming && roundNumber > 1 {
		s.Status = model.StatusVerifying
	}
	if !snap.IsConverged && s.CurrentRound >= s.MaxRounds {
		s.Status = model.StatusForcedStop
	}

	if err := e.store.Save(s); err != nil {
		*s = *preSnapshot
		en.index.Rebuild(s.Issues)
		return nil, err
	}

	return &RoundAck{
		RoundNumber:        roundNumber,
		NextRole:           expectedNextRole(s),
		IssuesRaised:       raisedIDs,
		IssuesResolved:     resolvedIDs,
		ContextExpanded:    contextExpanded,
		NewFilesDiscovered: newFiles,
		Convergence:        snap,
	}, nil
}

func lastTimestamp(s *model.Session) time.Time {
	if last := s.LastRound(); last != nil {
		return last.Timestamp
	}
	return time.Time{}
}

func upper(s string) string { return strings.ToUpper(s) }

// cloneSession produces a value copy deep enough to restore state after a
// failed persistence attempt: the Rounds and Checkpoints slices are
// copied (their elements are shared, since they are only ever appended),
// and the issue and file maps are deep-copied entry by entry.
func cloneSession(s *model.Session) *model.Session {
	cp := *s
	cp.Rounds = append([]*model.Round(nil), s.Rounds...)
	cp.Checkpoints = append([]*model.Checkpoint(nil), s.Checkpoints...)
	cp.Issues = s.DeepCopyIssues()
	cp.Context.Files = s.DeepCopyFiles()
	return &cp
}

func cloneIssueMap(in map[string]*model.Issue) map[string]*model.Issue {
	out := make(map[string]*model.Issue, len(in))
	for id, iss := range in {
		out[id] = iss.Clone()
	}
	return out
}

func cloneFileMap(in map[string]*model.FileContext) map[string]*model.FileContext {
	out := make(map[string]*model.FileContext, len(in))
	for p, fc := range in {
		cp := *fc
		cp.Dependencies = append([]string(nil), fc.Dependencies...)
		cp.ChangedLines = append([]int(nil), fc.ChangedLines...)
		out[p] = &cp
	}
	return out
}

// Checkpoint records a rollback point at the session's current round.
func (e *Engine) Checkpoint(id string) (*model.Checkpoint, error) {
	en, err := e.entryFor(id)
	if err != nil {
		return nil, err
	}
	if en == nil {
		return nil, errors.NewNotFoundError("session not found", id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	cp := &model.Checkpoint{
		Round:         s.CurrentRound,
		Timestamp:     time.Now(),
		Issues:        s.DeepCopyIssues(),
		Files:         s.DeepCopyFiles(),
		CanRollbackTo: true,
	}
	s.Checkpoints = append(s.Checkpoints, cp)
	s.UpdatedAt = cp.Timestamp

	if err := e.store.Save(s); err != nil {
		s.Checkpoints = s.Checkpoints[:len(s.Checkpoints)-1]
		return nil, err
	}
	return cp, nil
}

// Rollback restores session state to the checkpoint at round, invalidating
// any checkpoints at later rounds and truncating rounds to that point.
func (e *Engine) Rollback(id string, round int) error {
	en, err := e.entryFor(id)
	if err != nil {
		return err
	}
	if en == nil {
		return errors.NewNotFoundError("session not found", id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	var target *model.Checkpoint
	var kept []*model.Checkpoint
	for _, cp := range s.Checkpoints {
		if cp.Round == round && cp.CanRollbackTo {
			target = cp
		}
		if cp.Round <= round {
			kept = append(kept, cp)
		}
	}
	if target == nil {
		return errors.NewNotFoundError("no checkpoint at that round", "round="+strconv.Itoa(round))
	}

	preSnapshot := cloneSession(s)

	// Deep-copy out of the checkpoint rather than aliasing it: the
	// checkpoint must stay replayable for a later rollback even if the
	// session goes on to mutate the issues/files it hands back now.
	s.Issues = cloneIssueMap(target.Issues)
	s.Context.Files = cloneFileMap(target.Files)
	if round < len(s.Rounds) {
		s.Rounds = s.Rounds[:round]
	}
	s.CurrentRound = round
	s.Checkpoints = kept
	s.UpdatedAt = time.Now()
	if s.Status.IsTerminal() {
		s.Status = model.StatusReVerifying
	}

	en.index.Rebuild(s.Issues)

	if err := e.store.Save(s); err != nil {
		*s = *preSnapshot
		en.index.Rebuild(s.Issues)
		return err
	}
	return nil
}

// EndSession records the final verdict. A PASS verdict delegates to the
// baseline store so the next differential scan has a "last-verified"
// reference to diff against.
func (e *Engine) EndSession(id string, verdict model.Verdict, store *baseline.Store, projectPath string) error {
	en, err := e.entryFor(id)
	if err != nil {
		return err
	}
	if en == nil {
		return errors.NewNotFoundError("session not found", id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	s.Verdict = verdict
	s.UpdatedAt = time.Now()
	switch verdict {
	case model.VerdictPass:
		if s.Status != model.StatusConverged {
			s.Status = model.StatusConverged
		}
	case model.VerdictFail:
		s.Status = model.StatusForcedStop
	}

	if err := e.store.Save(s); err != nil {
		return err
	}

	if verdict == model.VerdictPass && store != nil {
		fileHashes := make(map[string]string, len(s.Context.Files))
		for p, fc := range s.Context.Files {
			fileHashes[p] = contentHash(fc.Content)
		}
		b := &baseline.Baseline{
			ProjectHash:     baseline.ProjectHash(projectPath),
			Timestamp:       s.UpdatedAt,
			Target:          s.Target,
			SessionID:       s.ID,
			Verdict:         baseline.VerdictPass,
			FileHashes:      fileHashes,
			TotalFiles:      len(fileHashes),
			RemainingIssues: len(s.ActiveIssues()),
		}
		if err := store.Save(b); err != nil {
			return err
		}
	}

	e.mu.Lock()
	delete(e.sessions, id) // evicted from memory on explicit end; retained on disk
	e.mu.Unlock()
	return nil
}

// AnnotateFixApplied records that a fix was applied outside the session
// (the engine never patches files itself) by appending a REFINED
// transition to the issue. It does not change the issue's status.
func (e *Engine) AnnotateFixApplied(id, issueID, note string) error {
	en, err := e.entryFor(id)
	if err != nil {
		return err
	}
	if en == nil {
		return errors.NewNotFoundError("session not found", id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	iss, ok := s.Issues[upper(issueID)]
	if !ok {
		return errors.NewValidationError("unknown issue id", issueID, "only annotate issues already raised in this session")
	}

	iss.Transitions = append(iss.Transitions, model.IssueTransition{
		Type: model.TransitionRefined, FromStatus: iss.Status, ToStatus: iss.Status,
		Round: s.CurrentRound, Reason: note, TriggeredBy: model.RoleVerifier, Timestamp: time.Now(),
	})
	en.index.Upsert(iss)
	s.UpdatedAt = time.Now()

	return e.store.Save(s)
}

// StartReverification reopens a terminated session for another pass,
// extending MaxRounds by extraRounds and moving the session to
// StatusReVerifying so a fresh Verifier round is admissible.
func (e *Engine) StartReverification(id string, extraRounds int) (*model.Session, error) {
	en, err := e.entryFor(id)
	if err != nil {
		return nil, err
	}
	if en == nil {
		return nil, errors.NewNotFoundError("session not found", id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	if extraRounds <= 0 {
		extraRounds = 1
	}
	s.MaxRounds += extraRounds
	s.Status = model.StatusReVerifying
	s.UpdatedAt = time.Now()

	if err := e.store.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateModeConfig changes a session's verification mode mid-flight. Only
// permitted between rounds (SubmitRound itself is unaffected since
// expectedNextRole is recomputed from the new mode on the very next call).
func (e *Engine) UpdateModeConfig(id string, cfg model.ModeConfig) error {
	en, err := e.entryFor(id)
	if err != nil {
		return err
	}
	if en == nil {
		return errors.NewNotFoundError("session not found", id)
	}
	en.mu.Lock()
	defer en.mu.Unlock()
	s := en.session

	if s.Status.IsTerminal() {
		return errors.NewStateError("cannot update mode on a terminated session", "status="+string(s.Status), "start reverification before changing mode")
	}
	if cfg.Mode == "" {
		cfg.Mode = s.ModeConfig.Mode
	}
	s.ModeConfig = cfg
	s.UpdatedAt = time.Now()

	return e.store.Save(s)
}
