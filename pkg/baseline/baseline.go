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

// Package baseline persists a project's last-PASS snapshot — a file-hash
// map plus metadata — that the differential scanner compares against when
// a caller asks to verify only what changed since "last-verified". One
// baseline is kept per project at any time, with a truncated history of
// prior baselines' metadata.
package baseline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kraklabs/elenchus/internal/errors"
)

// historyLimit bounds how many prior baselines' metadata are retained.
const historyLimit = 10

// ProjectHash returns the stable project identifier: the first 16 hex
// chars of SHA-256 of the absolute project path.
func ProjectHash(absPath string) string {
	sum := sha256.Sum256([]byte(absPath))
	return hex.EncodeToString(sum[:])[:16]
}

// Verdict mirrors model.Verdict; only PASS baselines are ever stored.
type Verdict string

const VerdictPass Verdict = "PASS"

// Baseline is one project's last-verified snapshot.
type Baseline struct {
	ProjectHash     string            `json:"projectHash"`
	Timestamp       time.Time         `json:"timestamp"`
	Target          string            `json:"target"`
	SessionID       string            `json:"sessionId"`
	Verdict         Verdict           `json:"verdict"`
	VCSCommit       string            `json:"vcsCommit,omitempty"`
	VCSBranch       string            `json:"vcsBranch,omitempty"`
	VCSRemote       string            `json:"vcsRemote,omitempty"`
	FileHashes      map[string]string `json:"fileHashes"`
	TotalFiles      int               `json:"totalFiles"`
	RemainingIssues int               `json:"remainingIssues"`
}

// HistoryEntry is the truncated metadata retained for a superseded
// baseline (the full file-hash map is dropped from history entries).
type HistoryEntry struct {
	Timestamp       time.Time `json:"timestamp"`
	Target          string    `json:"target"`
	SessionID       string    `json:"sessionId"`
	TotalFiles      int       `json:"totalFiles"`
	RemainingIssues int       `json:"remainingIssues"`
}

// Index is the on-disk index.json alongside the current baseline.json:
// summary entries for up to historyLimit prior baselines. The current
// baseline itself is stored only in baseline.json.
type Index struct {
	History []HistoryEntry `json:"history"`
}

// Store manages the on-disk baseline layout under
// ${DataDir}/baselines/{projectHash}/{baseline.json,index.json}.
type Store struct {
	dataDir string
}

// NewStore builds a Store rooted at dataDir.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

func (s *Store) dir(projectHash string) string {
	return filepath.Join(s.dataDir, "baselines", projectHash)
}

// Save writes b as the current baseline for its project, pushing the
// previous current baseline (if any) into history and truncating history
// to historyLimit entries.
func (s *Store) Save(b *Baseline) error {
	dir := s.dir(b.ProjectHash)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.NewIOError("failed to create baseline directory", err.Error(), err)
	}

	idx, _ := s.loadIndex(b.ProjectHash)
	if prev, err := s.loadCurrent(b.ProjectHash); err == nil && prev != nil {
		idx.History = append([]HistoryEntry{{
			Timestamp:       prev.Timestamp,
			Target:          prev.Target,
			SessionID:       prev.SessionID,
			TotalFiles:      prev.TotalFiles,
			RemainingIssues: prev.RemainingIssues,
		}}, idx.History...)
	}
	if len(idx.History) > historyLimit {
		idx.History = idx.History[:historyLimit]
	}

	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return errors.NewIOError("failed to marshal baseline", err.Error(), err)
	}
	if err := writeFileRetry(filepath.Join(dir, "baseline.json"), data); err != nil {
		return err
	}

	idxData, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return errors.NewIOError("failed to marshal baseline index", err.Error(), err)
	}
	return writeFileRetry(filepath.Join(dir, "index.json"), idxData)
}

// writeFileRetry persists data to path, retrying once on failure before
// surfacing an IOError; persistence I/O is retried once.
func writeFileRetry(path string, data []byte) error {
	err := os.WriteFile(path, data, 0o644)
	if err == nil {
		return nil
	}
	err = os.WriteFile(path, data, 0o644)
	if err != nil {
		return errors.NewIOError("failed to persist baseline", "path="+path, err)
	}
	return nil
}

func (s *Store) loadCurrent(projectHash string) (*Baseline, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(projectHash), "baseline.json"))
	if err != nil {
		return nil, err
	}
	var b Baseline
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Load returns the current baseline for a project, or nil if none exists.
func (s *Store) Load(projectHash string) (*Baseline, error) {
	b, err := s.loadCurrent(projectHash)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIntegrityError("failed to load baseline", err.Error(), err)
	}
	return b, nil
}

func (s *Store) loadIndex(projectHash string) (Index, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(projectHash), "index.json"))
	if err != nil {
		return Index{}, err
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return Index{}, err
	}
	return idx, nil
}

// History returns the truncated history of prior baselines for a project.
func (s *Store) History(projectHash string) ([]HistoryEntry, error) {
	idx, err := s.loadIndex(projectHash)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIntegrityError("failed to load baseline history", err.Error(), err)
	}
	return idx.History, nil
}
