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

package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/model"
)

// diskStore persists sessions under ${dataDir}/sessions/{id}/session.json,
// one JSON file per session, in the teacher's config-struct-plus-
// constructor idiom adapted from a CozoDB handle to a plain directory.
type diskStore struct {
	dataDir string
	logger  *slog.Logger
}

func newDiskStore(dataDir string, logger *slog.Logger) *diskStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &diskStore{dataDir: dataDir, logger: logger}
}

func (d *diskStore) sessionDir(id string) string {
	return filepath.Join(d.dataDir, "sessions", id)
}

func (d *diskStore) sessionPath(id string) string {
	return filepath.Join(d.sessionDir(id), "session.json")
}

// Save persists s to disk, retrying once on I/O failure before surfacing
// an IOError; the caller restores its pre-mutation snapshot.
func (d *diskStore) Save(s *model.Session) error {
	if err := os.MkdirAll(d.sessionDir(s.ID), 0o755); err != nil {
		return errors.NewIOError("failed to create session directory", err.Error(), err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.NewIntegrityError("failed to marshal session", err.Error(), err)
	}
	path := d.sessionPath(s.ID)
	writeErr := os.WriteFile(path, data, 0o644)
	if writeErr != nil {
		writeErr = os.WriteFile(path, data, 0o644) // retry once
	}
	if writeErr != nil {
		return errors.NewIOError("failed to persist session", "path="+path, writeErr)
	}
	return nil
}

// Load reads and schema-validates a persisted session. Malformed sessions
// return an IntegrityError and are never auto-repaired; callers treat that
// as "session absent" and log the error.
func (d *diskStore) Load(id string) (*model.Session, error) {
	data, err := os.ReadFile(d.sessionPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewIOError("failed to read session file", err.Error(), err)
	}
	var s model.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, errors.NewIntegrityError("persisted session failed to parse", err.Error(), err)
	}
	if err := validateLoaded(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

// validateLoaded checks the minimal schema invariants a persisted session
// must satisfy to be admitted back into memory: a valid id, a known
// status, and consecutive round numbers.
func validateLoaded(s *model.Session) error {
	if s.ID == "" || !ValidID(s.ID) {
		return errors.NewIntegrityError("persisted session has an invalid id", s.ID, nil)
	}
	switch s.Status {
	case model.StatusInitialized, model.StatusFraming, model.StatusVerifying, model.StatusConverging,
		model.StatusConverged, model.StatusForcedStop, model.StatusError, model.StatusReVerifying:
	default:
		return errors.NewIntegrityError("persisted session has an unknown status", s.ID, nil)
	}
	for i, r := range s.Rounds {
		if r.Number != i+1 {
			return errors.NewIntegrityError("persisted session has non-consecutive round numbers", s.ID, nil)
		}
	}
	if s.Issues == nil {
		s.Issues = make(map[string]*model.Issue)
	}
	if s.Context.Files == nil {
		s.Context.Files = make(map[string]*model.FileContext)
	}
	return nil
}
