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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/config"
	"github.com/kraklabs/elenchus/pkg/session"
)

// runStatus lists the sessions persisted under the configured data
// directory, ordered by session ID, descending.
func runStatus(args []string, g GlobalFlags) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of sessions to show")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return errors.NewValidationError("invalid flags to status", err.Error(), "")
	}

	cfg, err := config.Load(resolvedConfigPath(g.ConfigPath))
	if err != nil {
		cfg = config.DefaultConfig("")
	}
	dataDir := projectDataDir(cfg)

	ids, err := listSessionIDs(dataDir)
	if err != nil {
		return errors.NewIOError("failed to list sessions", err.Error(), err)
	}

	e := session.New(dataDir, nil)
	type row struct {
		ID           string `json:"id"`
		Status       string `json:"status"`
		CurrentRound int    `json:"currentRound"`
		Verdict      string `json:"verdict,omitempty"`
		Target       string `json:"target"`
	}
	var rows []row
	for _, id := range ids {
		s, err := e.GetSession(id)
		if err != nil || s == nil {
			continue
		}
		rows = append(rows, row{
			ID:           s.ID,
			Status:       string(s.Status),
			CurrentRound: s.CurrentRound,
			Verdict:      string(s.Verdict),
			Target:       s.Target,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	if len(rows) > *limit {
		rows = rows[:*limit]
	}

	if g.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		logInfo(g, "no sessions found under %s", dataDir)
		return nil
	}
	for _, r := range rows {
		fmt.Printf("%-40s %-14s round=%-3d verdict=%-10s target=%s\n", r.ID, r.Status, r.CurrentRound, r.Verdict, r.Target)
	}
	return nil
}

func listSessionIDs(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "sessions"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, ent := range entries {
		if ent.IsDir() && session.ValidID(ent.Name()) {
			ids = append(ids, ent.Name())
		}
	}
	return ids, nil
}
