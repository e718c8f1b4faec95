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
	"os"
	"path/filepath"

	"github.com/kraklabs/elenchus/pkg/config"
)

// resolvedConfigPath picks the project config path: an explicit --config
// flag value, then ELENCHUS_CONFIG_PATH, then config's own default
// (./.elenchus/project.yaml).
func resolvedConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv("ELENCHUS_CONFIG_PATH"); v != "" {
		return v
	}
	p, _ := config.Path("")
	return p
}

// projectDataDir resolves the data directory a running command should use:
// the configured value when it is set, otherwise ELENCHUS_DATA_DIR,
// otherwise ~/.elenchus/data.
func projectDataDir(cfg *config.Config) string {
	if cfg != nil && cfg.DataDir != "" {
		return cfg.DataDir
	}
	if v := os.Getenv("ELENCHUS_DATA_DIR"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".elenchus", "data")
}

// absPath returns an absolute, cleaned form of p, falling back to p
// unchanged if the working directory can't be determined.
func absPath(p string) string {
	a, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	return a
}
