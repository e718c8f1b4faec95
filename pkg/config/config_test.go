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

package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeDefaults_BuiltInPerMode(t *testing.T) {
	cfg := DefaultConfig("")
	min, stable := cfg.ModeDefaults("standard")
	assert.Equal(t, 3, min)
	assert.Equal(t, 2, stable)

	min, stable = cfg.ModeDefaults("fast-track")
	assert.Equal(t, 1, min)
	assert.Equal(t, 1, stable)

	min, stable = cfg.ModeDefaults("single-pass")
	assert.Equal(t, 1, min)
	assert.Equal(t, 1, stable)
}

func TestModeDefaults_ConfigOverridesWin(t *testing.T) {
	cfg := DefaultConfig("")
	cfg.Modes = map[string]ModeConfig{
		"standard": {MinRounds: 5, StableRoundsRequired: 3},
	}
	min, stable := cfg.ModeDefaults("standard")
	assert.Equal(t, 5, min)
	assert.Equal(t, 3, stable)
}

func TestConfig_SaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigDir, DefaultConfigFile)
	cfg := DefaultConfig(filepath.Join(dir, "data"))
	cfg.MaxRounds = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.MaxRounds)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
}

func TestApplyEnvOverrides_DataDirAndMaxRounds(t *testing.T) {
	t.Setenv("ELENCHUS_DATA_DIR", "/tmp/override-data")
	t.Setenv("ELENCHUS_MAX_ROUNDS", "7")

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigDir, DefaultConfigFile)
	require.NoError(t, DefaultConfig(dir).Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override-data", loaded.DataDir)
	assert.Equal(t, 7, loaded.MaxRounds)
}
