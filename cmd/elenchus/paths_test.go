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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/elenchus/pkg/config"
)

func TestResolvedConfigPath_PrefersFlag(t *testing.T) {
	assert.Equal(t, "/tmp/custom.yaml", resolvedConfigPath("/tmp/custom.yaml"))
}

func TestResolvedConfigPath_EnvOverridesDefault(t *testing.T) {
	t.Setenv("ELENCHUS_CONFIG_PATH", "/tmp/env.yaml")
	assert.Equal(t, "/tmp/env.yaml", resolvedConfigPath(""))
}

func TestResolvedConfigPath_DefaultsToProjectFile(t *testing.T) {
	got := resolvedConfigPath("")
	assert.Equal(t, filepath.Join(".elenchus", "project.yaml"), got)
}

func TestProjectDataDir_PrefersConfigValue(t *testing.T) {
	cfg := &config.Config{DataDir: "/data/from/config"}
	assert.Equal(t, "/data/from/config", projectDataDir(cfg))
}

func TestProjectDataDir_FallsBackToEnv(t *testing.T) {
	t.Setenv("ELENCHUS_DATA_DIR", "/data/from/env")
	assert.Equal(t, "/data/from/env", projectDataDir(&config.Config{}))
}

func TestAbsPath_ReturnsCleanedAbsolute(t *testing.T) {
	got := absPath(".")
	assert.True(t, filepath.IsAbs(got))
}
