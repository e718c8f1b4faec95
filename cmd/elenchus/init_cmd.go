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
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/config"
)

// runInit writes a fresh .elenchus/project.yaml, refusing to clobber an
// existing one unless --force is given.
func runInit(args []string, g GlobalFlags) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	dataDir := fs.String("data-dir", "", "override the default session storage directory")
	force := fs.Bool("force", false, "overwrite an existing configuration file")
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return errors.NewValidationError("invalid flags to init", err.Error(), "")
	}

	path := resolvedConfigPath(g.ConfigPath)
	if _, statErr := os.Stat(path); statErr == nil && !*force {
		return errors.NewStateError("configuration already exists", path, "pass --force to overwrite it")
	}

	cfg := config.DefaultConfig(*dataDir)
	if err := cfg.Save(path); err != nil {
		return errors.NewConfigError("failed to write configuration", err.Error(), "", err)
	}

	if g.JSONOutput {
		fmt.Printf("{\"configPath\":%q,\"dataDir\":%q}\n", absPath(path), cfg.DataDir)
		return nil
	}
	logInfo(g, "wrote %s", absPath(path))
	logInfo(g, "data directory: %s", cfg.DataDir)
	return nil
}
