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
	"strconv"
	"strings"

	flag "github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/pkg/config"
)

// runConfig implements `elenchus config [show|set KEY VALUE]`. Only a
// handful of scalar top-level and first-level-nested keys are settable;
// anything deeper should be edited in project.yaml directly.
func runConfig(args []string, g GlobalFlags) error {
	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return errors.NewValidationError("invalid flags to config", err.Error(), "")
	}
	rest := fs.Args()

	path := resolvedConfigPath(g.ConfigPath)
	cfg, err := config.Load(path)
	if err != nil {
		return errors.NewConfigError("failed to load configuration", err.Error(),
			"run 'elenchus init' to create one", err)
	}

	if len(rest) == 0 || rest[0] == "show" {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return errors.NewInternalError("failed to render configuration", err.Error(), "", err)
		}
		fmt.Print(string(out))
		return nil
	}

	if rest[0] != "set" {
		return errors.NewValidationError("unknown config subcommand", rest[0], "use 'show' or 'set KEY VALUE'")
	}
	if len(rest) != 3 {
		return errors.NewValidationError("set requires KEY and VALUE", strings.Join(rest, " "), "elenchus config set max_rounds 30")
	}
	if err := applyConfigSet(cfg, rest[1], rest[2]); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return errors.NewIOError("failed to save configuration", err.Error(), err)
	}
	logInfo(g, "updated %s", rest[1])
	return nil
}

func applyConfigSet(cfg *config.Config, key, value string) error {
	switch key {
	case "data_dir":
		cfg.DataDir = value
	case "max_rounds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.NewValidationError("max_rounds must be an integer", value, "")
		}
		cfg.MaxRounds = n
	case "sampling.rate_percent":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.NewValidationError("sampling.rate_percent must be a number", value, "")
		}
		cfg.Sampling.RatePercent = f
	case "sampling.strategy":
		cfg.Sampling.Strategy = value
	case "cache.watch_files":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.NewValidationError("cache.watch_files must be a boolean", value, "")
		}
		cfg.Cache.WatchFiles = b
	case "safeguards.strict":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.NewValidationError("safeguards.strict must be a boolean", value, "")
		}
		cfg.Safeguards.Strict = b
	case "pipeline.enforce_token_budget":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.NewValidationError("pipeline.enforce_token_budget must be a boolean", value, "")
		}
		cfg.Pipeline.EnforceTokenBudget = b
	default:
		return errors.NewValidationError("unknown or unsettable config key", key,
			"edit project.yaml directly for nested or advanced settings")
	}
	return nil
}
