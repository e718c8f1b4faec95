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

	elenchuserrors "github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/internal/ui"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// GlobalFlags are the flags recognized before the subcommand name, per the
// SetInterspersed(false) CLI convention below.
type GlobalFlags struct {
	ShowVersion bool
	ConfigPath  string
	JSONOutput  bool
	NoColor     bool
	Verbose     bool
	Quiet       bool
}

func logInfo(g GlobalFlags, format string, args ...any) {
	if g.Quiet {
		return
	}
	ui.Info.Fprintf(os.Stderr, format+"\n", args...)
}

func logDebug(g GlobalFlags, format string, args ...any) {
	if !g.Verbose || g.Quiet {
		return
	}
	fmt.Fprintf(os.Stderr, "debug: "+format+"\n", args...)
}

func logError(format string, args ...any) {
	ui.Error.Fprintf(os.Stderr, format+"\n", args...)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `elenchus - adversarial Verifier/Critic code-review orchestration

Usage:
  elenchus [global flags] <command> [command flags]

Commands:
  init          Create .elenchus/project.yaml configuration
  serve         Start the stdio session & round protocol
  index         Parse the project and report its dependency graph
  status        Show recent session activity for this project
  config        Show or edit the project configuration
  completion    Generate shell completion script (bash|zsh|fish)

Global flags:
  --version        Show version information and exit
  --config PATH    Path to .elenchus/project.yaml configuration file
  --json            Emit machine-readable JSON instead of formatted text
  --no-color        Disable color output (respects NO_COLOR env var)
  --verbose, -v     Print debug diagnostics to stderr
  --quiet, -q        Suppress non-essential output

Run 'elenchus <command> --help' for command-specific flags.
`)
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	globalFlags := flag.NewFlagSet("elenchus", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = printUsage

	showVersion := globalFlags.Bool("version", false, "show version information and exit")
	configPath := globalFlags.String("config", "", "path to .elenchus/project.yaml")
	jsonOutput := globalFlags.Bool("json", false, "emit machine-readable JSON output")
	noColor := globalFlags.Bool("no-color", false, "disable color output")
	verbose := globalFlags.BoolP("verbose", "v", false, "print debug diagnostics to stderr")
	quiet := globalFlags.BoolP("quiet", "q", false, "suppress non-essential output")

	if err := globalFlags.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return 0
		}
		logError("%v", err)
		return 2
	}

	globals := GlobalFlags{
		ShowVersion: *showVersion,
		ConfigPath:  *configPath,
		JSONOutput:  *jsonOutput,
		NoColor:     *noColor,
		Verbose:     *verbose,
		Quiet:       *quiet || *jsonOutput,
	}
	ui.InitColors(globals.NoColor)

	if globals.ShowVersion {
		fmt.Printf("elenchus %s (commit %s, built %s)\n", version, commit, date)
		return 0
	}

	cmdArgs := globalFlags.Args()
	if len(cmdArgs) == 0 {
		printUsage()
		return 2
	}

	cmd, rest := cmdArgs[0], cmdArgs[1:]
	var err error
	switch cmd {
	case "serve":
		err = runServe(rest, globals)
	case "init":
		err = runInit(rest, globals)
	case "index":
		err = runIndex(rest, globals)
	case "status":
		err = runStatus(rest, globals)
	case "config":
		err = runConfig(rest, globals)
	case "completion":
		err = runCompletion(rest, globals)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		logError("unknown command %q", cmd)
		printUsage()
		return 2
	}

	if err != nil {
		if ee, ok := err.(*elenchuserrors.Error); ok {
			logError("%s", ee.Format(!globals.NoColor))
		} else {
			logError("%v", err)
		}
		return 1
	}
	return 0
}
