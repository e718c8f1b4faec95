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

	"github.com/kraklabs/elenchus/internal/errors"
)

const bashCompletion = `_elenchus_completions() {
  local cur prev
  cur="${COMP_WORDS[COMP_CWORD]}"
  COMPREPLY=( $(compgen -W "serve init index status config completion help" -- "${cur}") )
}
complete -F _elenchus_completions elenchus
`

const zshCompletion = `#compdef elenchus
_elenchus() {
  _arguments '1: :(serve init index status config completion help)'
}
_elenchus
`

const fishCompletion = `complete -c elenchus -n "__fish_use_subcommand" -a "serve init index status config completion help"
`

// runCompletion prints a shell completion script for the requested shell.
func runCompletion(args []string, g GlobalFlags) error {
	if len(args) != 1 {
		return errors.NewValidationError("completion requires exactly one shell name", "usage", "elenchus completion bash|zsh|fish")
	}
	switch args[0] {
	case "bash":
		fmt.Print(bashCompletion)
	case "zsh":
		fmt.Print(zshCompletion)
	case "fish":
		fmt.Print(fishCompletion)
	default:
		return errors.NewValidationError("unsupported shell", args[0], "use bash, zsh, or fish")
	}
	return nil
}
