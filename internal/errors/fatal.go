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

package errors

import (
	"fmt"
	"os"
)

// FatalError prints err (colorized unless color is false) to stderr and
// exits the process with status 1. Used only from cmd/elenchus main-line
// code paths that cannot recover (e.g. an unreadable config at startup).
func FatalError(err error, color bool) {
	if ue, ok := err.(*Error); ok {
		fmt.Fprintln(os.Stderr, ue.Format(color))
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}
