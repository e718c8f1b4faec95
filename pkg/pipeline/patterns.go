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

package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternMatcher matches paths against a set of glob patterns, translated
// to regexes up front so matching itself never touches the raw glob
// syntax again.
type PatternMatcher struct {
	regexes []*regexp.Regexp
}

// NewPatternMatcher compiles patterns, which may be plain regexes (as used
// by the built-in always-exhaustive defaults, e.g. "(?i)auth") or glob
// patterns containing "*"/"**". A pattern that starts with an inline flag
// group "(?" is compiled as-is; any other pattern is treated as a glob if
// it contains a glob metacharacter, and compiled as-is otherwise.
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	m := &PatternMatcher{regexes: make([]*regexp.Regexp, 0, len(patterns))}
	for _, p := range patterns {
		src := p
		if strings.ContainsAny(p, "*?[") && !strings.HasPrefix(p, "(?") {
			src = globToRegex(p)
		}
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		m.regexes = append(m.regexes, re)
	}
	return m, nil
}

// Match reports whether path matches any configured pattern.
func (m *PatternMatcher) Match(path string) bool {
	for _, re := range m.regexes {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// globToRegex translates a glob pattern into a regex source string in a
// single linear pass over the pattern: every run of literal characters is
// escaped with regexp.QuoteMeta, and "**" / "*" / "?" are each substituted
// for a fixed, non-backtracking regex fragment. Because the translation
// never nests or repeats quantifiers and never branches on the input
// content, it is linear in len(pattern) regardless of the path being
// matched against — the degenerate "a*a*a*...b" blowup glob engines are
// prone to can't arise here since there's no backtracking translation step
// to exploit.
func globToRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")

	runes := []rune(pattern)
	i := 0
	for i < len(runes) {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				// "**" matches across path separators, non-greedily.
				b.WriteString(".*?")
				i += 2
			} else {
				// "*" matches within a single path segment, non-greedily.
				b.WriteString("[^/]*?")
				i++
			}
		case '?':
			b.WriteString("[^/]")
			i++
		default:
			// Accumulate a run of literal runes and escape them together.
			start := i
			for i < len(runes) && runes[i] != '*' && runes[i] != '?' {
				i++
			}
			b.WriteString(regexp.QuoteMeta(string(runes[start:i])))
		}
	}

	b.WriteString("$")
	return b.String()
}
