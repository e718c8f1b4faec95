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

package session

import (
	"crypto/rand"
	"encoding/base32"
	"regexp"
	"strings"
	"time"
)

// idPattern is the character-set and length check applied to session ids
// ([A-Za-z0-9_-]{1,100} end to end). Generated ids have the form
// <ISO-date>_<slug>_<6-random>, but that structure is not checked here.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidID reports whether id matches the session-id grammar, guarding
// against path traversal before it's ever used to build a filesystem path.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

const maxSlugLen = 30

// slugify collapses non-alphanumeric runs to a single "-" and truncates
// to maxSlugLen.
func slugify(target string) string {
	var b strings.Builder
	prevDash := false
	for _, r := range target {
		alnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
		if alnum {
			b.WriteRune(r)
			prevDash = false
			continue
		}
		if !prevDash {
			b.WriteByte('-')
			prevDash = true
		}
	}
	s := strings.Trim(b.String(), "-")
	if s == "" {
		s = "target"
	}
	if len(s) > maxSlugLen {
		s = s[:maxSlugLen]
	}
	return s
}

// randomSuffix returns 6 random alphanumeric characters.
func randomSuffix() string {
	buf := make([]byte, 5) // base32 of 5 bytes = 8 chars; we take 6
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is effectively unrecoverable on this host;
		// fall back to a fixed suffix rather than panicking mid-session.
		return "000000"
	}
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	enc = strings.ToLower(enc)
	if len(enc) > 6 {
		enc = enc[:6]
	}
	return enc
}

// NewID generates a session identifier of the form
// YYYY-MM-DD_<slug>_<6-char-random>.
func NewID(target string, now time.Time) string {
	date := now.Format("2006-01-02")
	return date + "_" + slugify(target) + "_" + randomSuffix()
}
