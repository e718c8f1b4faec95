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

package sampling

import "sync"

// ProductivityTracker counts how often a spot-check sample actually
// turned up an issue, the signal safeguards uses for its
// samplingProductivity metric and for marking a path's RecentMiss.
type ProductivityTracker struct {
	mu        sync.Mutex
	total     int
	productive int
	misses    map[string]int
}

// NewProductivityTracker builds an empty tracker.
func NewProductivityTracker() *ProductivityTracker {
	return &ProductivityTracker{misses: make(map[string]int)}
}

// Record logs the outcome of one sampled file's verification.
func (t *ProductivityTracker) Record(path string, foundIssue bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total++
	if foundIssue {
		t.productive++
		return
	}
	t.misses[path]++
}

// Rate returns the productivity rate in [0, 100], the percentage of
// sampled files that surfaced at least one issue. Returns 100 when
// nothing has been sampled yet (no evidence of unproductive sampling).
func (t *ProductivityTracker) Rate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total == 0 {
		return 100
	}
	return 100 * float64(t.productive) / float64(t.total)
}

// Productive reports whether no sample of a given path has come back
// clean (no recorded miss); a path never sampled also reports true. Used
// to decide the confidence aggregator's sampled-source score.
func (t *ProductivityTracker) Productive(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.misses[path] == 0
}

// RecentMiss reports whether path has accumulated at least threshold
// misses, used to feed RecentMiss into sampling.Candidate for the next
// round's historical boost.
func (t *ProductivityTracker) RecentMiss(path string, threshold int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.misses[path] >= threshold
}
