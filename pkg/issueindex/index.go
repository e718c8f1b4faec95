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

// Package issueindex implements a multi-index store over a session's
// issues, keeping a primary map plus secondary indexes by status,
// severity, and category in lock-step, and counts transitions inside a
// sliding window of recent rounds for stability checks. That count is
// computed by a scan over all issues on each call, not kept as a counter.
//
// A primary map plus three secondary maps are kept consistent by a
// single writer on every Upsert/Delete.
package issueindex

import (
	"strings"
	"sync"

	"github.com/kraklabs/elenchus/pkg/model"
)

// stabilityWindow is the sliding window (in rounds) used to decide
// issuesStabilized.
const stabilityWindow = 2

// Index is the multi-index issue store for one session.
type Index struct {
	mu sync.RWMutex

	byID       map[string]*model.Issue
	byStatus   map[model.Status]map[string]bool
	bySeverity map[model.Severity]map[string]bool
	byCategory map[model.Category]map[string]bool

	// recentTransitions is not written by any method; RecentTransitionCount
	// computes the window count from the issues on each call.
	recentTransitions int
}

// New builds an empty index.
func New() *Index {
	return &Index{
		byID:       make(map[string]*model.Issue),
		byStatus:   make(map[model.Status]map[string]bool),
		bySeverity: make(map[model.Severity]map[string]bool),
		byCategory: make(map[model.Category]map[string]bool),
	}
}

func addTo[K comparable](set map[K]map[string]bool, key K, id string) {
	if set[key] == nil {
		set[key] = make(map[string]bool)
	}
	set[key][id] = true
}

func removeFrom[K comparable](set map[K]map[string]bool, key K, id string) {
	if m, ok := set[key]; ok {
		delete(m, id)
	}
}

// Upsert inserts or replaces an issue in every index, canonicalizing its ID
// to upper case for a canonical key.
func (idx *Index) Upsert(issue *model.Issue) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	issue.ID = strings.ToUpper(issue.ID)
	if _, ok := idx.byID[issue.ID]; ok {
		// The stored pointer may be the one the caller just mutated, so its
		// fields are not the keys it was indexed under: drop the id from
		// every bucket instead.
		for _, m := range idx.byStatus {
			delete(m, issue.ID)
		}
		for _, m := range idx.bySeverity {
			delete(m, issue.ID)
		}
		for _, m := range idx.byCategory {
			delete(m, issue.ID)
		}
	}
	idx.byID[issue.ID] = issue
	addTo(idx.byStatus, issue.Status, issue.ID)
	addTo(idx.bySeverity, issue.Severity, issue.ID)
	addTo(idx.byCategory, issue.Category, issue.ID)
}

// Delete removes an issue from every index.
func (idx *Index) Delete(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	id = strings.ToUpper(id)
	old, ok := idx.byID[id]
	if !ok {
		return
	}
	delete(idx.byID, id)
	removeFrom(idx.byStatus, old.Status, id)
	removeFrom(idx.bySeverity, old.Severity, id)
	removeFrom(idx.byCategory, old.Category, id)
}

// Get looks up an issue by canonical id.
func (idx *Index) Get(id string) (*model.Issue, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	iss, ok := idx.byID[strings.ToUpper(id)]
	return iss, ok
}

// All returns every issue in the index (unordered).
func (idx *Index) All() []*model.Issue {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]*model.Issue, 0, len(idx.byID))
	for _, iss := range idx.byID {
		out = append(out, iss)
	}
	return out
}

// ByStatus returns the ids of issues with the given status.
func (idx *Index) ByStatus(status model.Status) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return keys(idx.byStatus[status])
}

// BySeverity returns the ids of issues with the given severity.
func (idx *Index) BySeverity(sev model.Severity) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return keys(idx.bySeverity[sev])
}

// ByCategory returns the ids of issues in the given category.
func (idx *Index) ByCategory(cat model.Category) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return keys(idx.byCategory[cat])
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// Counts returns the three counter vectors (status, severity, category),
// which must equal the corresponding index cardinalities.
func (idx *Index) Counts() (byStatus map[model.Status]int, bySeverity map[model.Severity]int, byCategory map[model.Category]int) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	byStatus = make(map[model.Status]int, len(idx.byStatus))
	for k, v := range idx.byStatus {
		byStatus[k] = len(v)
	}
	bySeverity = make(map[model.Severity]int, len(idx.bySeverity))
	for k, v := range idx.bySeverity {
		bySeverity[k] = len(v)
	}
	byCategory = make(map[model.Category]int, len(idx.byCategory))
	for k, v := range idx.byCategory {
		byCategory[k] = len(v)
	}
	return
}

// Rebuild replaces the entire index content from a fresh issue set (used
// after loading a persisted session, or after rollback).
func (idx *Index) Rebuild(issues map[string]*model.Issue) {
	idx.mu.Lock()
	idx.byID = make(map[string]*model.Issue, len(issues))
	idx.byStatus = make(map[model.Status]map[string]bool)
	idx.bySeverity = make(map[model.Severity]map[string]bool)
	idx.byCategory = make(map[model.Category]map[string]bool)
	idx.mu.Unlock()

	for _, iss := range issues {
		idx.Upsert(iss)
	}
}

// RecentTransitionCount counts transitions across all issues whose Round
// falls within the sliding stability window ending at currentRound.
// Complexity is O(n) over issues — acceptable since it is only
// recomputed once per round submission, not per lookup.
func (idx *Index) RecentTransitionCount(currentRound int) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	threshold := currentRound - stabilityWindow + 1
	count := 0
	for _, iss := range idx.byID {
		for _, t := range iss.Transitions {
			if t.Round >= threshold {
				count++
			}
		}
	}
	return count
}
