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

package issueindex

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/elenchus/pkg/model"
)

func assertCoherent(t *testing.T, idx *Index) {
	t.Helper()
	byStatus, bySeverity, byCategory := idx.Counts()
	for _, iss := range idx.All() {
		found := false
		for _, id := range idx.ByStatus(iss.Status) {
			if id == iss.ID {
				found = true
			}
		}
		assert.Truef(t, found, "issue %s missing from byStatus[%s]", iss.ID, iss.Status)

		found = false
		for _, id := range idx.BySeverity(iss.Severity) {
			if id == iss.ID {
				found = true
			}
		}
		assert.Truef(t, found, "issue %s missing from bySeverity[%s]", iss.ID, iss.Severity)

		found = false
		for _, id := range idx.ByCategory(iss.Category) {
			if id == iss.ID {
				found = true
			}
		}
		assert.Truef(t, found, "issue %s missing from byCategory[%s]", iss.ID, iss.Category)
	}
	assert.Equal(t, len(idx.ByStatus(model.StatusRaised)), byStatus[model.StatusRaised])
	totalBySeverity := 0
	for _, n := range bySeverity {
		totalBySeverity += n
	}
	assert.Equal(t, len(idx.All()), totalBySeverity)
	totalByCategory := 0
	for _, n := range byCategory {
		totalByCategory += n
	}
	assert.Equal(t, len(idx.All()), totalByCategory)
}

func TestIndex_CoherenceAfterUpsertAndStatusChange(t *testing.T) {
	idx := New()
	iss := &model.Issue{
		ID: "sec-01", Category: model.CategorySecurity, Severity: model.SeverityHigh,
		Status: model.StatusRaised,
	}
	idx.Upsert(iss)
	assertCoherent(t, idx)

	got, ok := idx.Get("sec-01")
	assert.True(t, ok)
	assert.Equal(t, "SEC-01", got.ID, "ID is canonicalized to upper case")

	// Re-upsert with a changed status moves it between secondary indexes.
	got.Status = model.StatusResolved
	idx.Upsert(got)
	assertCoherent(t, idx)
	assert.Empty(t, idx.ByStatus(model.StatusRaised))
	assert.Equal(t, []string{"SEC-01"}, idx.ByStatus(model.StatusResolved))
}

func TestIndex_DeleteRemovesFromAllIndexes(t *testing.T) {
	idx := New()
	idx.Upsert(&model.Issue{ID: "COR-01", Category: model.CategoryCorrectness, Severity: model.SeverityLow, Status: model.StatusRaised})
	idx.Delete("cor-01")
	assert.Empty(t, idx.All())
	assert.Empty(t, idx.ByStatus(model.StatusRaised))
	assert.Empty(t, idx.BySeverity(model.SeverityLow))
	assert.Empty(t, idx.ByCategory(model.CategoryCorrectness))
}

func TestIndex_RebuildReplacesContent(t *testing.T) {
	idx := New()
	idx.Upsert(&model.Issue{ID: "A-01", Category: model.CategorySecurity, Severity: model.SeverityHigh, Status: model.StatusRaised})
	idx.Rebuild(map[string]*model.Issue{
		"B-01": {ID: "B-01", Category: model.CategoryPerformance, Severity: model.SeverityLow, Status: model.StatusRaised},
	})
	assertCoherent(t, idx)
	_, ok := idx.Get("A-01")
	assert.False(t, ok)
	_, ok = idx.Get("B-01")
	assert.True(t, ok)
}

func TestIndex_RecentTransitionCountRespectsWindow(t *testing.T) {
	idx := New()
	idx.Upsert(&model.Issue{
		ID: "SEC-01", Category: model.CategorySecurity, Severity: model.SeverityHigh, Status: model.StatusRaised,
		Transitions: []model.IssueTransition{
			{Type: model.TransitionDiscovered, Round: 1, Timestamp: time.Now()},
		},
	})
	// stabilityWindow=2, currentRound=5 -> threshold=4; round 1 is stale.
	assert.Equal(t, 0, idx.RecentTransitionCount(5))

	iss, _ := idx.Get("SEC-01")
	iss.Transitions = append(iss.Transitions, model.IssueTransition{Type: model.TransitionEscalated, Round: 5, Timestamp: time.Now()})
	idx.Upsert(iss)
	assert.Equal(t, 1, idx.RecentTransitionCount(5))
}
