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

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func assertDuality(t *testing.T, g *Graph) {
	t.Helper()
	for from, tos := range g.outgoing {
		for to := range tos {
			assert.Truef(t, g.reverse[to][from], "reverse[%s] missing %s", to, from)
		}
	}
	for to, froms := range g.reverse {
		for from := range froms {
			assert.Truef(t, g.outgoing[from][to], "outgoing[%s] missing %s", from, to)
		}
	}
}

func newGraphWithChain(t *testing.T) *Graph {
	g := New()
	for _, p := range []string{"a.ts", "b.ts", "c.ts", "d.ts", "e.ts"} {
		g.AddNode(&Node{Path: p})
	}
	g.AddEdge("a.ts", "b.ts")
	g.AddEdge("b.ts", "c.ts")
	g.AddEdge("c.ts", "d.ts")
	g.AddEdge("d.ts", "e.ts")
	return g
}

func TestGraph_DualityHoldsAfterMutation(t *testing.T) {
	g := newGraphWithChain(t)
	assertDuality(t, g)
	g.RemoveNode("c.ts")
	assertDuality(t, g)
	// removing c.ts must have removed the b->c and c->d edges on both sides
	assert.NotContains(t, g.Dependents("d.ts"), "c.ts")
	assert.NotContains(t, g.Dependencies("b.ts"), "c.ts")
}

func TestGraph_SelfEdgeIgnored(t *testing.T) {
	g := New()
	g.AddNode(&Node{Path: "a.ts"})
	g.AddEdge("a.ts", "a.ts")
	assert.Empty(t, g.Dependencies("a.ts"))
	assert.Empty(t, g.Dependents("a.ts"))
}

func TestGraph_Importance(t *testing.T) {
	g := New()
	for _, p := range []string{"core.ts", "a.ts", "b.ts", "c.ts"} {
		g.AddNode(&Node{Path: p})
	}
	g.AddEdge("a.ts", "core.ts")
	g.AddEdge("b.ts", "core.ts")
	g.AddEdge("core.ts", "c.ts")
	// importance(core.ts) = dependents*2 + dependencies = 2*2 + 1 = 5
	assert.Equal(t, 5, g.Importance("core.ts"))

	g.AddEdge("d.ts", "core.ts")
	assert.NotEqual(t, 5, g.Importance("core.ts"), "cache must invalidate on new edge")
}

func TestGraph_HasCycleDetectsBackEdge(t *testing.T) {
	g := New()
	for _, p := range []string{"a.ts", "b.ts", "c.ts"} {
		g.AddNode(&Node{Path: p})
	}
	g.AddEdge("a.ts", "b.ts")
	g.AddEdge("b.ts", "c.ts")
	g.AddEdge("c.ts", "a.ts")
	has, cycle := g.HasCycle()
	assert.True(t, has)
	assert.NotEmpty(t, cycle)
}

func TestGraph_HasCycleFalseOnDAG(t *testing.T) {
	g := newGraphWithChain(t)
	has, _ := g.HasCycle()
	assert.False(t, has)
}

func TestGraph_AffectedSetRespectsDepthBound(t *testing.T) {
	// a -> b -> c -> d -> e; AffectedSet follows reverse adjacency from seeds.
	g := newGraphWithChain(t)
	affected := g.AffectedSet([]string{"e.ts"}, 3)
	assert.Equal(t, 1, affected["d.ts"])
	assert.Equal(t, 2, affected["c.ts"])
	assert.Equal(t, 3, affected["b.ts"])
	_, hasA := affected["a.ts"]
	assert.False(t, hasA, "a.ts is depth 4 from e.ts, beyond the bound")
}

func TestGraph_RecordUnresolvedImport(t *testing.T) {
	g := New()
	g.AddNode(&Node{Path: "a.ts"})
	g.RecordUnresolvedImport("a.ts", "some-external-package")
	assert.Equal(t, []string{"some-external-package"}, g.UnresolvedImports("a.ts"))
}
