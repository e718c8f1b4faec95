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

package mediator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/elenchus/pkg/graph"
)

func buildChain(t *testing.T) *graph.Graph {
	t.Helper()
	// a -> b -> c -> d, plus a test file importing c.
	nodes := []*graph.Node{
		{Path: "a.go", Language: "go"},
		{Path: "b.go", Language: "go"},
		{Path: "c.go", Language: "go", Functions: []graph.FuncInfo{{Name: "Do", StartLine: 10, EndLine: 20}}},
		{Path: "d.go", Language: "go"},
		{Path: "c_test.go", Language: "go"},
	}
	g := graph.New()
	for _, n := range nodes {
		g.AddNode(n)
	}
	g.AddEdge("a.go", "b.go")
	g.AddEdge("b.go", "c.go")
	g.AddEdge("c.go", "d.go")
	g.AddEdge("c_test.go", "c.go")
	return g
}

func TestRipple_ClassifiesByDepth(t *testing.T) {
	g := buildChain(t)
	m := New(3, 10, 5, 3)

	result := m.Ripple(g, "c.go", "")
	require.NotNil(t, result)

	byPath := make(map[string]AffectedFile)
	for _, af := range result.Affected {
		byPath[af.Path] = af
	}

	assert.Equal(t, ClassDirect, byPath["b.go"].Class)
	assert.Equal(t, 1, byPath["b.go"].Depth)
	assert.Equal(t, ClassIndirect, byPath["a.go"].Class)
	assert.Equal(t, 2, byPath["a.go"].Depth)
	assert.Equal(t, ClassTest, byPath["c_test.go"].Class)
	assert.NotContains(t, byPath, "d.go") // d is a dependency, not a dependent
	assert.Equal(t, 2, result.CascadeDepth)
}

func TestRipple_RespectsMaxDepth(t *testing.T) {
	g := buildChain(t)
	m := New(1, 10, 5, 3)

	result := m.Ripple(g, "c.go", "")
	byPath := make(map[string]bool)
	for _, af := range result.Affected {
		byPath[af.Path] = true
	}
	assert.True(t, byPath["b.go"])
	assert.True(t, byPath["c_test.go"])
	assert.False(t, byPath["a.go"], "depth-1 cap should exclude a.go (2 hops away)")
}

func TestImpact_TruncatesAndClassifiesFunctions(t *testing.T) {
	g := buildChain(t)
	m := New(3, 1, 1, 3)

	result := m.Impact(g, "c.go", 15)
	assert.Contains(t, result.AffectedFunctions, "Do")
	assert.LessOrEqual(t, len(result.Callers), 1)
	assert.LessOrEqual(t, len(result.Dependencies), 1)
}

func TestRiskFromCount(t *testing.T) {
	assert.Equal(t, RiskLow, riskFromCount(0))
	assert.Equal(t, RiskMedium, riskFromCount(2))
	assert.Equal(t, RiskHigh, riskFromCount(5))
	assert.Equal(t, RiskCritical, riskFromCount(10))
}

func TestInvalidateNewFiles_Idempotent(t *testing.T) {
	g := graph.New()
	g.AddNode(&graph.Node{Path: "hub.go"})
	for i := 0; i < 4; i++ {
		dep := "dep" + string(rune('0'+i)) + ".go"
		g.AddNode(&graph.Node{Path: dep})
		g.AddEdge(dep, "hub.go")
	}

	verified := map[string]bool{}
	critical := InvalidateNewFiles(g, verified, 3)
	assert.Contains(t, critical, "hub.go")

	verified["hub.go"] = true
	critical = InvalidateNewFiles(g, verified, 3)
	assert.NotContains(t, critical, "hub.go")
}

func TestReviewedInOutputs(t *testing.T) {
	outputs := []string{"I reviewed pkg/foo/bar.go carefully and it's fine."}
	assert.True(t, ReviewedInOutputs("pkg/foo/bar.go", outputs))
	assert.True(t, ReviewedInOutputs("bar.go", outputs))
	assert.False(t, ReviewedInOutputs("baz.go", outputs))
}
