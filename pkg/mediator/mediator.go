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

// Package mediator answers two questions about a dependency graph: "if I
// change this, what else might break" (ripple analysis) and "who is
// affected by this already-raised issue" (impact analysis). Both walk the
// same graph.Graph the file store builds, the same BFS-over-reverse-
// adjacency shape used for call-path tracing, adapted from per-function
// call edges to per-file import edges.
package mediator

import (
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/kraklabs/elenchus/pkg/graph"
)

// AffectedClass classifies how a ripple-affected file relates to the
// file that changed.
type AffectedClass string

const (
	ClassDirect   AffectedClass = "DIRECT"
	ClassIndirect AffectedClass = "INDIRECT"
	ClassTest     AffectedClass = "TEST"
)

// AffectedFile is one entry in a ripple analysis result.
type AffectedFile struct {
	Path  string        `json:"path"`
	Depth int           `json:"depth"`
	Class AffectedClass `json:"class"`
}

// RiskLevel mirrors the four-way bucket used across the module for
// severity-like gradients.
type RiskLevel string

const (
	RiskCritical RiskLevel = "CRITICAL"
	RiskHigh     RiskLevel = "HIGH"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskLow      RiskLevel = "LOW"
)

// RippleResult is the outcome of a ripple analysis for a hypothetical
// change to one file (and, optionally, one function within it).
type RippleResult struct {
	File          string         `json:"file"`
	Function      string         `json:"function,omitempty"`
	Affected      []AffectedFile `json:"affected"`
	CascadeDepth  int            `json:"cascadeDepth"`
	TotalCount    int            `json:"totalCount"`
	RiskLevel     RiskLevel      `json:"riskLevel"`
	Summary       string         `json:"summary"`
}

// ImpactResult is the outcome of an impact analysis attached to an issue
// raised at file:line.
type ImpactResult struct {
	Callers            []string  `json:"callers"`
	Dependencies       []string  `json:"dependencies"`
	AffectedFunctions  []string  `json:"affectedFunctions"`
	TotalAffectedFiles int       `json:"totalAffectedFiles"`
	RiskLevel          RiskLevel `json:"riskLevel"`
}

var testFilePattern = regexp.MustCompile(`(?i)(_test\.go$|\.test\.(js|ts|jsx|tsx)$|/test_|_test\.py$|test_.*\.py$)`)

// isTestFile reports whether p looks like a test file by naming
// convention, checked across the Go/JS/TS/Python conventions this module
// extracts from.
func isTestFile(p string) bool {
	return testFilePattern.MatchString(p)
}

// Mediator computes ripple and impact analyses over a dependency graph.
// It holds no session state of its own; callers supply a fresh graph.Graph
// per call (the session owns the graph's lifecycle).
type Mediator struct {
	RippleMaxDepth         int
	MaxCallersTracked      int
	MaxDependenciesTracked int
	CriticalImportance     int
}

// New returns a Mediator configured with the given tuning knobs. Zero
// values fall back to the defaults used across the rest of the module.
func New(rippleMaxDepth, maxCallers, maxDeps, criticalImportance int) *Mediator {
	if rippleMaxDepth <= 0 {
		rippleMaxDepth = 3
	}
	if maxCallers <= 0 {
		maxCallers = 10
	}
	if maxDeps <= 0 {
		maxDeps = 5
	}
	if criticalImportance <= 0 {
		criticalImportance = 3
	}
	return &Mediator{
		RippleMaxDepth:         rippleMaxDepth,
		MaxCallersTracked:      maxCallers,
		MaxDependenciesTracked: maxDeps,
		CriticalImportance:     criticalImportance,
	}
}

// Ripple computes the set of files that would be re-invalidated by a
// hypothetical change to file (and optionally to one function within it,
// which is recorded in the result but doesn't narrow the BFS — a file-
// level import graph can't isolate a single function's callers).
func (m *Mediator) Ripple(g *graph.Graph, file, function string) *RippleResult {
	depths := g.AffectedSet([]string{file}, m.RippleMaxDepth)
	delete(depths, file) // exclude the seed itself from the affected set

	affected := make([]AffectedFile, 0, len(depths))
	maxDepth := 0
	for p, d := range depths {
		class := ClassIndirect
		switch {
		case isTestFile(p):
			class = ClassTest
		case d == 1:
			class = ClassDirect
		}
		affected = append(affected, AffectedFile{Path: p, Depth: d, Class: class})
		if d > maxDepth {
			maxDepth = d
		}
	}

	risk := riskFromCount(len(affected))
	summary := rippleSummary(file, function, len(affected), maxDepth, risk)

	return &RippleResult{
		File:         file,
		Function:     function,
		Affected:     affected,
		CascadeDepth: maxDepth,
		TotalCount:   len(affected),
		RiskLevel:    risk,
		Summary:      summary,
	}
}

func rippleSummary(file, function string, count, depth int, risk RiskLevel) string {
	target := file
	if function != "" {
		target = file + ":" + function
	}
	if count == 0 {
		return "Changing " + target + " affects no other tracked files."
	}
	plural := "files"
	if count == 1 {
		plural = "file"
	}
	return "Changing " + target + " may affect " + strconv.Itoa(count) + " " + plural +
		" across " + strconv.Itoa(depth) + " dependency hop(s); risk " + string(risk) + "."
}

func riskFromCount(n int) RiskLevel {
	switch {
	case n >= 10:
		return RiskCritical
	case n >= 5:
		return RiskHigh
	case n >= 2:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Impact computes the callers/dependencies/affected-functions attachment
// for an issue raised at file:line.
func (m *Mediator) Impact(g *graph.Graph, file string, line int) *ImpactResult {
	callers := g.Dependents(file)
	deps := g.Dependencies(file)

	if len(callers) > m.MaxCallersTracked {
		callers = callers[:m.MaxCallersTracked]
	}
	if len(deps) > m.MaxDependenciesTracked {
		deps = deps[:m.MaxDependenciesTracked]
	}

	var affectedFns []string
	if node, ok := g.Node(file); ok {
		for _, fn := range node.Functions {
			if line >= fn.StartLine && line <= fn.EndLine {
				affectedFns = append(affectedFns, fn.Name)
			}
		}
	}

	total := len(g.Dependents(file)) + len(g.Dependencies(file))

	return &ImpactResult{
		Callers:            callers,
		Dependencies:       deps,
		AffectedFunctions:  affectedFns,
		TotalAffectedFiles: total,
		RiskLevel:          riskFromCount(total),
	}
}

// InvalidateNewFiles returns every graph path whose importance is at or
// above criticalImportance and that is not present in verified; it reads
// the graph's importance scores and rebuilds nothing. Already-verified
// critical files are never re-added (idempotence).
func InvalidateNewFiles(g *graph.Graph, verified map[string]bool, criticalImportance int) []string {
	var unverifiedCritical []string
	for _, p := range g.Paths() {
		if verified[p] {
			continue
		}
		if g.Importance(p) >= criticalImportance {
			unverifiedCritical = append(unverifiedCritical, p)
		}
	}
	return unverifiedCritical
}

// basename mirrors path.Base for the file-review matching used by the
// convergence evaluator's impact-coverage check.
func basename(p string) string {
	return path.Base(p)
}

// ReviewedInOutputs reports whether p (by basename or full path) is
// mentioned, case-insensitively, in any of the given round outputs.
func ReviewedInOutputs(p string, outputs []string) bool {
	base := strings.ToLower(basename(p))
	full := strings.ToLower(p)
	for _, out := range outputs {
		lower := strings.ToLower(out)
		if strings.Contains(lower, full) || strings.Contains(lower, base) {
			return true
		}
	}
	return false
}
