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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/elenchus/internal/errors"
	"github.com/kraklabs/elenchus/internal/ui"
	"github.com/kraklabs/elenchus/pkg/ast"
	"github.com/kraklabs/elenchus/pkg/graph"
)

// indexSkipDirs mirrors the directories the protocol layer skips when
// framing a session context, so a pre-flight index sees the same file set
// start_session will.
var indexSkipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	".elenchus": true, "dist": true, "build": true, "__pycache__": true,
}

// runIndex walks the target directory, parses every supported source file,
// and reports what start_session's context framing will produce: file and
// edge counts, unresolved imports, circular dependencies, and the highest-
// importance files. It mutates nothing; it exists so an operator can sanity-
// check the dependency graph before pointing a host client at the project.
func runIndex(args []string, g GlobalFlags) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	target := fs.String("target", ".", "file or directory to index")
	top := fs.Int("top", 10, "number of highest-importance files to show")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, `Usage: elenchus index [--target PATH] [--top N]

Parse the target's source files and print the dependency graph a session
started on that target would see: counts, unresolved imports, cycles, and
the most-depended-on files.
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil
		}
		return errors.NewValidationError("invalid flags to index", err.Error(), "")
	}

	root := absPath(*target)
	info, err := os.Stat(root)
	if err != nil {
		return errors.NewIOError("failed to stat target", err.Error(), err)
	}

	paths, err := collectSourcePaths(root, info.IsDir())
	if err != nil {
		return errors.NewIOError("failed to walk target", err.Error(), err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelFor(g)}))
	extractor := ast.NewExtractor(logger)

	bar := NewProgressBar(NewProgressConfig(g), int64(len(paths)), "parsing")
	nodes := make([]*graph.Node, 0, len(paths))
	parseErrors := 0
	for _, full := range paths {
		rel, rerr := filepath.Rel(root, full)
		if rerr != nil {
			rel = full
		}
		rel = filepath.ToSlash(rel)
		node, _, xerr := extractor.ExtractFile(full, rel)
		if xerr != nil {
			parseErrors++
		} else {
			nodes = append(nodes, node)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	gr := graph.Build(nodes)
	summary := buildIndexSummary(gr, nodes, parseErrors, *top)

	if g.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	printIndexSummary(summary)
	return nil
}

func collectSourcePaths(root string, isDir bool) ([]string, error) {
	if !isDir {
		return []string{root}, nil
	}
	var paths []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if indexSkipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if ast.DetectLanguage(path) != ast.LangUnknown {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

type indexSummary struct {
	Files             int             `json:"files"`
	Edges             int             `json:"edges"`
	ParseErrors       int             `json:"parseErrors,omitempty"`
	UnresolvedImports int             `json:"unresolvedImports"`
	HasCycle          bool            `json:"hasCycle"`
	Cycle             []string        `json:"cycle,omitempty"`
	TopFiles          []indexTopEntry `json:"topFiles"`
}

type indexTopEntry struct {
	Path       string `json:"path"`
	Importance int    `json:"importance"`
	Dependents int    `json:"dependents"`
}

func buildIndexSummary(gr *graph.Graph, nodes []*graph.Node, parseErrors, top int) indexSummary {
	edges := 0
	unresolved := 0
	for _, n := range nodes {
		edges += len(gr.Dependencies(n.Path))
		unresolved += len(gr.UnresolvedImports(n.Path))
	}
	hasCycle, cycle := gr.HasCycle()

	importance := gr.ImportanceAll()
	entries := make([]indexTopEntry, 0, len(importance))
	for path, score := range importance {
		entries = append(entries, indexTopEntry{
			Path:       path,
			Importance: score,
			Dependents: len(gr.Dependents(path)),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Importance != entries[j].Importance {
			return entries[i].Importance > entries[j].Importance
		}
		return entries[i].Path < entries[j].Path
	})
	if len(entries) > top {
		entries = entries[:top]
	}

	return indexSummary{
		Files:             len(nodes),
		Edges:             edges,
		ParseErrors:       parseErrors,
		UnresolvedImports: unresolved,
		HasCycle:          hasCycle,
		Cycle:             cycle,
		TopFiles:          entries,
	}
}

func printIndexSummary(s indexSummary) {
	ui.Bold.Printf("%d files, %d import edges", s.Files, s.Edges)
	fmt.Println()
	if s.ParseErrors > 0 {
		ui.Warn.Printf("%d files could not be read\n", s.ParseErrors)
	}
	if s.UnresolvedImports > 0 {
		fmt.Printf("%d imports did not resolve to a local file\n", s.UnresolvedImports)
	}
	if s.HasCycle {
		ui.Warn.Printf("circular dependency: %s\n", strings.Join(s.Cycle, " -> "))
	}
	if len(s.TopFiles) > 0 {
		fmt.Println("highest-importance files:")
		for _, e := range s.TopFiles {
			fmt.Printf("  %-50s importance=%-4d dependents=%d\n", e.Path, e.Importance, e.Dependents)
		}
	}
}
