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
	"path"
	"strings"
)

// Build constructs a Graph from a set of AST-extracted nodes, resolving
// each node's import specs to sibling nodes using a language-family-
// specific rule set:
//
//   - web languages (js/ts): extension search order — try the import spec
//     with no suffix, then .ts/.tsx/.js/.jsx, then as a directory index
//     file, relative to the importing file's directory.
//   - Python: attribute-chain resolution — a dotted module path is matched
//     against node paths by converting dots to path separators.
//   - Go and other systems languages: resolved by suffix match against the
//     package directory portion of other nodes' paths (import paths are
//     not local file paths, so this matches "importer's dir imports
//     anything under a directory whose import-path suffix matches").
//
// Imports that resolve to no node are recorded via RecordUnresolvedImport
// and otherwise ignored.
func Build(nodes []*Node) *Graph {
	g := New()
	for _, n := range nodes {
		g.AddNode(n)
	}

	byPath := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		byPath[n.Path] = n
	}

	for _, n := range nodes {
		for _, spec := range n.Imports {
			target, ok := resolveImport(n, spec, byPath)
			if !ok {
				g.RecordUnresolvedImport(n.Path, spec)
				continue
			}
			g.AddEdge(n.Path, target)
		}
	}
	return g
}

func resolveImport(from *Node, spec string, byPath map[string]*Node) (string, bool) {
	switch from.Language {
	case string(LangJS), string(LangTS):
		return resolveWebImport(from.Path, spec, byPath)
	case string(LangPy):
		return resolvePythonImport(spec, byPath)
	default:
		return resolveModuleImport(spec, byPath)
	}
}

// Aliases kept local to avoid importing the ast package (graph must not
// depend on ast — ast depends on graph).
const (
	LangJS = "javascript"
	LangTS = "typescript"
	LangPy = "python"
)

var webExtensions = []string{"", ".ts", ".tsx", ".js", ".jsx", "/index.ts", "/index.tsx", "/index.js", "/index.jsx"}

func resolveWebImport(fromPath, spec string, byPath map[string]*Node) (string, bool) {
	if !strings.HasPrefix(spec, ".") {
		return "", false // bare package import: not a local file, ignored
	}
	dir := path.Dir(fromPath)
	joined := path.Clean(path.Join(dir, spec))
	for _, ext := range webExtensions {
		candidate := joined + ext
		if _, ok := byPath[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

func resolvePythonImport(spec string, byPath map[string]*Node) (string, bool) {
	asPath := strings.ReplaceAll(spec, ".", "/")
	candidates := []string{asPath + ".py", asPath + "/__init__.py"}
	for _, c := range candidates {
		if _, ok := byPath[c]; ok {
			return c, true
		}
	}
	// Fall back to a suffix match against any indexed file (handles
	// package-relative imports we can't fully qualify without a project
	// root manifest).
	for p := range byPath {
		if strings.HasSuffix(p, asPath+".py") {
			return p, true
		}
	}
	return "", false
}

func resolveModuleImport(spec string, byPath map[string]*Node) (string, bool) {
	// Go and other systems-language import paths are not local file
	// paths; match nodes whose directory's last element equals the import
	// path's last element (e.g. import ".../internal/cache" matches a file
	// under any directory named cache) and take the shortest such path.
	suffix := spec
	if idx := strings.LastIndex(spec, "/"); idx >= 0 {
		suffix = spec[idx+1:]
	}
	var best string
	for p := range byPath {
		dir := path.Dir(p)
		if dir == suffix || strings.HasSuffix(dir, "/"+suffix) {
			if best == "" || len(p) < len(best) {
				best = p
			}
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}
