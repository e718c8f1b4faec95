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

package ast

import (
	"context"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/elenchus/pkg/graph"
)

// extractPython walks a Python AST using attribute-chain import rules
// attribute-chain rules: `import a.b.c` and
// `from a.b import c` both yield the dotted module path as the import
// spec string, letting the resolver match it against candidate module files.
func (e *Extractor) extractPython(p *sitter.Parser, src []byte, node *graph.Node) {
	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		e.logger.Warn("ast.python.parse_failed", "path", node.Path, "err", err)
		return
	}
	root := tree.RootNode()

	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			walk(n, func(inner *sitter.Node) {
				if inner.Type() == "dotted_name" {
					node.Imports = append(node.Imports, textOf(inner, src))
				}
			})
		case "import_from_statement":
			if moduleNode := n.ChildByFieldName("module_name"); moduleNode != nil {
				node.Imports = append(node.Imports, textOf(moduleNode, src))
			}
		case "function_definition":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			node.Functions = append(node.Functions, graph.FuncInfo{
				Name: name, StartLine: start, EndLine: end,
				Async:    isAsyncDef(n, src),
				Exported: !strings.HasPrefix(name, "_"),
			})
			if !strings.HasPrefix(name, "_") {
				node.Exports = append(node.Exports, name)
			}
		case "class_definition":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			ci := graph.ClassInfo{Name: name, StartLine: start, EndLine: end}
			if super := n.ChildByFieldName("superclasses"); super != nil {
				ci.Extends = strings.Trim(textOf(super, src), "()")
			}
			node.Classes = append(node.Classes, ci)
			if !strings.HasPrefix(name, "_") {
				node.Exports = append(node.Exports, name)
			}
		}
	})
}

func isAsyncDef(n *sitter.Node, src []byte) bool {
	return strings.HasPrefix(strings.TrimSpace(textOf(n, src)), "async")
}
