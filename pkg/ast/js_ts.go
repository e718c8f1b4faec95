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

// extractJSLike walks a JavaScript or TypeScript AST. typescript tells
// which grammar produced the tree; the walk is shared, except that
// interface declarations are recorded only when typescript is true.
func (e *Extractor) extractJSLike(p *sitter.Parser, src []byte, node *graph.Node, typescript bool) {
	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		e.logger.Warn("ast.jsts.parse_failed", "path", node.Path, "typescript", typescript, "err", err)
		return
	}
	root := tree.RootNode()

	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			if src2 := n.ChildByFieldName("source"); src2 != nil {
				spec := strings.Trim(textOf(src2, src), `"'`)
				node.Imports = append(node.Imports, spec)
			}
		case "export_statement":
			// export const/function/class X ...; record the declared name(s).
			walk(n, func(inner *sitter.Node) {
				switch inner.Type() {
				case "function_declaration", "class_declaration":
					if name := fieldText(inner, "name", src); name != "" {
						node.Exports = append(node.Exports, name)
					}
				case "variable_declarator":
					if name := fieldText(inner, "name", src); name != "" {
						node.Exports = append(node.Exports, name)
					}
				}
			})
		case "function_declaration":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			node.Functions = append(node.Functions, graph.FuncInfo{
				Name: name, StartLine: start, EndLine: end,
				Async: hasAsyncKeyword(n, src),
			})
		case "method_definition":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			node.Functions = append(node.Functions, graph.FuncInfo{
				Name: name, StartLine: start, EndLine: end,
				Async: hasAsyncKeyword(n, src),
			})
		case "class_declaration":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			ci := graph.ClassInfo{Name: name, StartLine: start, EndLine: end}
			if heritage := n.ChildByFieldName("heritage"); heritage != nil {
				ci.Extends = textOf(heritage, src)
			}
			node.Classes = append(node.Classes, ci)
		case "interface_declaration":
			if !typescript {
				return
			}
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			node.Classes = append(node.Classes, graph.ClassInfo{Name: name, StartLine: start, EndLine: end})
		}
	})
}

func hasAsyncKeyword(n *sitter.Node, src []byte) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		if n.Child(i).Type() == "async" {
			return true
		}
	}
	return strings.HasPrefix(strings.TrimSpace(textOf(n, src)), "async")
}
