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
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/kraklabs/elenchus/pkg/graph"
)

// extractGo walks a Go AST, populating node's imports/exports/functions/
// classes. Exported identifiers follow Go's capitalization convention.
func (e *Extractor) extractGo(p *sitter.Parser, src []byte, node *graph.Node) {
	tree, err := p.ParseCtx(context.Background(), nil, src)
	if err != nil || tree == nil {
		e.logger.Warn("ast.go.parse_failed", "path", node.Path, "err", err)
		return
	}
	root := tree.RootNode()

	walk(root, func(n *sitter.Node) {
		switch n.Type() {
		case "import_spec":
			if pathNode := n.ChildByFieldName("path"); pathNode != nil {
				spec := strings.Trim(textOf(pathNode, src), `"`)
				node.Imports = append(node.Imports, spec)
			}
		case "function_declaration":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			start, end := lineRange(n)
			exported := isExportedGo(name)
			node.Functions = append(node.Functions, graph.FuncInfo{
				Name: name, StartLine: start, EndLine: end, Exported: exported,
			})
			if exported {
				node.Exports = append(node.Exports, name)
			}
		case "method_declaration":
			name := fieldText(n, "name", src)
			recv := receiverTypeName(n, src)
			if name == "" {
				return
			}
			full := name
			if recv != "" {
				full = recv + "." + name
			}
			start, end := lineRange(n)
			exported := isExportedGo(name)
			node.Functions = append(node.Functions, graph.FuncInfo{
				Name: full, StartLine: start, EndLine: end, Exported: exported,
			})
		case "type_spec":
			name := fieldText(n, "name", src)
			if name == "" {
				return
			}
			typeNode := n.ChildByFieldName("type")
			start, end := lineRange(n)
			ci := graph.ClassInfo{Name: name, StartLine: start, EndLine: end}
			if typeNode != nil && typeNode.Type() == "interface_type" {
				ci.Implements = nil
			}
			node.Classes = append(node.Classes, ci)
			if isExportedGo(name) {
				node.Exports = append(node.Exports, name)
			}
		}
	})
}

func fieldText(n *sitter.Node, field string, src []byte) string {
	fn := n.ChildByFieldName(field)
	if fn == nil {
		return ""
	}
	return textOf(fn, src)
}

func receiverTypeName(method *sitter.Node, src []byte) string {
	recv := method.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	var typeName string
	walk(recv, func(n *sitter.Node) {
		if n.Type() == "type_identifier" && typeName == "" {
			typeName = textOf(n, src)
		}
	})
	return typeName
}

func isExportedGo(name string) bool {
	if name == "" {
		return false
	}
	r := []rune(name)[0]
	return unicode.IsUpper(r)
}
