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

// Package ast implements syntax-tree extraction: reading source
// files and driving a multi-language tree-sitter parser to recover
// imports, exports, functions, and classes.
//
// Each language gets a pooled tree-sitter parser (pool per language,
// since parsers aren't safe for concurrent reuse), a content hash, and
// truncation bookkeeping for oversized files.
package ast

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/kraklabs/elenchus/pkg/graph"
)

// Language identifies the source language of a file.
type Language string

const (
	LangGo         Language = "go"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangPython     Language = "python"
	LangUnknown    Language = "unknown"
)

// DetectLanguage identifies a file's language from its extension, the
// used to pick the right tree-sitter grammar.
func DetectLanguage(path string) Language {
	switch filepath.Ext(path) {
	case ".go":
		return LangGo
	case ".js", ".jsx", ".mjs", ".cjs":
		return LangJavaScript
	case ".ts", ".tsx":
		return LangTypeScript
	case ".py":
		return LangPython
	default:
		return LangUnknown
	}
}

// Extractor parses file bytes into graph.Node facts using pooled,
// per-language tree-sitter parsers (parsers are not goroutine-safe, so a
// sync.Pool is used to reuse them across goroutines).
type Extractor struct {
	logger *slog.Logger

	goPool sync.Pool
	pyPool sync.Pool
	jsPool sync.Pool
	tsPool sync.Pool
	once   sync.Once

	truncatedCount int
	mu             sync.Mutex
	maxFileSize    int64
}

// NewExtractor creates an Extractor. logger may be nil (slog.Default used).
func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger, maxFileSize: 2 << 20}
}

func (e *Extractor) initPools() {
	e.once.Do(func() {
		e.goPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(golang.GetLanguage())
			return p
		}
		e.pyPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(python.GetLanguage())
			return p
		}
		e.jsPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(javascript.GetLanguage())
			return p
		}
		e.tsPool.New = func() any {
			p := sitter.NewParser()
			p.SetLanguage(typescript.GetLanguage())
			return p
		}
	})
}

// ExtractFile reads path and returns its AST-derived graph.Node. The
// language is auto-detected; unsupported languages yield a node with no
// imports/exports/functions/classes (the graph still tracks the file, it
// just can't be resolved as a dependency source).
func (e *Extractor) ExtractFile(fullPath, relPath string) (*graph.Node, string, error) {
	e.initPools()

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	if e.maxFileSize > 0 && int64(len(content)) > e.maxFileSize {
		e.mu.Lock()
		e.truncatedCount++
		e.mu.Unlock()
		content = content[:e.maxFileSize]
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	lang := DetectLanguage(relPath)
	node := &graph.Node{Path: relPath, Language: string(lang)}

	switch lang {
	case LangGo:
		p := e.goPool.Get().(*sitter.Parser)
		defer e.goPool.Put(p)
		e.extractGo(p, content, node)
	case LangJavaScript:
		p := e.jsPool.Get().(*sitter.Parser)
		defer e.jsPool.Put(p)
		e.extractJSLike(p, content, node, false)
	case LangTypeScript:
		p := e.tsPool.Get().(*sitter.Parser)
		defer e.tsPool.Put(p)
		e.extractJSLike(p, content, node, true)
	case LangPython:
		p := e.pyPool.Get().(*sitter.Parser)
		defer e.pyPool.Put(p)
		e.extractPython(p, content, node)
	default:
		e.logger.Debug("ast.extract.skip_unsupported", "path", relPath)
	}

	return node, hash, nil
}

// TruncatedCount reports how many files were truncated to maxFileSize.
func (e *Extractor) TruncatedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.truncatedCount
}

func textOf(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return string(src[n.StartByte():n.EndByte()])
}

func lineRange(n *sitter.Node) (int, int) {
	return int(n.StartPoint().Row) + 1, int(n.EndPoint().Row) + 1
}

// walk calls visit on every node in the tree, depth-first.
func walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walk(n.Child(i), visit)
	}
}
