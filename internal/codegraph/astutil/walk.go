// Package astutil holds go-tree-sitter helpers for the chunker
// (internal/indexing/chunk) and the code-graph builder
// (internal/codegraph). The generic tree walk and line-range
// extraction are used by both, so they live here once rather than being
// duplicated per package. The JS/TS grammar table is used by the
// builder; the chunker selects grammars from its own language registry.
package astutil

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Languages maps a lowercased file extension (with leading dot) to its
// tree-sitter grammar, for the JS/TS family of syntactically parseable
// source files.
var Languages = map[string]*sitter.Language{
	".js":  javascript.GetLanguage(),
	".jsx": javascript.GetLanguage(),
	".mjs": javascript.GetLanguage(),
	".cjs": javascript.GetLanguage(),
	".ts":  typescript.GetLanguage(),
	".tsx": tsx.GetLanguage(),
}

// LanguageFor returns the grammar for extension and whether one exists.
func LanguageFor(extension string) (*sitter.Language, bool) {
	lang, ok := Languages[strings.ToLower(extension)]
	return lang, ok
}

// Walk visits n and every descendant, depth-first, pre-order.
func Walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		Walk(n.Child(i), visit)
	}
}

// SplitLines splits file content on "\n" without stripping trailing
// newlines from individual lines, matching tree-sitter's row numbering.
func SplitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	return strings.Split(string(content), "\n")
}

// JoinLines returns the 1-indexed, inclusive [start, end] line range of
// lines joined back with "\n", clamped to bounds.
func JoinLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// FieldContent returns the text of n's named field, or "" if absent.
func FieldContent(n *sitter.Node, field string, source []byte) string {
	f := n.ChildByFieldName(field)
	if f == nil {
		return ""
	}
	return f.Content(source)
}

// LineRange returns n's 1-indexed inclusive start/end line numbers.
func LineRange(n *sitter.Node) (start, end int) {
	return int(n.StartPoint().Row) + 1, int(n.EndPoint().Row) + 1
}
