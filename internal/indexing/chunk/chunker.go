// Package chunk splits a source file into addressable chunks, preferring
// a syntactic split (one chunk per top-level function/class) for a
// registered extension and falling back to fixed-line windows
// everywhere else.
//
// Each supported language is one LanguageConfig (languages.go)
// registering its extensions, tree-sitter grammar, and the node types
// that count as a function or class boundary; adding a language means
// adding a LanguageConfig, not changing ChunkFile. Go, JavaScript/JSX,
// TypeScript/TSX, and Python are registered by default, all via
// github.com/smacker/go-tree-sitter grammars. Generic tree walk and
// line-extraction helpers are shared with internal/codegraph via
// internal/codegraph/astutil. Token counting uses
// github.com/pkoukk/tiktoken-go.
package chunk

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/pkoukk/tiktoken-go"

	"codeforge/internal/codegraph/astutil"
	"codeforge/internal/domain/chunk"
	"codeforge/internal/shared/logging"
)

// Config tunes the chunker.
type Config struct {
	LineWindow int
	Logger     logging.Logger
}

// Chunker implements the Chunker contract.
type Chunker struct {
	lineWindow int
	enc        *tiktoken.Tiktoken
	logger     logging.Logger
}

// New constructs a Chunker. Token-counting encoder failures are
// non-fatal: CountTokens falls back to a whitespace heuristic.
func New(cfg Config) *Chunker {
	window := cfg.LineWindow
	if window <= 0 {
		window = 100
	}
	enc, _ := tiktoken.GetEncoding("cl100k_base")
	return &Chunker{lineWindow: window, enc: enc, logger: logging.OrNop(cfg.Logger)}
}

// CountTokens returns an approximate token count for text, used by
// callers that want to budget LLM context (e.g. skeleton assembly).
func (c *Chunker) CountTokens(text string) (int, error) {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil)), nil
	}
	return len(strings.Fields(text)), nil
}

// ChunkFile splits file content into chunks.
// extension should include the leading dot (".ts", ".py", ...).
func (c *Chunker) ChunkFile(repoID, filePath, extension string, content []byte) []chunk.Chunk {
	fileName := filePath
	if idx := strings.LastIndexByte(filePath, '/'); idx >= 0 {
		fileName = filePath[idx+1:]
	}

	if cfg, astCapable := defaultLanguages.forExtension(extension); astCapable {
		chunks, err := c.chunkAST(repoID, filePath, fileName, extension, cfg, content)
		if err != nil {
			c.logger.Warn("AST parse failed for %s, falling back to line windows: %v", filePath, err)
		} else if len(chunks) > 0 {
			return chunks
		}
		// Zero chunks from a syntactically valid-looking file (e.g. one
		// with no top-level function or class) also falls back to line
		// windows rather than returning an empty chunk set.
	}

	return c.chunkLines(repoID, filePath, fileName, extension, content)
}

func (c *Chunker) chunkAST(repoID, filePath, fileName, extension string, cfg *LanguageConfig, content []byte) ([]chunk.Chunk, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(cfg.Grammar)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	if tree == nil {
		return nil, fmt.Errorf("parse %s: nil tree", filePath)
	}
	defer tree.Close()

	var chunks []chunk.Chunk
	lines := astutil.SplitLines(content)
	astutil.Walk(tree.RootNode(), func(n *sitter.Node) {
		// Only top-level declarations become chunks: anything nested in a
		// function, variable-bound function, or class is part of that chunk.
		for p := n.Parent(); p != nil; p = p.Parent() {
			if cfg.FunctionTypes[p.Type()] || cfg.ClassTypes[p.Type()] || isVariableBoundFunction(p) {
				return
			}
		}
		typ := n.Type()
		switch {
		case cfg.FunctionTypes[typ]:
			name := functionName(n, cfg.NameField, content)
			startLine, endLine := astutil.LineRange(n)
			chunks = append(chunks, chunk.Chunk{
				ID:           chunk.FunctionID(filePath, name),
				RepoID:       repoID,
				FilePath:     filePath,
				FileName:     fileName,
				FileType:     extension,
				FunctionName: name,
				LineStart:    startLine,
				LineEnd:      endLine,
				Content:      astutil.JoinLines(lines, startLine, endLine),
				Kind:         chunk.KindFunction,
			})
		case isVariableBoundFunction(n):
			name := astutil.FieldContent(n, cfg.NameField, content)
			if name == "" {
				return
			}
			startLine, endLine := astutil.LineRange(n)
			chunks = append(chunks, chunk.Chunk{
				ID:           chunk.FunctionID(filePath, name),
				RepoID:       repoID,
				FilePath:     filePath,
				FileName:     fileName,
				FileType:     extension,
				FunctionName: name,
				LineStart:    startLine,
				LineEnd:      endLine,
				Content:      astutil.JoinLines(lines, startLine, endLine),
				Kind:         chunk.KindFunction,
			})
		case cfg.ClassTypes[typ]:
			name := className(n, cfg.NameField, content)
			startLine, endLine := astutil.LineRange(n)
			chunks = append(chunks, chunk.Chunk{
				ID:        chunk.ClassID(filePath, name),
				RepoID:    repoID,
				FilePath:  filePath,
				FileName:  fileName,
				FileType:  extension,
				LineStart: startLine,
				LineEnd:   endLine,
				Content:   astutil.JoinLines(lines, startLine, endLine),
				Kind:      chunk.KindClass,
			})
		}
	})

	return chunks, nil
}

// chunkLines is the fixed-line-window fallback.
func (c *Chunker) chunkLines(repoID, filePath, fileName, extension string, content []byte) []chunk.Chunk {
	lines := astutil.SplitLines(content)
	if len(lines) == 0 {
		return nil
	}

	var chunks []chunk.Chunk
	for start := 1; start <= len(lines); start += c.lineWindow {
		end := start + c.lineWindow - 1
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, chunk.Chunk{
			ID:        chunk.LinesID(filePath, start, end),
			RepoID:    repoID,
			FilePath:  filePath,
			FileName:  fileName,
			FileType:  extension,
			LineStart: start,
			LineEnd:   end,
			Content:   astutil.JoinLines(lines, start, end),
			Kind:      chunk.KindLines,
		})
	}
	return chunks
}

func functionName(n *sitter.Node, nameField string, source []byte) string {
	if name := astutil.FieldContent(n, nameField, source); name != "" {
		return name
	}
	return "anonymous"
}

func className(n *sitter.Node, nameField string, source []byte) string {
	if name := astutil.FieldContent(n, nameField, source); name != "" {
		return name
	}
	return "anonymous"
}

// isVariableBoundFunction detects `const foo = () => {}` / `const foo =
// function() {}`.
func isVariableBoundFunction(n *sitter.Node) bool {
	if n.Type() != "variable_declarator" {
		return false
	}
	value := n.ChildByFieldName("value")
	if value == nil {
		return false
	}
	t := value.Type()
	return t == "arrow_function" || t == "function_expression" || t == "function"
}
