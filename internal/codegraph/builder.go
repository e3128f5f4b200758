package codegraph

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"codeforge/internal/codegraph/astutil"
	"codeforge/internal/shared/logging"
)

// keywordStopList excludes language builtins from "called function"
// extraction.
var keywordStopList = map[string]bool{
	"if": true, "for": true, "while": true, "switch": true, "catch": true,
	"function": true, "return": true, "typeof": true, "instanceof": true,
	"super": true, "require": true,
}

// Builder parses candidate files into a Graph.
type Builder struct {
	logger logging.Logger
}

// NewBuilder constructs a Builder.
func NewBuilder(logger logging.Logger) *Builder {
	return &Builder{logger: logging.OrNop(logger)}
}

// Build parses files (filePath -> content) into one cross-file Graph.
// Files with an unrecognized extension are skipped; parse failures are
// logged and that file is skipped, never fatal.
func (b *Builder) Build(files map[string][]byte) *Graph {
	g := NewGraph()

	// Deterministic file processing order so node registration order
	// (and therefore FileToNodes / skeleton output) is stable.
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, path := range paths {
		lang, ok := astutil.LanguageFor(filepath.Ext(path))
		if !ok {
			continue
		}
		if err := b.parseFile(g, path, lang, files[path]); err != nil {
			b.logger.Warn("code graph: skipping %s: %v", path, err)
		}
	}
	return g
}

func (b *Builder) parseFile(g *Graph, path string, lang *sitter.Language, content []byte) error {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return err
	}
	if tree == nil {
		return nil
	}
	defer tree.Close()

	fb := &fileBuilder{graph: g, path: path, source: content}
	astutil.Walk(tree.RootNode(), fb.visit)
	fb.linkCalls()
	return nil
}

// fileBuilder accumulates one file's nodes before linking call edges,
// since a function can call another function defined later in the file.
type fileBuilder struct {
	graph  *Graph
	path   string
	source []byte

	pendingCalls []pendingCall
}

type pendingCall struct {
	fromNodeID string
	callee     string
}

func (fb *fileBuilder) visit(n *sitter.Node) {
	switch n.Type() {
	case "import_statement":
		fb.addImport(n)
	case "function_declaration", "generator_function_declaration":
		fb.addFunction(n, false)
	case "class_declaration":
		fb.addClass(n)
	}
}

func (fb *fileBuilder) addImport(n *sitter.Node) {
	source := astutil.FieldContent(n, "source", fb.source)
	source = strings.Trim(source, "\"'`")
	if source == "" {
		return
	}
	id := NodeID(fb.path, "import:"+source)
	start, end := astutil.LineRange(n)
	fb.graph.addNode(&Node{
		ID:       id,
		Kind:     NodeImport,
		Name:     source,
		FilePath: fb.path,
		Location: Location{Start: start, End: end, LineCount: end - start + 1},
	})
	fb.graph.addEdge(fileSourceID(fb.path), id, EdgeImports)
}

func (fb *fileBuilder) addFunction(n *sitter.Node, isMethod bool) *Node {
	name := astutil.FieldContent(n, "name", fb.source)
	if name == "" {
		name = "anonymous"
	}
	start, end := astutil.LineRange(n)
	node := &Node{
		ID:         NodeID(fb.path, name),
		Kind:       NodeFunction,
		Name:       name,
		FilePath:   fb.path,
		Location:   Location{Start: start, End: end, LineCount: end - start + 1},
		Signature:  buildSignature(name, n, fb.source),
		Context:    extractContext(n, fb.source),
		IsExported: isExported(n),
	}
	fb.graph.addNode(node)
	fb.graph.FunctionCallees[node.ID] = make(map[string]bool)

	astutil.Walk(n, func(c *sitter.Node) {
		switch c.Type() {
		case "call_expression":
			if callee := calleeName(c, fb.source); callee != "" && !keywordStopList[callee] {
				fb.pendingCalls = append(fb.pendingCalls, pendingCall{fromNodeID: node.ID, callee: callee})
				fb.graph.FunctionCallees[node.ID][callee] = true
			}
		}
	})
	return node
}

func (fb *fileBuilder) addClass(n *sitter.Node) {
	name := astutil.FieldContent(n, "name", fb.source)
	if name == "" {
		name = "anonymous"
	}
	start, end := astutil.LineRange(n)

	extendsFrom := ""
	if heritage := findChildOfType(n, "class_heritage"); heritage != nil {
		extendsFrom = strings.TrimSpace(strings.TrimPrefix(heritage.Content(fb.source), "extends"))
	}

	classNode := &Node{
		ID:          NodeID(fb.path, name),
		Kind:        NodeClass,
		Name:        name,
		FilePath:    fb.path,
		Location:    Location{Start: start, End: end, LineCount: end - start + 1},
		ExtendsFrom: extendsFrom,
		IsExported:  isExported(n),
	}
	fb.graph.addNode(classNode)
	if extendsFrom != "" {
		fb.graph.addEdge(classNode.ID, NodeID(fb.path, extendsFrom), EdgeExtends)
	}

	if body := n.ChildByFieldName("body"); body != nil {
		for i := 0; i < int(body.ChildCount()); i++ {
			member := body.Child(i)
			switch member.Type() {
			case "method_definition":
				method := fb.addFunction(member, true)
				classNode.Methods = append(classNode.Methods, method.ID)
			case "field_definition", "public_field_definition":
				if propName := astutil.FieldContent(member, "property", fb.source); propName != "" {
					classNode.Properties = append(classNode.Properties, propName)
				}
			}
		}
	}
}

// linkCalls resolves pending callee names against this file's node
// names (cross-file linking is left to callers that merge graphs; within
// one file this is sufficient for the skeleton formatter's Calls/Called
// by sections).
func (fb *fileBuilder) linkCalls() {
	for _, pc := range fb.pendingCalls {
		targetID := NodeID(fb.path, pc.callee)
		if _, ok := fb.graph.Nodes[targetID]; ok {
			fb.graph.addEdge(pc.fromNodeID, targetID, EdgeCalls)
		}
	}
}

// fileSourceID is the synthetic edge-source id imports are attributed
// to: a file has no single "declaration" node of its own.
func fileSourceID(path string) string {
	return "file:" + path
}

func calleeName(call *sitter.Node, source []byte) string {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return fn.Content(source)
	case "member_expression":
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return prop.Content(source)
		}
	}
	return ""
}

func findChildOfType(n *sitter.Node, typ string) *sitter.Node {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c.Type() == typ {
			return c
		}
	}
	return nil
}

// isExported walks up to see if the declaration is wrapped in an
// export_statement, the JS/TS "is this top-level binding exported" test.
func isExported(n *sitter.Node) bool {
	parent := n.Parent()
	for parent != nil {
		if parent.Type() == "export_statement" {
			return true
		}
		parent = parent.Parent()
	}
	return false
}

// buildSignature renders a best-effort "name(params): returnType"
// string from the function/method's formal_parameters and (TS-only)
// return type annotation.
func buildSignature(name string, n *sitter.Node, source []byte) string {
	var params []string
	if pl := n.ChildByFieldName("parameters"); pl != nil {
		for i := 0; i < int(pl.ChildCount()); i++ {
			p := pl.Child(i)
			if param := formatParam(p, source); param != nil {
				params = append(params, paramString(*param))
			}
		}
	}
	ret := ""
	if rt := n.ChildByFieldName("return_type"); rt != nil {
		ret = ": " + strings.TrimPrefix(rt.Content(source), ":")
	}
	return name + "(" + strings.Join(params, ", ") + ")" + ret
}

func formatParam(n *sitter.Node, source []byte) *Param {
	switch n.Type() {
	case "identifier":
		return &Param{Name: n.Content(source)}
	case "required_parameter", "optional_parameter":
		p := &Param{Optional: n.Type() == "optional_parameter"}
		if pat := n.ChildByFieldName("pattern"); pat != nil {
			p.Name = pat.Content(source)
		}
		if typ := n.ChildByFieldName("type"); typ != nil {
			p.Type = strings.TrimSpace(strings.TrimPrefix(typ.Content(source), ":"))
		}
		return p
	case "assignment_pattern":
		p := &Param{Optional: true}
		if left := n.ChildByFieldName("left"); left != nil {
			p.Name = left.Content(source)
		}
		return p
	default:
		return nil
	}
}

func paramString(p Param) string {
	s := p.Name
	if p.Optional {
		s += "?"
	}
	if p.Type != "" {
		s += ": " + p.Type
	}
	return s
}

// extractContext walks a function body for declared vars, used
// identifiers, external dependency roots, and thrown error constructors.
func extractContext(n *sitter.Node, source []byte) *FunctionContext {
	ctx := &FunctionContext{}
	declared := make(map[string]bool)
	used := make(map[string]bool)
	externals := make(map[string]bool)
	thrown := make(map[string]bool)

	astutil.Walk(n, func(c *sitter.Node) {
		switch c.Type() {
		case "variable_declarator":
			if name := c.ChildByFieldName("name"); name != nil {
				declared[name.Content(source)] = true
			}
		case "identifier":
			used[c.Content(source)] = true
		case "member_expression":
			if obj := c.ChildByFieldName("object"); obj != nil && obj.Type() == "identifier" {
				externals[obj.Content(source)] = true
			}
		case "throw_statement":
			if arg := c.NamedChild(0); arg != nil && arg.Type() == "new_expression" {
				if ctor := arg.ChildByFieldName("constructor"); ctor != nil {
					thrown[ctor.Content(source)] = true
				}
			}
		}
	})

	ctx.DeclaredVars = sortedKeys(declared)
	ctx.UsedIdents = sortedKeys(used)
	ctx.ExternalDeps = sortedKeys(externals)
	ctx.Throws = sortedKeys(thrown)
	return ctx
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
