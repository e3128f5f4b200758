package codegraph

import (
	"fmt"
	"strings"
)

// FormatSkeleton renders a deterministic, human-readable skeleton for
// one file's nodes in graph: header, imports, exports,
// functions, classes — in that order, stable by source order within
// each section.
func FormatSkeleton(g *Graph, filePath string) string {
	nodeIDs := g.FileToNodes[filePath]

	var imports, exports, functions, classes []*Node
	for _, id := range nodeIDs {
		n := g.Nodes[id]
		if n == nil {
			continue
		}
		switch n.Kind {
		case NodeImport:
			imports = append(imports, n)
		case NodeFunction:
			functions = append(functions, n)
			if n.IsExported {
				exports = append(exports, n)
			}
		case NodeClass:
			classes = append(classes, n)
			if n.IsExported {
				exports = append(exports, n)
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "File: %s\n", filePath)
	fmt.Fprintf(&b, "Functions: %d, Classes: %d, Imports: %d\n\n", len(functions), len(classes), len(imports))

	if len(imports) > 0 {
		b.WriteString("Imports:\n")
		for _, n := range imports {
			fmt.Fprintf(&b, "  - %s\n", n.Name)
		}
		b.WriteString("\n")
	}

	if len(exports) > 0 {
		b.WriteString("Exports:\n")
		for _, n := range exports {
			fmt.Fprintf(&b, "  - %s\n", n.Name)
		}
		b.WriteString("\n")
	}

	if len(functions) > 0 {
		b.WriteString("Functions:\n")
		for _, n := range functions {
			writeFunctionSkeleton(&b, g, n, "  ")
		}
		b.WriteString("\n")
	}

	if len(classes) > 0 {
		b.WriteString("Classes:\n")
		for _, n := range classes {
			writeClassSkeleton(&b, g, n)
		}
	}

	return b.String()
}

func writeFunctionSkeleton(b *strings.Builder, g *Graph, n *Node, indent string) {
	tag := "PRIVATE"
	if n.IsExported {
		tag = "EXPORTED"
	}
	fmt.Fprintf(b, "%s[%s] %s (lines %d-%d)\n", indent, tag, n.Signature, n.Location.Start, n.Location.End)

	if calls := sortedCallNames(g, n.ID); len(calls) > 0 {
		fmt.Fprintf(b, "%s  Calls: %s\n", indent, strings.Join(calls, ", "))
	}
	if callers := callerNames(g, n.ID); len(callers) > 0 {
		fmt.Fprintf(b, "%s  Called by: %s\n", indent, strings.Join(callers, ", "))
	}
	if n.Context != nil {
		if len(n.Context.ExternalDeps) > 0 {
			fmt.Fprintf(b, "%s  Uses: %s\n", indent, strings.Join(n.Context.ExternalDeps, ", "))
		}
		if len(n.Context.Throws) > 0 {
			fmt.Fprintf(b, "%s  Throws: %s\n", indent, strings.Join(n.Context.Throws, ", "))
		}
	}
}

func writeClassSkeleton(b *strings.Builder, g *Graph, n *Node) {
	tag := "PRIVATE"
	if n.IsExported {
		tag = "EXPORTED"
	}
	header := fmt.Sprintf("  [%s] class %s", tag, n.Name)
	if n.ExtendsFrom != "" {
		header += " extends " + n.ExtendsFrom
	}
	b.WriteString(header + "\n")

	if len(n.Properties) > 0 {
		fmt.Fprintf(b, "    Properties: %s\n", strings.Join(n.Properties, ", "))
	}
	for _, methodID := range n.Methods {
		if method := g.Nodes[methodID]; method != nil {
			writeFunctionSkeleton(b, g, method, "    ")
		}
	}
}

// sortedCallNames returns the names of functions n calls, in
// alphabetical order.
func sortedCallNames(g *Graph, nodeID string) []string {
	callees := g.FunctionCallees[nodeID]
	if len(callees) == 0 {
		return nil
	}
	return sortedKeys(callees)
}

// callerNames returns the names of nodes with a "calls" edge into
// nodeID — the reverse-call map.
func callerNames(g *Graph, nodeID string) []string {
	seen := make(map[string]bool)
	for _, callerID := range g.CalledBy(nodeID) {
		if n := g.Nodes[callerID]; n != nil {
			seen[n.Name] = true
		}
	}
	return sortedKeys(seen)
}
