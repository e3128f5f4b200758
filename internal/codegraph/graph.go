// Package codegraph implements the Code-Graph Builder and Skeleton
// Formatter: it parses a set of candidate files into a
// cross-file graph of imports, functions, classes and call edges, then
// renders a deterministic, LLM-sized text "skeleton" per file.
//
// It shares its tree-sitter walk/line helpers with the chunker via
// internal/codegraph/astutil, and parses each file itself with the
// astutil grammar table.
package codegraph

import "fmt"

// NodeKind classifies a graph node.
type NodeKind string

const (
	NodeFunction NodeKind = "function"
	NodeClass    NodeKind = "class"
	NodeImport   NodeKind = "import"
)

// EdgeKind classifies a directed relationship between two nodes.
type EdgeKind string

const (
	EdgeCalls   EdgeKind = "calls"
	EdgeExtends EdgeKind = "extends"
	EdgeImports EdgeKind = "imports"
)

// Location is a node's span within its file.
type Location struct {
	Start     int
	End       int
	LineCount int
}

// Param is one function/method parameter.
type Param struct {
	Name     string
	Optional bool
	Type     string // best-effort: primitive keyword, union/intersection, reference, literal, array
}

// FunctionContext captures what a function body references .
type FunctionContext struct {
	DeclaredVars []string
	UsedIdents   []string
	ExternalDeps []string
	Throws       []string
}

// Node is one graph entity: a function, method, class, or import.
type Node struct {
	ID          string
	Kind        NodeKind
	Name        string
	FilePath    string
	Location    Location
	Signature   string
	Context     *FunctionContext
	Properties  []string // class fields
	Methods     []string // method node ids, for class nodes
	ExtendsFrom string
	IsExported  bool
	Modifiers   []string
}

// Edge is a typed directed edge, keyed by source node id in Graph.Edges.
type Edge struct {
	From string
	To   string
	Kind EdgeKind
}

// Graph is the cross-file code graph built from a set of source files.
type Graph struct {
	Nodes map[string]*Node
	Edges map[string][]Edge // source node id -> outgoing edges

	FileToNodes     map[string][]string // filePath -> nodeIds, in source order
	NameToNodes     map[string][]string // name -> nodeIds
	FunctionCallees map[string]map[string]bool // functionId -> called function names
}

// NewGraph constructs an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:           make(map[string]*Node),
		Edges:           make(map[string][]Edge),
		FileToNodes:     make(map[string][]string),
		NameToNodes:     make(map[string][]string),
		FunctionCallees: make(map[string]map[string]bool),
	}
}

// NodeID builds the graph's stable node identifier.
func NodeID(filePath, name string) string {
	return fmt.Sprintf("%s:%s", filePath, name)
}

func (g *Graph) addNode(n *Node) {
	g.Nodes[n.ID] = n
	g.FileToNodes[n.FilePath] = append(g.FileToNodes[n.FilePath], n.ID)
	g.NameToNodes[n.Name] = append(g.NameToNodes[n.Name], n.ID)
}

func (g *Graph) addEdge(from, to string, kind EdgeKind) {
	g.Edges[from] = append(g.Edges[from], Edge{From: from, To: to, Kind: kind})
}

// CalledBy returns, for a given node id, the ids of nodes with an
// outgoing "calls" edge to it — the reverse-call map the skeleton
// formatter's "Called by" section is built from.
func (g *Graph) CalledBy(nodeID string) []string {
	var callers []string
	for from, edges := range g.Edges {
		for _, e := range edges {
			if e.Kind == EdgeCalls && e.To == nodeID {
				callers = append(callers, from)
			}
		}
	}
	return callers
}
