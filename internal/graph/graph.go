// Package graph implements the derived, non-authoritative
// code-relationship graph built over the chunk corpus and cached keyed
// by (store_mtime, language, template_hash): a flat node list plus a
// typed edge list on github.com/dominikbraun/graph, never a
// pointer-linked tree.
package graph

import (
	"github.com/dominikbraun/graph"
)

// RelationKind enumerates the relationship kinds edges carry.
type RelationKind string

const (
	RelationCalls    RelationKind = "calls"
	RelationUses     RelationKind = "uses"
	RelationContains RelationKind = "contains"
	RelationExtends  RelationKind = "extends"
	RelationImports  RelationKind = "imports"
	RelationTestedBy RelationKind = "tested_by"
	RelationOther    RelationKind = "other"
)

// Node is one graph vertex, keyed by chunk id. Arena-style: vertices live
// in the underlying graph.Graph keyed by string id rather than through
// pointer ownership.
type Node struct {
	ChunkID       string `json:"chunk_id"`
	FilePath      string `json:"file_path"`
	Symbol        string `json:"symbol,omitempty"`
	QualifiedName string `json:"qualified_name,omitempty"`
	Language      string `json:"language"`
}

// Edge is one directed relationship between two chunk ids.
type Edge struct {
	From string       `json:"from"`
	To   string       `json:"to"`
	Kind RelationKind `json:"kind"`
}

// Assembler holds the node set and typed edges of one project's code
// graph and answers neighborhood queries for context search.
type Assembler struct {
	g     graph.Graph[string, Node]
	edges map[string][]Edge // from chunk id -> outgoing edges, for ordered neighbor walks
}

func nodeHash(n Node) string { return n.ChunkID }

// newAssembler returns an empty Assembler.
func newAssembler() *Assembler {
	return &Assembler{
		g:     graph.New(nodeHash, graph.Directed()),
		edges: make(map[string][]Edge),
	}
}

// AddNode inserts a node if its chunk id is not already present.
func (a *Assembler) AddNode(n Node) {
	_ = a.g.AddVertex(n) // AddVertex reports ErrVertexAlreadyExists, which is fine here
}

// AddEdge inserts a directed edge, skipping self-loops and duplicate
// (from,to,kind) triples.
func (a *Assembler) AddEdge(from, to string, kind RelationKind) {
	if from == to {
		return
	}
	for _, e := range a.edges[from] {
		if e.To == to && e.Kind == kind {
			return
		}
	}
	// The relation kind is tracked in a.edges rather than through the
	// library's edge-properties API; dominikbraun/graph's AddEdge only
	// needs the two vertex hashes to exist already.
	if err := a.g.AddEdge(from, to); err != nil {
		// Missing vertex or parallel-edge rejection: the relation is
		// simply dropped, it never corrupts existing graph state.
		return
	}
	a.edges[from] = append(a.edges[from], Edge{From: from, To: to, Kind: kind})
}

// HasNode reports whether chunkID has a vertex in the graph.
func (a *Assembler) HasNode(chunkID string) bool {
	_, err := a.g.Vertex(chunkID)
	return err == nil
}

// Node returns the node for chunkID, if present.
func (a *Assembler) Node(chunkID string) (Node, bool) {
	n, err := a.g.Vertex(chunkID)
	if err != nil {
		return Node{}, false
	}
	return n, true
}

// OutEdges returns chunkID's outgoing edges in insertion order.
func (a *Assembler) OutEdges(chunkID string) []Edge {
	return a.edges[chunkID]
}

// NodeCount returns the number of vertices in the graph.
func (a *Assembler) NodeCount() int {
	order, err := a.g.Order()
	if err != nil {
		return 0
	}
	return order
}

// AllNodes returns every node in the graph, for GraphNodeStore document
// generation.
func (a *Assembler) AllNodes() []Node {
	am, err := a.g.AdjacencyMap()
	if err != nil {
		return nil
	}
	out := make([]Node, 0, len(am))
	for id := range am {
		if n, err := a.g.Vertex(id); err == nil {
			out = append(out, n)
		}
	}
	return out
}
