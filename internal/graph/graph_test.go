package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/corpus"
)

func chunkWith(file string, start, end int, content string, meta chunk.Metadata) chunk.Chunk {
	return chunk.Chunk{FilePath: file, StartLine: start, EndLine: end, Content: content, Metadata: meta}
}

func buildCorpus(files map[string][]chunk.Chunk) *corpus.Corpus {
	c := corpus.New()
	for path, chunks := range files {
		c.SetFile(path, chunks)
	}
	return c
}

func TestBuildAddsContainsEdgeForParentScopeSibling(t *testing.T) {
	t.Parallel()

	parent := chunkWith("a.go", 1, 20, "type Foo struct{}", chunk.Metadata{
		Language: "go", Kind: chunk.KindStruct, Symbol: "Foo",
	})
	method := chunkWith("a.go", 5, 10, "func (f Foo) Bar() {}", chunk.Metadata{
		Language: "go", Kind: chunk.KindMethod, Symbol: "Bar", ParentScope: "Foo",
	})
	c := buildCorpus(map[string][]chunk.Chunk{"a.go": {parent, method}})

	asm := Build(c)
	edges := asm.OutEdges(parent.ID())
	require.Len(t, edges, 1)
	assert.Equal(t, RelationContains, edges[0].Kind)
	assert.Equal(t, method.ID(), edges[0].To)
}

func TestBuildAddsCallsEdgeWhenContentReferencesFunctionSymbol(t *testing.T) {
	t.Parallel()

	callee := chunkWith("a.go", 1, 3, "func Helper() {}", chunk.Metadata{
		Language: "go", Kind: chunk.KindFunction, Symbol: "Helper",
	})
	caller := chunkWith("b.go", 1, 3, "func Main() { Helper() }", chunk.Metadata{
		Language: "go", Kind: chunk.KindFunction, Symbol: "Main",
	})
	c := buildCorpus(map[string][]chunk.Chunk{"a.go": {callee}, "b.go": {caller}})

	asm := Build(c)
	edges := asm.OutEdges(caller.ID())
	require.Len(t, edges, 1)
	assert.Equal(t, RelationCalls, edges[0].Kind)
	assert.Equal(t, callee.ID(), edges[0].To)
}

func TestBuildAddsUsesEdgeForNonFunctionSymbolReference(t *testing.T) {
	t.Parallel()

	target := chunkWith("a.go", 1, 5, "type Config struct{}", chunk.Metadata{
		Language: "go", Kind: chunk.KindStruct, Symbol: "Config",
	})
	user := chunkWith("b.go", 1, 5, "func Load() Config { return Config{} }", chunk.Metadata{
		Language: "go", Kind: chunk.KindFunction, Symbol: "Load",
	})
	c := buildCorpus(map[string][]chunk.Chunk{"a.go": {target}, "b.go": {user}})

	asm := Build(c)
	edges := asm.OutEdges(user.ID())
	require.Len(t, edges, 1)
	assert.Equal(t, RelationUses, edges[0].Kind)
}

func TestBuildAddsTestedByEdgeFromTestChunkReferencingSymbol(t *testing.T) {
	t.Parallel()

	target := chunkWith("a.go", 1, 3, "func Add(a, b int) int { return a + b }", chunk.Metadata{
		Language: "go", Kind: chunk.KindFunction, Symbol: "Add",
	})
	test := chunkWith("a_test.go", 1, 5, "func TestAdd(t *testing.T) { Add(1, 2) }", chunk.Metadata{
		Language: "go", Kind: chunk.KindTest, Symbol: "TestAdd",
	})
	c := buildCorpus(map[string][]chunk.Chunk{"a.go": {target}, "a_test.go": {test}})

	asm := Build(c)
	edges := asm.OutEdges(target.ID())
	require.Len(t, edges, 1)
	assert.Equal(t, RelationTestedBy, edges[0].Kind)
	assert.Equal(t, test.ID(), edges[0].To)
}

func TestBuildSkipsSelfLoopsAndDuplicateEdges(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AddNode(Node{ChunkID: "x", FilePath: "x.go"})
	a.AddEdge("x", "x", RelationCalls)
	assert.Empty(t, a.OutEdges("x"), "a self-loop must never be recorded")

	a.AddNode(Node{ChunkID: "y", FilePath: "y.go"})
	a.AddEdge("x", "y", RelationCalls)
	a.AddEdge("x", "y", RelationCalls)
	assert.Len(t, a.OutEdges("x"), 1, "a duplicate (from,to,kind) triple must not be recorded twice")
}

func TestNeighborhoodDirectStrategyReturnsNoNeighbors(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AddNode(Node{ChunkID: "root"})
	a.AddNode(Node{ChunkID: "near"})
	a.AddEdge("root", "near", RelationCalls)

	assert.Empty(t, a.Neighborhood("root", StrategyDirect), "Direct strategy allows zero hops")
}

func TestNeighborhoodExtendedStrategyStopsAtOneHop(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AddNode(Node{ChunkID: "root"})
	a.AddNode(Node{ChunkID: "hop1"})
	a.AddNode(Node{ChunkID: "hop2"})
	a.AddEdge("root", "hop1", RelationCalls)
	a.AddEdge("hop1", "hop2", RelationCalls)

	out := a.Neighborhood("root", StrategyExtended)
	require.Len(t, out, 1)
	assert.Equal(t, "hop1", out[0].ChunkID)
	assert.Equal(t, 1, out[0].Distance)
}

func TestNeighborhoodDeepStrategyReachesTwoHops(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AddNode(Node{ChunkID: "root"})
	a.AddNode(Node{ChunkID: "hop1"})
	a.AddNode(Node{ChunkID: "hop2"})
	a.AddEdge("root", "hop1", RelationCalls)
	a.AddEdge("hop1", "hop2", RelationCalls)

	out := a.Neighborhood("root", StrategyDeep)
	ids := map[string]int{}
	for _, r := range out {
		ids[r.ChunkID] = r.Distance
	}
	require.Contains(t, ids, "hop1")
	require.Contains(t, ids, "hop2")
	assert.Equal(t, 1, ids["hop1"])
	assert.Equal(t, 2, ids["hop2"])
}

// TestNeighborhoodCapsPerRelationKind checks the
// per-relationship-kind fan-out cap: a root with more Uses edges than
// perRelationCap[RelationUses] only yields that many neighbors of that
// kind.
func TestNeighborhoodCapsPerRelationKind(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AddNode(Node{ChunkID: "root"})
	relCap := perRelationCap[RelationUses]
	for i := 0; i < relCap+5; i++ {
		id := chunk.FormatID("f.go", i, i)
		a.AddNode(Node{ChunkID: id})
		a.AddEdge("root", id, RelationUses)
	}

	out := a.Neighborhood("root", StrategyExtended)
	assert.Len(t, out, relCap, "neighbors of one relation kind must be capped at perRelationCap")
}

func TestNeighborhoodNeverRevisitsAVisitedNode(t *testing.T) {
	t.Parallel()

	a := newAssembler()
	a.AddNode(Node{ChunkID: "root"})
	a.AddNode(Node{ChunkID: "shared"})
	a.AddEdge("root", "shared", RelationCalls)
	a.AddEdge("shared", "root", RelationCalls) // would revisit root if not guarded

	out := a.Neighborhood("root", StrategyDeep)
	require.Len(t, out, 1)
	assert.Equal(t, "shared", out[0].ChunkID)
}
