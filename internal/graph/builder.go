package graph

import (
	"strings"

	"github.com/ctxengine/ctxd/internal/chunk"
	"github.com/ctxengine/ctxd/internal/corpus"
)

// Build derives a fresh Assembler from every chunk currently in c:
// one pass per file, no AST, relating chunks through their metadata
// (QualifiedName, ParentScope, ContextImports) and content.
func Build(c *corpus.Corpus) *Assembler {
	a := newAssembler()

	// Pass 1: register every chunk as a node and index symbols so
	// relation detection can resolve target chunk ids.
	bySymbol := make(map[string][]chunk.Chunk)
	byFile := make(map[string][]chunk.Chunk)
	for _, path := range c.Files() {
		chunks := c.Chunks(path)
		byFile[path] = chunks
		for _, ch := range chunks {
			a.AddNode(Node{
				ChunkID:       ch.ID(),
				FilePath:      ch.FilePath,
				Symbol:        ch.Metadata.Symbol,
				QualifiedName: ch.Metadata.QualifiedName,
				Language:      ch.Metadata.Language,
			})
			if ch.Metadata.Symbol != "" {
				bySymbol[ch.Metadata.Symbol] = append(bySymbol[ch.Metadata.Symbol], ch)
			}
			if ch.Metadata.QualifiedName != "" {
				bySymbol[ch.Metadata.QualifiedName] = append(bySymbol[ch.Metadata.QualifiedName], ch)
			}
		}
	}

	// Pass 2: derive relations per chunk.
	for _, path := range c.Files() {
		for _, ch := range byFile[path] {
			addContainsEdges(a, ch, byFile[path])
			addImportEdges(a, ch, byFile)
			addCallUsesEdges(a, ch, bySymbol)
			addExtendsEdges(a, ch, bySymbol)
			addTestedByEdges(a, ch, bySymbol)
		}
	}

	return a
}

// addContainsEdges links a chunk to its ParentScope sibling within the
// same file, when the parent's own symbol or qualified name matches.
func addContainsEdges(a *Assembler, ch chunk.Chunk, siblings []chunk.Chunk) {
	if ch.Metadata.ParentScope == "" {
		return
	}
	for _, sib := range siblings {
		if sib.ID() == ch.ID() {
			continue
		}
		if sib.Metadata.Symbol == ch.Metadata.ParentScope || sib.Metadata.QualifiedName == ch.Metadata.ParentScope {
			a.AddEdge(sib.ID(), ch.ID(), RelationContains)
		}
	}
}

// addImportEdges links a chunk to the module-level chunk(s) of each
// imported path, when that path is itself indexed.
func addImportEdges(a *Assembler, ch chunk.Chunk, byFile map[string][]chunk.Chunk) {
	for _, imp := range ch.Metadata.ContextImports {
		target := resolveImportTarget(imp, byFile)
		if target == "" {
			continue
		}
		for _, cand := range byFile[target] {
			if cand.Metadata.Kind == chunk.KindModule {
				a.AddEdge(ch.ID(), cand.ID(), RelationImports)
			}
		}
	}
}

// resolveImportTarget maps an import string to an indexed file path by
// suffix match, the same heuristic a grep-based "find the file this
// import refers to" tool would use absent a language-specific resolver.
func resolveImportTarget(imp string, byFile map[string][]chunk.Chunk) string {
	imp = strings.Trim(imp, `"'`)
	for path := range byFile {
		if strings.HasSuffix(path, imp) || strings.HasSuffix(strings.TrimSuffix(path, fileExt(path)), imp) {
			return path
		}
	}
	return ""
}

func fileExt(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i:]
	}
	return ""
}

// addCallUsesEdges scans a chunk's content for occurrences of other
// chunks' symbol names, adding Calls edges for function/method targets
// and Uses edges for everything else. This is a textual heuristic, not a
// parsed call graph; chunking/parsing is an out-of-scope pluggable
// collaborator, so the graph builder works with whatever
// symbol names the chunker attached.
func addCallUsesEdges(a *Assembler, ch chunk.Chunk, bySymbol map[string][]chunk.Chunk) {
	if ch.Content == "" {
		return
	}
	for symbol, targets := range bySymbol {
		if len(symbol) < 3 || !containsWord(ch.Content, symbol) {
			continue
		}
		for _, target := range targets {
			if target.ID() == ch.ID() {
				continue
			}
			switch target.Metadata.Kind {
			case chunk.KindFunction, chunk.KindMethod:
				a.AddEdge(ch.ID(), target.ID(), RelationCalls)
			default:
				a.AddEdge(ch.ID(), target.ID(), RelationUses)
			}
		}
	}
}

// addExtendsEdges links impl/class/struct/trait chunks whose content
// names another type symbol in a way consistent with inheritance or
// interface satisfaction ("extends", "implements", ": Base", "(Base)").
func addExtendsEdges(a *Assembler, ch chunk.Chunk, bySymbol map[string][]chunk.Chunk) {
	switch ch.Metadata.Kind {
	case chunk.KindClass, chunk.KindStruct, chunk.KindImpl, chunk.KindTrait:
	default:
		return
	}
	for symbol, targets := range bySymbol {
		if symbol == ch.Metadata.Symbol || len(symbol) < 2 {
			continue
		}
		if !containsAny(ch.Content, []string{"extends " + symbol, "implements " + symbol, ": " + symbol, "(" + symbol + ")"}) {
			continue
		}
		for _, target := range targets {
			if target.ID() != ch.ID() {
				a.AddEdge(ch.ID(), target.ID(), RelationExtends)
			}
		}
	}
}

// addTestedByEdges links a non-test chunk to every test chunk anywhere in
// the corpus whose content references its symbol by name.
func addTestedByEdges(a *Assembler, ch chunk.Chunk, bySymbol map[string][]chunk.Chunk) {
	if ch.Metadata.Kind == chunk.KindTest || ch.Metadata.Symbol == "" {
		return
	}
	for _, candidates := range bySymbol {
		for _, candidate := range candidates {
			if candidate.Metadata.Kind != chunk.KindTest || candidate.ID() == ch.ID() {
				continue
			}
			if containsWord(candidate.Content, ch.Metadata.Symbol) {
				a.AddEdge(ch.ID(), candidate.ID(), RelationTestedBy)
			}
		}
	}
}

func containsWord(haystack, word string) bool {
	return strings.Contains(haystack, word)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
