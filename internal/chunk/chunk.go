// Package chunk defines the semantic-span data model shared by the
// corpus, vector stores, graph assembler, and search layers.
package chunk

import "fmt"

// Kind enumerates the semantic role a Chunk plays within its file.
type Kind string

const (
	KindFunction Kind = "function"
	KindMethod   Kind = "method"
	KindClass    Kind = "class"
	KindStruct   Kind = "struct"
	KindTrait    Kind = "trait"
	KindImpl     Kind = "impl"
	KindModule   Kind = "module"
	KindTest     Kind = "test"
	KindDoc      Kind = "doc"
	KindConfig   Kind = "config"
	KindOther    Kind = "other"
)

// Metadata carries the descriptive attributes of a Chunk that are not part
// of its identity.
type Metadata struct {
	Language       string   `json:"language"`
	Symbol         string   `json:"symbol,omitempty"`
	QualifiedName  string   `json:"qualified_name,omitempty"`
	ParentScope    string   `json:"parent_scope,omitempty"`
	Kind           Kind     `json:"kind"`
	ContextImports []string `json:"context_imports,omitempty"`
}

// Chunk is an immutable, file-relative semantic span. Identity is the
// triple (FilePath, StartLine, EndLine); see ID().
type Chunk struct {
	FilePath  string   `json:"file_path"`
	StartLine int      `json:"start_line"`
	EndLine   int      `json:"end_line"`
	Content   string   `json:"content"`
	Metadata  Metadata `json:"metadata"`
}

// ID returns the canonical chunk identity string "<file>:<start>:<end>".
func (c Chunk) ID() string {
	return FormatID(c.FilePath, c.StartLine, c.EndLine)
}

// FormatID builds a chunk id from its identity components without
// requiring a constructed Chunk.
func FormatID(filePath string, startLine, endLine int) string {
	return fmt.Sprintf("%s:%d:%d", filePath, startLine, endLine)
}

// DedupeImports returns imports with duplicates removed, preserving the
// first-seen order, the ordering invariant kept for
// context_imports and the one dedup/merge relies on when unioning
// imports across merged results.
func DedupeImports(imports []string) []string {
	seen := make(map[string]struct{}, len(imports))
	out := make([]string, 0, len(imports))
	for _, imp := range imports {
		if _, ok := seen[imp]; ok {
			continue
		}
		seen[imp] = struct{}{}
		out = append(out, imp)
	}
	return out
}
