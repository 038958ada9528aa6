// Package chunker turns one file into an ordered sequence of
// non-overlapping chunks with ids stable across unchanged content.
//
// A real deployment plugs in a grammar-aware chunker; this package
// supplies the default heuristic implementation callers get when no
// such plugin is configured, plus the language-detection helper and a
// markdown-aware splitter for docs.
package chunker

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ctxengine/ctxd/internal/chunk"
)

// Chunker turns one file's content into an ordered sequence of chunks.
type Chunker interface {
	ChunkFile(ctx context.Context, relPath string, content string) ([]chunk.Chunk, error)
}

// DetectLanguage maps a file extension to a language tag.
func DetectLanguage(relPath string) string {
	switch strings.ToLower(filepath.Ext(relPath)) {
	case ".go":
		return "go"
	case ".ts", ".tsx":
		return "typescript"
	case ".js", ".jsx":
		return "javascript"
	case ".py":
		return "python"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "cpp"
	case ".php":
		return "php"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	case ".md", ".markdown":
		return "markdown"
	default:
		return "unknown"
	}
}

// IsDoc reports whether a file should route through the markdown/doc
// chunker rather than the code chunker.
func IsDoc(relPath string) bool {
	return DetectLanguage(relPath) == "markdown"
}

// Default returns a Chunker that routes markdown to NewMarkdownChunker
// and everything else to NewHeuristicChunker, the zero-configuration
// behavior used when no language-specific plugin is wired in.
func Default() Chunker {
	return &dispatchChunker{
		markdown: NewMarkdownChunker(800),
		code:     NewHeuristicChunker(),
	}
}

// New returns a Chunker like Default but with project-configured
// window sizes: docChunkChars bounds markdown sections (see
// NewMarkdownChunker) and codeMaxLines bounds source-file windows.
// Non-positive values fall back to Default's sizes.
func New(docChunkChars, codeMaxLines int) Chunker {
	if docChunkChars <= 0 {
		docChunkChars = 800
	}
	if codeMaxLines <= 0 {
		codeMaxLines = 200
	}
	return &dispatchChunker{
		markdown: NewMarkdownChunker(docChunkChars),
		code:     &HeuristicChunker{maxLines: codeMaxLines},
	}
}

type dispatchChunker struct {
	markdown Chunker
	code     Chunker
}

func (d *dispatchChunker) ChunkFile(ctx context.Context, relPath, content string) ([]chunk.Chunk, error) {
	if IsDoc(relPath) {
		return d.markdown.ChunkFile(ctx, relPath, content)
	}
	return d.code.ChunkFile(ctx, relPath, content)
}
