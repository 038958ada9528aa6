package chunker

import (
	"context"
	"regexp"
	"strings"

	"github.com/ctxengine/ctxd/internal/chunk"
)

// boundaryPattern recognizes common top-level declaration openers:
// Go/Java/C/C++ func/class keywords, Python/Ruby def/class, JS/TS function/class/const
// arrow bindings. It is intentionally permissive; a heuristic chunker
// trades precision for language-independence.
var boundaryPattern = regexp.MustCompile(
	`^\s*(func|def|class|interface|struct|impl|trait|module|fn)\b|` +
		`^\s*(export\s+)?(async\s+)?function\b|` +
		`^\s*(public|private|protected|static|final)?\s*(class|interface|enum)\b`,
)

// symbolNamePattern extracts a best-effort identifier following a
// boundary keyword, used to populate Metadata.Symbol.
var symbolNamePattern = regexp.MustCompile(`\b(?:func|def|class|interface|struct|impl|trait|module|fn|function)\s+\*?\(?\s*[\w.]*\)?\s*([A-Za-z_][A-Za-z0-9_]*)`)

// HeuristicChunker splits source files into chunks at recognized
// declaration boundaries, falling back to fixed-size line windows for
// files with no recognizable structure (config, data, plain text).
type HeuristicChunker struct {
	maxLines int
}

// NewHeuristicChunker returns a HeuristicChunker with a sensible default
// window size.
func NewHeuristicChunker() *HeuristicChunker {
	return &HeuristicChunker{maxLines: 200}
}

func (h *HeuristicChunker) ChunkFile(ctx context.Context, relPath, content string) ([]chunk.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	lang := DetectLanguage(relPath)

	boundaries := []int{0}
	for i, line := range lines {
		if i == 0 {
			continue
		}
		if boundaryPattern.MatchString(line) {
			boundaries = append(boundaries, i)
		}
	}
	boundaries = append(boundaries, len(lines))

	var chunks []chunk.Chunk
	for i := 0; i < len(boundaries)-1; i++ {
		start := boundaries[i]
		end := boundaries[i+1]
		chunks = append(chunks, h.windowed(relPath, lang, lines, start, end)...)
	}
	return chunks, nil
}

// windowed splits a [start,end) line range into chunks no larger than
// maxLines, preserving order.
func (h *HeuristicChunker) windowed(relPath, lang string, lines []string, start, end int) []chunk.Chunk {
	var out []chunk.Chunk
	for s := start; s < end; s += h.maxLines {
		e := s + h.maxLines
		if e > end {
			e = end
		}
		if e <= s {
			continue
		}
		text := strings.Join(lines[s:e], "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}
		symbol := ""
		kind := chunk.KindOther
		if s == start {
			if m := symbolNamePattern.FindStringSubmatch(lines[s]); len(m) > 1 {
				symbol = m[1]
				kind = classify(lines[s])
			}
		}
		out = append(out, chunk.Chunk{
			FilePath:  relPath,
			StartLine: s + 1,
			EndLine:   e,
			Content:   text,
			Metadata: chunk.Metadata{
				Language: lang,
				Symbol:   symbol,
				Kind:     kind,
			},
		})
	}
	return out
}

func classify(declLine string) chunk.Kind {
	switch {
	case strings.Contains(declLine, "class"):
		return chunk.KindClass
	case strings.Contains(declLine, "struct"):
		return chunk.KindStruct
	case strings.Contains(declLine, "interface"), strings.Contains(declLine, "trait"):
		return chunk.KindTrait
	case strings.Contains(declLine, "impl"):
		return chunk.KindImpl
	case strings.Contains(declLine, "func"), strings.Contains(declLine, "def"), strings.Contains(declLine, "function"), strings.Contains(declLine, "fn "):
		return chunk.KindFunction
	default:
		return chunk.KindOther
	}
}
