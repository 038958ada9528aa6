package chunker

import (
	"context"
	"regexp"
	"strings"

	"github.com/ctxengine/ctxd/internal/chunk"
)

var mdHeaderPattern = regexp.MustCompile(`^##\s+`)

// MarkdownChunker splits a markdown file by level-2 headers, falling
// back to paragraph splitting for oversized sections. Never splits
// inside a fenced code block.
type MarkdownChunker struct {
	targetChars int
}

// NewMarkdownChunker returns a MarkdownChunker targeting roughly
// targetChars per chunk.
func NewMarkdownChunker(targetChars int) *MarkdownChunker {
	return &MarkdownChunker{targetChars: targetChars}
}

type mdSection struct {
	startLine int
	lines     []string
}

func (m *MarkdownChunker) ChunkFile(ctx context.Context, relPath, content string) ([]chunk.Chunk, error) {
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}
	lines := strings.Split(content, "\n")
	sections := m.splitByHeaders(lines)

	var out []chunk.Chunk
	for _, sec := range sections {
		out = append(out, m.processSection(relPath, sec)...)
	}
	return out, nil
}

func (m *MarkdownChunker) splitByHeaders(lines []string) []mdSection {
	var sections []mdSection
	current := mdSection{startLine: 1}

	for i, line := range lines {
		if mdHeaderPattern.MatchString(line) && i > 0 {
			if len(current.lines) > 0 {
				sections = append(sections, current)
			}
			current = mdSection{startLine: i + 1, lines: []string{line}}
			continue
		}
		current.lines = append(current.lines, line)
	}
	if len(current.lines) > 0 {
		sections = append(sections, current)
	}
	return sections
}

func (m *MarkdownChunker) processSection(relPath string, sec mdSection) []chunk.Chunk {
	text := strings.Join(sec.lines, "\n")
	if len(text) <= m.targetChars {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []chunk.Chunk{{
			FilePath:  relPath,
			StartLine: sec.startLine,
			EndLine:   sec.startLine + len(sec.lines) - 1,
			Content:   trimmed,
			Metadata:  chunk.Metadata{Language: "markdown", Kind: chunk.KindDoc},
		}}
	}
	return m.splitByParagraphs(relPath, sec)
}

type mdParagraph struct {
	text      string
	startLine int
	endLine   int
}

func (m *MarkdownChunker) splitByParagraphs(relPath string, sec mdSection) []chunk.Chunk {
	paragraphs := m.extractParagraphs(sec.lines, sec.startLine)

	var out []chunk.Chunk
	var current []mdParagraph
	size := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		texts := make([]string, len(current))
		for i, p := range current {
			texts[i] = p.text
		}
		out = append(out, chunk.Chunk{
			FilePath:  relPath,
			StartLine: current[0].startLine,
			EndLine:   current[len(current)-1].endLine,
			Content:   strings.Join(texts, "\n\n"),
			Metadata:  chunk.Metadata{Language: "markdown", Kind: chunk.KindDoc},
		})
		current = nil
		size = 0
	}

	for _, para := range paragraphs {
		if size > 0 && size+len(para.text) > m.targetChars {
			flush()
		}
		current = append(current, para)
		size += len(para.text)
	}
	flush()
	return out
}

var mdCodeFencePattern = regexp.MustCompile("^```")

// extractParagraphs splits lines into blank-line-delimited paragraphs,
// keeping any fenced code block intact as a single paragraph regardless
// of blank lines within it.
func (m *MarkdownChunker) extractParagraphs(lines []string, startLine int) []mdParagraph {
	var paragraphs []mdParagraph
	var current []string
	currentStart := startLine
	inCode := false

	flush := func(endLine int) {
		if len(current) == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, "\n"))
		if text != "" {
			paragraphs = append(paragraphs, mdParagraph{text: text, startLine: currentStart, endLine: endLine})
		}
		current = nil
	}

	for i, line := range lines {
		lineNum := startLine + i

		if mdCodeFencePattern.MatchString(line) {
			if !inCode {
				flush(lineNum - 1)
				inCode = true
				currentStart = lineNum
				current = append(current, line)
			} else {
				current = append(current, line)
				flush(lineNum)
				inCode = false
				currentStart = lineNum + 1
			}
			continue
		}

		if inCode {
			current = append(current, line)
			continue
		}

		if strings.TrimSpace(line) == "" {
			flush(lineNum - 1)
			currentStart = lineNum + 1
			continue
		}
		current = append(current, line)
	}
	flush(startLine + len(lines) - 1)
	return paragraphs
}
