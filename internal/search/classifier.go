// Package search implements the hybrid retrieval and context-assembly
// layer: multi-model vector search fused with lexical scoring, graph
// neighborhood assembly, graph-nodes RRF fusion, and budget-bounded
// context-pack rendering. Vector similarity is blended with a
// secondary lexical signal (github.com/blevesearch/bleve/v2) and
// returned as a single ordered result list.
package search

import (
	"regexp"
	"strings"
)

// Intent is the query classification used to choose kind ordering and
// to gate graph-nodes fusion.
type Intent string

const (
	IntentIdentifier Intent = "identifier"
	IntentPath       Intent = "path"
	IntentConceptual Intent = "conceptual"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*((::|\.)[A-Za-z_][A-Za-z0-9_]*)*$`)

var docIntentKeywords = []string{
	"doc", "readme", "guide", "how to", "usage", "tutorial", "example", "getting started",
}

// Classify buckets a query as Identifier, Path, or Conceptual. The
// identifier pattern is checked first, so a dotted name with no slash
// (such as "main.go") is an Identifier.
func Classify(query string) Intent {
	trimmed := strings.TrimSpace(query)
	if identifierPattern.MatchString(trimmed) {
		return IntentIdentifier
	}
	if strings.Contains(trimmed, "/") || hasFileExtensionSuffix(trimmed) {
		return IntentPath
	}
	return IntentConceptual
}

func hasFileExtensionSuffix(s string) bool {
	i := strings.LastIndexByte(s, '.')
	if i < 0 || i == len(s)-1 {
		return false
	}
	ext := s[i+1:]
	return len(ext) > 0 && len(ext) <= 8 && !strings.ContainsAny(ext, " \t/")
}

// IsDocsIntent reports whether query contains a doc-intent keyword.
func IsDocsIntent(query string) bool {
	lower := strings.ToLower(query)
	for _, kw := range docIntentKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
