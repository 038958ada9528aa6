// Package readpack implements the multi-intent read_pack endpoint:
// deterministic intent resolution, per-intent snippet assembly,
// same-file overlap dedupe, and the ordered budget shrink policy:
// one handler function per intent behind a shared dispatch.
package readpack

import "strings"

// Intent is read_pack's resolved dispatch target.
type Intent string

const (
	IntentOnboarding Intent = "onboarding"
	IntentRecall     Intent = "recall"
	IntentQuery      Intent = "query"
	IntentGrep       Intent = "grep"
	IntentFile       Intent = "file"
	IntentMemory     Intent = "memory"
)

var onboardingKeywords = []string{"getting started", "onboard", "new here", "first time", "orient"}

// CursorHint carries the subset of a decoded cursor that bears on
// intent resolution.
type CursorHint struct {
	Tool string
	Mode string
}

// ResolveIntent deterministic intent
// resolution: explicit intent wins, then cursor-derived, then a
// keyword heuristic over the free-form query text.
func ResolveIntent(explicit Intent, cursor *CursorHint, query string) Intent {
	if explicit != "" {
		return explicit
	}

	if cursor != nil {
		switch cursor.Tool {
		case "cat", "file_slice":
			return IntentFile
		case "rg", "grep", "grep_context":
			return IntentGrep
		case "read_pack":
			switch cursor.Mode {
			case "recall":
				return IntentRecall
			case "memory":
				return IntentMemory
			}
		}
	}

	lower := strings.ToLower(query)
	if containsAny(lower, onboardingKeywords) || (containsAny(lower, []string{"ask", "questions", "query"}) && containsAny(lower, onboardingKeywords)) {
		return IntentOnboarding
	}
	if strings.Contains(lower, "ask") || strings.Contains(lower, "questions") {
		return IntentRecall
	}
	if strings.Contains(lower, "query") {
		return IntentQuery
	}
	if strings.Contains(lower, "pattern") {
		return IntentGrep
	}
	if strings.Contains(lower, "file") {
		return IntentFile
	}
	return IntentMemory
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
