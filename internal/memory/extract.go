package memory

import (
	"encoding/json"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// kindKeywords maps a leading marker the external CLI's assistant
// replies commonly use (e.g. "Decision: ...") to the candidate kind it
// signals. Matching is case-insensitive against the start of a line.
var kindKeywords = []struct {
	prefix string
	kind   string
}{
	{"decision:", "decision"},
	{"decided:", "decision"},
	{"blocker:", "blocker"},
	{"blocked:", "blocker"},
	{"plan:", "plan"},
	{"change:", "change"},
	{"changed:", "change"},
	{"evidence:", "evidence"},
	{"requirement:", "requirement"},
}

// perKindCap bounds how many high-signal sections of one kind a single
// batch of one session file's lines carries forward into candidates, so one chatty session
// doesn't crowd out every other kind in the cache.
const perKindCap = 2

// kindCounts tracks how many candidates of each capped kind have
// already been taken from one session file's batch of lines.
type kindCounts map[string]int

func (k kindCounts) allow(kind string) bool {
	switch kind {
	case "decision", "blocker", "plan", "change", "evidence", "requirement":
		if k[kind] >= perKindCap {
			return false
		}
		k[kind]++
		return true
	default:
		return true
	}
}

// extractCandidates classifies one batch of newly-read JSONL lines from
// a single session file into stored candidates, mirroring the external
// CLI's response_item/function_call/function_call_output/
// custom_tool_call event shapes.
func extractCandidates(projectRoot string, lines []string, meta *sessionMeta, responseMode string) []storedCandidate {
	var out []storedCandidate
	counts := kindCounts{}
	promptCount, replyCount, toolOutputCount, commandCount, patchCount := 0, 0, 0, 0, 0

	for _, line := range lines {
		var env struct {
			Type      string          `json:"type"`
			Timestamp string          `json:"timestamp"`
			Payload   json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal([]byte(line), &env); err != nil || env.Type != "response_item" {
			continue
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(env.Payload, &head); err != nil {
			continue
		}
		ts := parseTimestampMs(env.Timestamp, meta.MtimeMs)

		switch head.Type {
		case "message":
			var msg struct {
				Role string `json:"role"`
			}
			_ = json.Unmarshal(env.Payload, &msg)
			if msg.Role != "user" && msg.Role != "assistant" {
				continue
			}
			text := extractMessageText(env.Payload)
			if isNoiseMessage(msg.Role, text) {
				continue
			}

			if msg.Role == "assistant" {
				if sections := highSignalSections(text); len(sections) > 0 {
					for _, s := range sections {
						if !counts.allow(s.kind) {
							continue
						}
						out = append(out, candidateFromSection(s, ts, meta))
					}
					continue // prefer extracted sections over the raw reply
				}
			}

			if msg.Role == "user" {
				if promptCount >= 4 {
					continue
				}
				promptCount++
			} else {
				if replyCount >= 3 {
					continue
				}
				replyCount++
			}

			kind := "reply"
			if msg.Role == "user" {
				kind = "prompt"
				if looksLikeRequirement(text) {
					kind = "requirement"
				}
			}
			title := firstLineTitle(text, 80)
			embedText := buildEmbedText(kind, title, text, 2048)
			out = append(out, storedCandidate{
				Kind:        kind,
				Title:       title,
				TsMs:        ts,
				EmbedText:   embedText,
				Excerpt:     trimToChars(embedText, excerptChars(responseMode)),
				Reference:   map[string]any{"session_id": meta.SessionID, "source": meta.SourceRel, "role": msg.Role},
				SemanticKey: semanticKeyFor(kind, embedText),
				SessionID:   meta.SessionID,
				SourceRel:   meta.SourceRel,
			})

		case "function_call":
			var call struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			}
			_ = json.Unmarshal(env.Payload, &call)
			switch call.Name {
			case "update_plan":
				if expl := planExplanation(call.Arguments); expl != "" {
					for _, s := range highSignalSections(expl) {
						if s.kind == "plan" || !counts.allow(s.kind) {
							continue
						}
						out = append(out, candidateFromSection(s, ts, meta))
					}
				}
				if cand, ok := candidateFromPlanArgs(call.Arguments, ts, meta, responseMode); ok && counts.allow("plan") {
					out = append(out, cand)
				}
			case "exec_command":
				if commandCount >= 1 {
					continue
				}
				if cand, ok := candidateFromExecArgs(call.Arguments, ts, meta, responseMode); ok {
					commandCount++
					out = append(out, cand)
				}
			}

		case "function_call_output":
			if toolOutputCount >= 1 {
				continue
			}
			text := extractFunctionCallOutputText(env.Payload)
			if !isInterestingToolOutput(text) {
				continue
			}
			text = trimToChars(text, 700)
			title := firstLineTitle(text, 90)
			if title == "" {
				title = "tool_output"
			}
			embedText := buildEmbedText("tool_output", title, text, 1024)
			toolOutputCount++
			out = append(out, storedCandidate{
				Kind:      "tool_output",
				Title:     title,
				TsMs:      ts,
				EmbedText: embedText,
				Excerpt:   trimToChars(embedText, excerptChars(responseMode)),
				Reference: map[string]any{"session_id": meta.SessionID, "source": meta.SourceRel, "output": true},
				SessionID: meta.SessionID,
				SourceRel: meta.SourceRel,
			})

		case "custom_tool_call":
			var call struct {
				Name  string `json:"name"`
				Input string `json:"input"`
			}
			_ = json.Unmarshal(env.Payload, &call)
			if call.Name != "apply_patch" || patchCount >= 2 {
				continue
			}
			paths := filterPatchPaths(projectRoot, extractPatchPaths(call.Input))
			if len(paths) == 0 {
				continue
			}
			patchCount++
			title := "apply_patch: " + strconv.Itoa(len(paths)) + " file(s)"
			body := strings.Join(paths, "\n")
			embedText := buildEmbedText("change", title, body, 1024)
			out = append(out, storedCandidate{
				Kind:      "change",
				Title:     title,
				TsMs:      ts,
				EmbedText: embedText,
				Excerpt:   trimToChars(embedText, excerptChars(responseMode)),
				Reference: map[string]any{"session_id": meta.SessionID, "source": meta.SourceRel, "files": paths},
				SessionID: meta.SessionID,
				SourceRel: meta.SourceRel,
			})
		}
	}

	sortCandidatesByTsDesc(out)
	if len(out) > 16 {
		out = out[:16]
	}
	return out
}

type section struct {
	kind  string
	title string
	body  string
}

func candidateFromSection(s section, ts int64, meta *sessionMeta) storedCandidate {
	embedText := buildEmbedText(s.kind, s.title, s.body, 1024)
	return storedCandidate{
		Kind:        s.kind,
		Title:       s.title,
		TsMs:        ts,
		EmbedText:   embedText,
		Excerpt:     trimToChars(embedText, excerptChars("")),
		Reference:   map[string]any{"session_id": meta.SessionID, "source": meta.SourceRel, "section": s.title},
		SemanticKey: semanticKeyFor(s.kind, embedText),
		SessionID:   meta.SessionID,
		SourceRel:   meta.SourceRel,
	}
}

// highSignalSections scans an assistant reply for marker-prefixed lines
// ("Decision: ...", "Blocker: ...") and groups each into a titled
// section running until the next marker or blank-line paragraph break.
func highSignalSections(text string) []section {
	lines := strings.Split(text, "\n")
	var sections []section
	var cur *section
	var body []string

	flush := func() {
		if cur != nil {
			cur.body = strings.TrimSpace(strings.Join(body, "\n"))
			if cur.body != "" {
				sections = append(sections, *cur)
			}
		}
		cur = nil
		body = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		lower := strings.ToLower(trimmed)
		matched := false
		for _, kw := range kindKeywords {
			if strings.HasPrefix(lower, kw.prefix) {
				flush()
				rest := strings.TrimSpace(trimmed[len(kw.prefix):])
				cur = &section{kind: kw.kind, title: firstLineTitle(rest, 80)}
				if cur.title == "" {
					cur.title = capitalize(kw.kind)
				}
				body = []string{rest}
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		if cur != nil {
			if trimmed == "" && len(body) > 0 {
				flush()
				continue
			}
			body = append(body, line)
		}
	}
	flush()
	return sections
}

func looksLikeRequirement(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range []string{"please", "must", "need to", "needs to", "require", "should always", "never "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func isNoiseMessage(role, text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if role == "assistant" && len(trimmed) < 8 {
		return true // bare acknowledgements ("ok", "done") carry no signal
	}
	return false
}

func extractMessageText(payload json.RawMessage) string {
	var withContent struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(payload, &withContent); err == nil && len(withContent.Content) > 0 {
		var parts []string
		for _, c := range withContent.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	var withText struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(payload, &withText)
	return withText.Text
}

func extractFunctionCallOutputText(payload json.RawMessage) string {
	var out struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(payload, &out); err == nil && out.Output != "" {
		return out.Output
	}
	var nested struct {
		Output struct {
			Content string `json:"content"`
		} `json:"output"`
	}
	_ = json.Unmarshal(payload, &nested)
	return nested.Output.Content
}

func isInterestingToolOutput(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 20 {
		return false
	}
	lower := strings.ToLower(trimmed)
	return !(lower == "ok" || lower == "done" || lower == "success")
}

func planExplanation(args string) string {
	var parsed struct {
		Explanation string `json:"explanation"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		return ""
	}
	return trimToChars(strings.TrimSpace(parsed.Explanation), 4096)
}

func candidateFromPlanArgs(args string, ts int64, meta *sessionMeta, responseMode string) (storedCandidate, bool) {
	var parsed struct {
		Plan []struct {
			Step   string `json:"step"`
			Status string `json:"status"`
		} `json:"plan"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil || len(parsed.Plan) == 0 {
		return storedCandidate{}, false
	}
	var lines []string
	for _, step := range parsed.Plan {
		lines = append(lines, "["+step.Status+"] "+step.Step)
	}
	body := strings.Join(lines, "\n")
	title := "plan: " + strconv.Itoa(len(parsed.Plan)) + " step(s)"
	embedText := buildEmbedText("plan", title, body, 1024)
	return storedCandidate{
		Kind:        "plan",
		Title:       title,
		TsMs:        ts,
		EmbedText:   embedText,
		Excerpt:     trimToChars(embedText, excerptChars(responseMode)),
		Reference:   map[string]any{"session_id": meta.SessionID, "source": meta.SourceRel, "tool": "update_plan"},
		SemanticKey: semanticKeyFor("plan", normalizeSemanticText(body)),
		SessionID:   meta.SessionID,
		SourceRel:   meta.SourceRel,
	}, true
}

func candidateFromExecArgs(args string, ts int64, meta *sessionMeta, responseMode string) (storedCandidate, bool) {
	var parsed struct {
		Command []string `json:"command"`
	}
	if err := json.Unmarshal([]byte(args), &parsed); err != nil || len(parsed.Command) == 0 {
		return storedCandidate{}, false
	}
	cmd := strings.Join(parsed.Command, " ")
	if strings.TrimSpace(cmd) == "" {
		return storedCandidate{}, false
	}
	title := firstLineTitle(cmd, 90)
	embedText := buildEmbedText("trace", title, cmd, 512)
	return storedCandidate{
		Kind:      "trace",
		Title:     title,
		TsMs:      ts,
		EmbedText: embedText,
		Excerpt:   trimToChars(embedText, excerptChars(responseMode)),
		Reference: map[string]any{"session_id": meta.SessionID, "source": meta.SourceRel, "command": cmd},
		SessionID: meta.SessionID,
		SourceRel: meta.SourceRel,
	}, true
}

func extractPatchPaths(patch string) []string {
	var paths []string
	for _, line := range strings.Split(patch, "\n") {
		trimmed := strings.TrimSpace(line)
		for _, marker := range []string{"*** Update File: ", "*** Add File: ", "*** Delete File: "} {
			if strings.HasPrefix(trimmed, marker) {
				paths = append(paths, strings.TrimSpace(strings.TrimPrefix(trimmed, marker)))
			}
		}
	}
	return paths
}

func filterPatchPaths(projectRoot string, paths []string) []string {
	var out []string
	for _, p := range paths {
		if filepath.IsAbs(p) {
			rel, err := filepath.Rel(projectRoot, p)
			if err != nil || strings.HasPrefix(rel, "..") {
				continue
			}
			p = rel
		}
		if strings.HasPrefix(p, "..") {
			continue
		}
		out = append(out, filepath.ToSlash(p))
	}
	return out
}

func firstLineTitle(text string, maxChars int) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ""
	}
	line := trimmed
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		line = trimmed[:idx]
	}
	return trimToChars(strings.TrimSpace(line), maxChars)
}

func trimToChars(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func excerptChars(responseMode string) int {
	switch responseMode {
	case "minimal":
		return 160
	case "full":
		return 600
	default:
		return 320
	}
}

func buildEmbedText(kind, title, body string, maxChars int) string {
	body = trimToChars(strings.TrimSpace(body), maxChars)
	if title == "" {
		return kind + ": " + body
	}
	return kind + ": " + title + "\n" + body
}

func normalizeSemanticText(s string) string {
	fields := strings.Fields(strings.ToLower(s))
	return strings.Join(fields, " ")
}

// semanticKeyFor groups near-duplicate candidates (e.g. the same plan
// re-stated verbatim across turns) so they merge instead of repeating in
// results; only kinds prone to restatement get a key.
func semanticKeyFor(kind, embedText string) string {
	switch kind {
	case "plan", "decision", "requirement":
	default:
		return ""
	}
	norm := normalizeSemanticText(embedText)
	if len(norm) > 120 {
		norm = norm[:120]
	}
	return kind + ":" + norm
}

func parseTimestampMs(ts string, fallback int64) int64 {
	if ts == "" {
		return fallback
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return fallback
	}
	return parsed.UnixMilli()
}

func sortCandidatesByTsDesc(cands []storedCandidate) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].TsMs > cands[j-1].TsMs; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
