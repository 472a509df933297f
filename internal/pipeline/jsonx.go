package pipeline

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject pulls a JSON object out of free text. It accepts, in
// order: the whole trimmed string if it is `{…}`, a fenced ```json block,
// or the substring from the first `{` to the last `}` when that substring
// is itself a valid object. Returns false when no object can be extracted.
func ExtractJSONObject(s string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(s)
	if isObject(trimmed) {
		return json.RawMessage(trimmed), true
	}

	if fenced, ok := stripFences(trimmed); ok && isObject(fenced) {
		return json.RawMessage(fenced), true
	}

	first := strings.Index(trimmed, "{")
	last := strings.LastIndex(trimmed, "}")
	if first >= 0 && last > first {
		candidate := trimmed[first : last+1]
		if isObject(candidate) {
			return json.RawMessage(candidate), true
		}
	}

	return nil, false
}

// isObject reports whether s parses as a JSON object.
func isObject(s string) bool {
	if !strings.HasPrefix(s, "{") || !strings.HasSuffix(s, "}") {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil
}

// stripFences removes a Markdown code fence (```json … ``` or ``` … ```)
// wrapping s. The second return is false when s is not fenced.
func stripFences(s string) (string, bool) {
	if !strings.HasPrefix(s, "```") {
		return s, false
	}
	rest := s[3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the info string ("json", "JSON", or empty).
		rest = rest[nl+1:]
	}
	end := strings.LastIndex(rest, "```")
	if end < 0 {
		return s, false
	}
	return strings.TrimSpace(rest[:end]), true
}

// Verdict is the typed projection of a reviewer verdict object.
type Verdict struct {
	Approved        *bool    `json:"approved"`
	Reasons         []string `json:"reasons"`
	RequiredChanges []string `json:"required_changes"`
	RevisedDraft    string   `json:"revised_draft"`
}

// ParseVerdict attempts to read a reviewer verdict out of free text.
// Only objects with a boolean `approved` count as verdicts.
func ParseVerdict(s string) (Verdict, bool) {
	raw, ok := ExtractJSONObject(s)
	if !ok {
		return Verdict{}, false
	}
	var v Verdict
	if err := json.Unmarshal(raw, &v); err != nil || v.Approved == nil {
		return Verdict{}, false
	}
	return v, true
}

// FinalResult is the typed projection of the upstream result payload.
type FinalResult struct {
	Status string `json:"status"`
	Draft  string `json:"draft"`
	Docx   string `json:"docx"`
}

// ParseFinalResult reads the terminal result payload, tolerating Markdown
// fences around the JSON.
func ParseFinalResult(s string) (FinalResult, bool) {
	trimmed := strings.TrimSpace(s)
	if fenced, ok := stripFences(trimmed); ok {
		trimmed = fenced
	}
	raw, ok := ExtractJSONObject(trimmed)
	if !ok {
		return FinalResult{}, false
	}
	var r FinalResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return FinalResult{}, false
	}
	return r, true
}
