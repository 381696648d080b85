package inference

import (
	"encoding/json"
	"errors"
	"strings"
)

// Decode locates the outermost JSON object inside free-form model output and
// unmarshals it into out. Model text routinely arrives wrapped in prose,
// markdown fences, or with trailing commentary; truncation mid-object is also
// possible. Decode tolerates the wrapping, attempts a strict parse of the
// first balanced object, and on failure makes exactly one repair pass before
// giving up.
func Decode(raw string, out any) error {
	s := stripFences(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return errors.New("no JSON object in response")
	}

	candidate, balanced, end := extractObject(s, start)

	if balanced {
		firstErr := json.Unmarshal([]byte(candidate), out)
		if firstErr == nil {
			return nil
		}
		// Repair pass: the first brace pair was prose (e.g. "{is}" inside a
		// sentence). Try the next balanced object in the text once.
		next := strings.IndexByte(s[end:], '{')
		if next < 0 {
			return firstErr
		}
		candidate, balanced, _ = extractObject(s, end+next)
		if !balanced {
			return firstErr
		}
		return json.Unmarshal([]byte(candidate), out)
	}

	// The object never closes (truncated output). Repair pass: trim to the
	// last closing brace and hope the cut landed on a complete object.
	repaired, ok := trimToLastBrace(candidate)
	if !ok {
		return errors.New("unterminated JSON object in response")
	}
	return json.Unmarshal([]byte(repaired), out)
}

// stripFences removes a markdown code fence wrapper (```json ... ``` or
// ``` ... ```) if present, plus surrounding whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractObject returns the substring from the '{' at start to its matching
// closing brace, plus the index just past it. The scan is string-aware so
// braces inside JSON string values do not confuse the depth count. When the
// object never closes (truncated output), it returns everything from start
// with balanced=false.
func extractObject(s string, start int) (candidate string, balanced bool, end int) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true, i + 1
			}
		}
	}
	return s[start:], false, len(s)
}

// trimToLastBrace cuts the candidate at its final '}'. Returns false when no
// closing brace exists at all.
func trimToLastBrace(s string) (string, bool) {
	idx := strings.LastIndexByte(s, '}')
	if idx < 0 {
		return "", false
	}
	return s[:idx+1], true
}
