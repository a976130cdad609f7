package llm

import (
	"encoding/json"
	"strings"
)

// RecoverJSON coerces a free-form model response into a JSON object string.
// It tries, in order: the whole body, the body with markdown code fences
// stripped, and the first balanced {...} span. Returns "" when no object
// can be recovered.
func RecoverJSON(content string) string {
	s := strings.TrimSpace(content)
	if s == "" {
		return ""
	}
	if validObject(s) {
		return s
	}

	stripped := stripFences(s)
	if stripped != s && validObject(stripped) {
		return stripped
	}

	if span := firstBalancedObject(s); span != "" && validObject(span) {
		return span
	}
	return ""
}

func validObject(s string) bool {
	var v map[string]any
	return json.Unmarshal([]byte(s), &v) == nil
}

// stripFences removes leading ```json / ``` fences and a trailing ```.
func stripFences(s string) string {
	lower := strings.ToLower(s)
	switch {
	case strings.HasPrefix(lower, "```json"):
		s = strings.TrimSpace(s[len("```json"):])
	case strings.HasPrefix(lower, "```"):
		s = strings.TrimSpace(s[len("```"):])
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(s[:len(s)-3])
	}
	return s
}

// firstBalancedObject scans for the first balanced top-level {...} span,
// tracking string literals so braces inside values don't break the count.
func firstBalancedObject(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			if depth == 0 {
				start = i
			}
			depth++
		case ch == '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
