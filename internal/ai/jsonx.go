package ai

import (
	"encoding/json"
	"strings"
)

// decodeLLMObject strips markdown fences and decodes the first balanced
// JSON object found in resp into v.
func decodeLLMObject(resp string, v interface{}) error {
	cleaned := strings.TrimSpace(resp)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	if obj, ok := extractFirstJSONObject(cleaned); ok {
		cleaned = obj
	}
	return json.Unmarshal([]byte(cleaned), v)
}

// extractFirstJSONObject finds the first outermost balanced {...}.
func extractFirstJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	if start == -1 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
