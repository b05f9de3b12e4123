package breakdown

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON pulls a JSON object out of a model response. Models wrap their
// output unpredictably, so three strategies are tried in order: parse the
// whole text, parse a fenced code block, then parse the first balanced
// object span.
func extractJSON(text string, out any) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("empty response")
	}
	if err := json.Unmarshal([]byte(trimmed), out); err == nil {
		return nil
	}
	if block, ok := fencedBlock(trimmed); ok {
		if err := json.Unmarshal([]byte(block), out); err == nil {
			return nil
		}
	}
	if span, ok := balancedObject(trimmed); ok {
		if err := json.Unmarshal([]byte(span), out); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no JSON object found in response")
}

func fencedBlock(text string) (string, bool) {
	start := strings.Index(text, "```json")
	offset := len("```json")
	if start == -1 {
		start = strings.Index(text, "```")
		offset = len("```")
	}
	if start == -1 {
		return "", false
	}
	rest := text[start+offset:]
	end := strings.Index(rest, "```")
	if end == -1 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// balancedObject finds the first top-level {...} span, ignoring braces inside
// string literals.
func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}
