// Package interpret extracts typed payloads from free-form narrative engine
// output. Orchestration code only ever sees a decoded result or a
// deterministic fallback, never raw text.
package interpret

import "strings"

// jsonCandidates scans s for top-level JSON object candidates, handling
// nested braces and string escapes with a byte-level state machine. ASCII
// delimiters are safe to match on raw bytes because UTF-8 never embeds them
// in multi-byte sequences.
func jsonCandidates(s string) []string {
	var (
		candidates []string
		depth      int
		start      = -1
		inString   bool
		escape     bool
	)

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}

// stripFences removes markdown code fences so fenced JSON is scanned as
// plain text. Models wrap structured payloads in ```json blocks often
// enough that this runs before candidate extraction.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
