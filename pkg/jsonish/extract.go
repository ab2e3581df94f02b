package jsonish

import "strings"

// extractFencedBlock finds the first triple-back-tick fenced span,
// stripping an optional language tag.
func extractFencedBlock(s string) (string, bool) {
	const fence = "```"
	start := strings.Index(s, fence)
	if start == -1 {
		return "", false
	}
	rest := s[start+len(fence):]
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	body := rest[:end]

	// Strip a leading language tag: everything up to the first newline,
	// if that prefix contains no structural JSON characters.
	if nl := strings.IndexByte(body, '\n'); nl != -1 {
		tag := strings.TrimSpace(body[:nl])
		if tag != "" && !strings.ContainsAny(tag, "{[\"") {
			body = body[nl+1:]
		}
	}
	return body, true
}

// extractBalancedSpans scans the input for every top-level balanced
// {...} or [...] occurrence, respecting string-quoted braces/brackets.
func extractBalancedSpans(s string) []string {
	var spans []string
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		c := runes[i]
		if c == '{' || c == '[' {
			open, close := c, matchingClose(c)
			depth := 0
			inString := false
			var escape bool
			j := i
			for ; j < len(runes); j++ {
				rc := runes[j]
				if inString {
					if escape {
						escape = false
						continue
					}
					if rc == '\\' {
						escape = true
						continue
					}
					if rc == '"' {
						inString = false
					}
					continue
				}
				switch rc {
				case '"':
					inString = true
				case open:
					depth++
				case close:
					depth--
					if depth == 0 {
						spans = append(spans, string(runes[i:j+1]))
						i = j
					}
				}
				if depth == 0 && rc == close {
					break
				}
			}
		}
		i++
	}
	return spans
}

func matchingClose(open rune) rune {
	if open == '{' {
		return '}'
	}
	return ']'
}
