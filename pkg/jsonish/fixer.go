package jsonish

import (
	"regexp"
	"strconv"
	"strings"

	json5 "github.com/titanous/json5"
)

// runFixer repairs the common ways model output deviates from strict
// JSON: unquoted keys, unquoted bare-word string values, trailing commas,
// single quotes, and Python-style True/False/None. JSON5 is a strict
// superset of most of these, so the fixer tries a JSON5 parse first
// (recording that as a single fix) and only falls back to the hand-rolled
// reductions below for spans JSON5 still rejects (e.g. Python's True/None
// casing, which JSON5 does not accept).
func runFixer(input string) (*Result, bool) {
	candidate := strings.TrimSpace(input)
	if candidate == "" {
		return nil, false
	}

	var warnings []string

	if v, ok := tryJSON5(candidate); ok {
		warnings = append(warnings, "accepted via JSON5-tolerant grammar (unquoted keys/trailing commas/single quotes)")
		return &Result{Value: normalizeKeys(v), Warnings: warnings, Score: 50}, true
	}

	fixed, fixWarnings := applyTextualFixes(candidate)
	warnings = append(warnings, fixWarnings...)

	if v, ok := tryJSON5(fixed); ok {
		return &Result{Value: normalizeKeys(v), Warnings: warnings, Score: scoreForFixCount(len(warnings))}, true
	}
	if v, ok := parseStrict(fixed); ok {
		return &Result{Value: normalizeKeys(v), Warnings: warnings, Score: scoreForFixCount(len(warnings))}, true
	}

	return nil, false
}

func tryJSON5(s string) (any, bool) {
	var v any
	if err := json5.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// scoreForFixCount maps the number of textual fixes applied onto the
// 10-50 confidence range for a fixer-salvaged parse: more fixes needed
// means a lower-confidence salvage.
func scoreForFixCount(n int) int {
	score := 50 - n*10
	if score < 10 {
		score = 10
	}
	return score
}

var (
	pyTrue      = regexp.MustCompile(`\bTrue\b`)
	pyFalse     = regexp.MustCompile(`\bFalse\b`)
	pyNone      = regexp.MustCompile(`\bNone\b`)
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	bareValue   = regexp.MustCompile(`(:\s*)([A-Za-z_][A-Za-z0-9_-]*)(\s*[,}\]])`)
)

// applyTextualFixes performs the reductions JSON5 itself does not cover:
// Python-style True/False/None and unquoted bare-word string values. It
// also strips trailing commas so that the strict-JSON retry in runFixer
// can accept the result. Each applied reduction is logged as a named fix
// so callers can see exactly what was salvaged.
func applyTextualFixes(s string) (string, []string) {
	var warnings []string

	if pyTrue.MatchString(s) {
		s = pyTrue.ReplaceAllString(s, "true")
		warnings = append(warnings, "normalized Python True to true")
	}
	if pyFalse.MatchString(s) {
		s = pyFalse.ReplaceAllString(s, "false")
		warnings = append(warnings, "normalized Python False to false")
	}
	if pyNone.MatchString(s) {
		s = pyNone.ReplaceAllString(s, "null")
		warnings = append(warnings, "normalized Python None to null")
	}
	if bareValue.MatchString(s) {
		quoted := false
		s = bareValue.ReplaceAllStringFunc(s, func(m string) string {
			sub := bareValue.FindStringSubmatch(m)
			if !bareWordValue(sub[2]) {
				return m
			}
			quoted = true
			return sub[1] + strconv.Quote(sub[2]) + sub[3]
		})
		if quoted {
			warnings = append(warnings, "quoted bare-word string value")
		}
	}
	if trailingComma.MatchString(s) {
		s = trailingComma.ReplaceAllString(s, "$1")
		warnings = append(warnings, "removed trailing comma")
	}

	return s, warnings
}

// bareWordValue reports whether s looks like an unquoted bare-word string
// value (a run of identifier characters that isn't a JSON literal or
// number); applyTextualFixes quotes only the object values it accepts.
func bareWordValue(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || s == "true" || s == "false" || s == "null" {
		return false
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
