// Package jsonish implements a schemaless-tolerant parser for model output.
// It runs a cascade of increasingly forgiving parse strategies and returns
// whichever wins, along with a warnings log recording every repair it had
// to make.
package jsonish

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrEmptyInput is returned when the input is empty or null.
var ErrEmptyInput = errors.New("jsonish: empty input")

// Result is the output of Parse: the recovered value plus every fix the
// cascade applied to get there.
type Result struct {
	Value    any
	Warnings []string
	// Score records which cascade stage produced Value, for callers that
	// want to distinguish a clean strict-JSON parse from a salvage.
	Score int
}

// Parse runs the following cascade:
//  1. Strict JSON                               (score 100)
//  2. Fenced code block extraction               (score 90)
//  3. Balanced brace/bracket span extraction      (score 70-80)
//  4. Fixing parser (unquoted keys, trailing commas, ...) (score 10-50)
//  5. Raw string fallback                         (score 0)
//
// The first stage that yields a parse wins.
func Parse(input string) (*Result, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || trimmed == "null" {
		return nil, ErrEmptyInput
	}

	if v, ok := parseStrict(trimmed); ok {
		return &Result{Value: normalizeKeys(v), Warnings: nil, Score: 100}, nil
	}

	if span, ok := extractFencedBlock(input); ok {
		if v, ok := parseStrict(strings.TrimSpace(span)); ok {
			return &Result{Value: normalizeKeys(v), Warnings: []string{"extracted from fenced code block"}, Score: 90}, nil
		}
		// The fence wasn't strict JSON either; fall through to the fixer on
		// the narrower fenced span rather than the whole input.
		if res, ok := runFixer(span); ok {
			res.Warnings = append([]string{"extracted from fenced code block"}, res.Warnings...)
			return res, nil
		}
	}

	if spans := extractBalancedSpans(input); len(spans) > 0 {
		best, bestScore := spans[0], 70
		if len(spans) > 1 {
			// Prefer the longest span: more likely to be the "real" payload
			// rather than an incidental brace pair inside narrative text.
			for _, s := range spans[1:] {
				if len(s) > len(best) {
					best = s
				}
			}
		}
		if len(best) > 200 {
			bestScore = 80
		}
		if v, ok := parseStrict(best); ok {
			return &Result{Value: normalizeKeys(v), Warnings: []string{"extracted balanced span from narrative text"}, Score: bestScore}, nil
		}
		if res, ok := runFixer(best); ok {
			res.Warnings = append([]string{"extracted balanced span from narrative text"}, res.Warnings...)
			return res, nil
		}
	}

	if res, ok := runFixer(input); ok {
		return res, nil
	}

	return &Result{Value: input, Warnings: []string{"no structured value recovered; returning raw input"}, Score: 0}, nil
}

func parseStrict(s string) (any, bool) {
	if !gjson.Valid(s) {
		return false, false
	}
	if normalized, ok := normalizeRawKeys(s); ok {
		s = normalized
	}
	return decodeGJSON(gjson.Parse(s)), true
}

func decodeGJSON(r gjson.Result) any {
	switch r.Type {
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Null:
		return nil
	case gjson.Number:
		return r.Num
	case gjson.String:
		return r.Str
	case gjson.JSON:
		if r.IsArray() {
			out := make([]any, 0)
			r.ForEach(func(_, v gjson.Result) bool {
				out = append(out, decodeGJSON(v))
				return true
			})
			return out
		}
		out := make(map[string]any)
		r.ForEach(func(k, v gjson.Result) bool {
			out[k.String()] = decodeGJSON(v)
			return true
		})
		return out
	default:
		return r.Value()
	}
}

// normalizeKeys walks the decoded value and rewrites every snake_case map
// key to kebab-case, so callers see a single consistent key style
// regardless of how the model spelled its field names.
func normalizeKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[snakeToKebab(k)] = normalizeKeys(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeKeys(val)
		}
		return out
	default:
		return v
	}
}

func snakeToKebab(s string) string {
	return strings.ReplaceAll(s, "_", "-")
}
