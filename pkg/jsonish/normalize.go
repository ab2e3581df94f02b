package jsonish

import (
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// normalizeRawKeys rewrites every snake_case object key in raw JSON text to
// kebab-case using sjson.SetRaw, working on the raw text rather than a
// decoded value so the result can be re-parsed with gjson untouched. raw
// must already be valid JSON; ok is false if it isn't or the rewrite fails,
// in which case callers should fall back to the original text.
func normalizeRawKeys(raw string) (string, bool) {
	if !gjson.Valid(raw) {
		return raw, false
	}
	out, err := normalizeRawValue(gjson.Parse(raw))
	if err != nil {
		return raw, false
	}
	return out, true
}

func normalizeRawValue(r gjson.Result) (string, error) {
	switch {
	case r.IsObject():
		acc := "{}"
		var err error
		r.ForEach(func(key, val gjson.Result) bool {
			var childRaw string
			if childRaw, err = normalizeRawValue(val); err != nil {
				return false
			}
			acc, err = sjson.SetRaw(acc, snakeToKebab(key.String()), childRaw)
			return err == nil
		})
		if err != nil {
			return "", err
		}
		return acc, nil
	case r.IsArray():
		acc := "[]"
		i := 0
		var err error
		r.ForEach(func(_, val gjson.Result) bool {
			var childRaw string
			if childRaw, err = normalizeRawValue(val); err != nil {
				return false
			}
			acc, err = sjson.SetRaw(acc, strconv.Itoa(i), childRaw)
			i++
			return err == nil
		})
		if err != nil {
			return "", err
		}
		return acc, nil
	default:
		return r.Raw, nil
	}
}
