// Package template provides {{variable}} substitution for user-facing text and
// outbound request fields.
package template

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/dukex/chatflow/pkg/models"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_\-]*(?:\.[A-Za-z0-9_\-]+)*)\s*\}\}`)

// NeedsTemplating reports whether input contains a placeholder.
func NeedsTemplating(input string) bool {
	return placeholder.MatchString(input)
}

// Interpolate replaces every {{path}} with the variable it names. Dotted
// paths walk nested maps and slices; unknown paths render as empty text.
func Interpolate(input string, vars models.Variables) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		val, ok := Lookup(vars, path)
		if !ok {
			return ""
		}

		switch val.(type) {
		case map[string]any, []any:
			raw, err := json.Marshal(val)
			if err != nil {
				return ""
			}

			return string(raw)
		default:
			return models.Stringify(val)
		}
	})
}

// Lookup resolves a dotted path against the variables.
func Lookup(vars models.Variables, path string) (any, bool) {
	parts := strings.Split(path, ".")

	current, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}

	for _, part := range parts[1:] {
		switch node := current.(type) {
		case map[string]any:
			current, ok = node[part]
			if !ok {
				return nil, false
			}
		case models.Variables:
			current, ok = node[part]
			if !ok {
				return nil, false
			}
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}

			current = node[idx]
		default:
			return nil, false
		}
	}

	return current, true
}

// Render interpolates input and coerces the result: JSON objects and arrays
// are decoded, numbers become float64 and booleans become bool. A value that
// is exactly one placeholder keeps the variable's own type.
func Render(input string, vars models.Variables) any {
	trimmed := strings.TrimSpace(input)
	if loc := placeholder.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		if val, ok := Lookup(vars, trimmed[loc[2]:loc[3]]); ok {
			return val
		}

		return ""
	}

	return Coerce(Interpolate(input, vars))
}

// Coerce converts rendered text into the most specific JSON-like value.
func Coerce(text string) any {
	result := strings.TrimSpace(text)

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any
		if err := json.Unmarshal([]byte(result), &jsonResult); err == nil {
			return jsonResult
		}

		return text
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num
	}

	if b, err := strconv.ParseBool(result); err == nil && (result == "true" || result == "false") {
		return b
	}

	return text
}

// RenderValue interpolates every string inside a config value, walking maps
// and slices. Non-string leaves are returned untouched.
func RenderValue(value any, vars models.Variables) any {
	switch v := value.(type) {
	case string:
		return Interpolate(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = RenderValue(item, vars)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = RenderValue(item, vars)
		}

		return out
	default:
		return value
	}
}
