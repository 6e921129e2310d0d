package binding

import (
	"fmt"
	"strings"
)

// Resolve substitutes every {{path}} placeholder inside value against ctx.
// Maps and slices are walked structurally; other values pass through
// untouched. A string that is exactly one placeholder resolves to the
// underlying typed value, otherwise each placeholder is stringified in
// place. The input is never mutated.
func Resolve(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := Resolve(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

func resolveString(s string, ctx *Context) (any, error) {
	// Whole-string placeholder keeps the typed value.
	if path, ok := wholePlaceholder(s); ok {
		return ctx.Lookup(path)
	}

	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		end += start
		b.WriteString(rest[:start])
		path := strings.TrimSpace(rest[start+2 : end])
		value, err := ctx.Lookup(path)
		if err != nil {
			return nil, err
		}
		b.WriteString(stringify(value))
		rest = rest[end+2:]
	}
}

// wholePlaceholder reports whether s is exactly one {{path}} expression.
func wholePlaceholder(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{{") || !strings.HasSuffix(trimmed, "}}") {
		return "", false
	}
	inner := trimmed[2 : len(trimmed)-2]
	// Reject "{{a}} and {{b}}": the first close brace must be the final one.
	if strings.Contains(inner, "}}") || strings.Contains(inner, "{{") {
		return "", false
	}
	return strings.TrimSpace(inner), true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// Avoid the %!v(float64) exponent form for whole numbers.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
