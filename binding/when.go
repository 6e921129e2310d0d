package binding

import (
	"fmt"
	"strings"

	"github.com/BaSui01/flowkit/types"
)

// EqualsExpr compares the value at Var against a literal.
type EqualsExpr struct {
	Var   string `yaml:"var" json:"var"`
	Value any    `yaml:"value" json:"value"`
}

// WhenExpr is a small boolean expression tree evaluated against a binding
// context. Exactly one branch must be set.
type WhenExpr struct {
	Equals *EqualsExpr `yaml:"equals,omitempty" json:"equals,omitempty"`
	Not    *WhenExpr   `yaml:"not,omitempty" json:"not,omitempty"`
	And    []*WhenExpr `yaml:"and,omitempty" json:"and,omitempty"`
	Or     []*WhenExpr `yaml:"or,omitempty" json:"or,omitempty"`
}

// Validate checks that the expression tree is well-formed.
func (w *WhenExpr) Validate() error {
	if w == nil {
		return nil
	}
	set := 0
	if w.Equals != nil {
		set++
	}
	if w.Not != nil {
		set++
		if err := w.Not.Validate(); err != nil {
			return err
		}
	}
	if len(w.And) > 0 {
		set++
		for _, sub := range w.And {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	}
	if len(w.Or) > 0 {
		set++
		for _, sub := range w.Or {
			if err := sub.Validate(); err != nil {
				return err
			}
		}
	}
	if set != 1 {
		return types.NewError(types.ErrValidation, fmt.Sprintf("when expression must set exactly one of equals/not/and/or, got %d", set))
	}
	return nil
}

// Eval evaluates the expression. And/Or short-circuit. A nil expression is
// vacuously true so optional `when` fields gate nothing when absent.
func (w *WhenExpr) Eval(ctx *Context) (bool, error) {
	if w == nil {
		return true, nil
	}
	switch {
	case w.Equals != nil:
		value, err := ctx.Lookup(normalizeVar(w.Equals.Var))
		if err != nil {
			return false, err
		}
		return looseEqual(value, w.Equals.Value), nil
	case w.Not != nil:
		inner, err := w.Not.Eval(ctx)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case len(w.And) > 0:
		for _, sub := range w.And {
			ok, err := sub.Eval(ctx)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	case len(w.Or) > 0:
		for _, sub := range w.Or {
			ok, err := sub.Eval(ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, types.NewError(types.ErrValidation, "empty when expression")
	}
}

// normalizeVar accepts both bare paths and {{path}} placeholder syntax in
// the var position.
func normalizeVar(v string) string {
	trimmed := strings.TrimSpace(v)
	if path, ok := wholePlaceholder(trimmed); ok {
		return path
	}
	return trimmed
}

// looseEqual compares scalars across the numeric types YAML and JSON
// decoders produce (int vs float64 in particular).
func looseEqual(a, b any) bool {
	if a == b {
		return true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}
