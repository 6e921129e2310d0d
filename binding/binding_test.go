package binding

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/flowkit/types"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx := NewContext(map[string]any{
		"query": "hello",
		"limit": 3,
	})
	ctx.SetOutput("fetch", map[string]any{
		"items": []any{"a", "b", "c"},
		"count": float64(3),
	})
	return ctx
}

func TestLookup(t *testing.T) {
	ctx := newTestContext(t)

	t.Run("flow input", func(t *testing.T) {
		v, err := ctx.Lookup("flow.input.query")
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	})

	t.Run("node output", func(t *testing.T) {
		v, err := ctx.Lookup("fetch.count")
		require.NoError(t, err)
		assert.Equal(t, float64(3), v)
	})

	t.Run("slice index", func(t *testing.T) {
		v, err := ctx.Lookup("fetch.items.1")
		require.NoError(t, err)
		assert.Equal(t, "b", v)
	})

	t.Run("missing node", func(t *testing.T) {
		_, err := ctx.Lookup("absent.value")
		require.Error(t, err)
		assert.Equal(t, types.ErrMissingBinding, types.GetErrorCode(err))

		var fe *types.Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, "absent.value", fe.Path)
	})

	t.Run("missing segment", func(t *testing.T) {
		_, err := ctx.Lookup("fetch.items.9")
		require.Error(t, err)
		assert.Equal(t, types.ErrMissingBinding, types.GetErrorCode(err))
	})

	t.Run("vars shadow outputs", func(t *testing.T) {
		fork := ctx.Fork(map[string]any{"fetch": "shadowed"})
		v, err := fork.Lookup("fetch")
		require.NoError(t, err)
		assert.Equal(t, "shadowed", v)
	})
}

func TestResolve(t *testing.T) {
	ctx := newTestContext(t)

	t.Run("whole placeholder keeps type", func(t *testing.T) {
		v, err := Resolve("{{fetch.count}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, float64(3), v)
	})

	t.Run("embedded placeholder stringifies", func(t *testing.T) {
		v, err := Resolve("found {{fetch.count}} for {{flow.input.query}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, "found 3 for hello", v)
	})

	t.Run("two placeholders never keep type", func(t *testing.T) {
		v, err := Resolve("{{fetch.count}}{{fetch.count}}", ctx)
		require.NoError(t, err)
		assert.Equal(t, "33", v)
	})

	t.Run("structural recursion", func(t *testing.T) {
		v, err := Resolve(map[string]any{
			"q":     "{{flow.input.query}}",
			"items": []any{"{{fetch.items.0}}", "literal"},
			"n":     42,
		}, ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]any{
			"q":     "hello",
			"items": []any{"a", "literal"},
			"n":     42,
		}, v)
	})

	t.Run("missing path fails the whole resolve", func(t *testing.T) {
		_, err := Resolve(map[string]any{"v": "{{nope}}"}, ctx)
		require.Error(t, err)
		assert.Equal(t, types.ErrMissingBinding, types.GetErrorCode(err))
	})

	t.Run("non-placeholder passes through", func(t *testing.T) {
		v, err := Resolve("plain text", ctx)
		require.NoError(t, err)
		assert.Equal(t, "plain text", v)
	})
}

func TestForkIsolation(t *testing.T) {
	parent := newTestContext(t)
	fork := parent.Fork(map[string]any{"item": "x"})

	fork.SetOutput("child", "value")
	_, ok := parent.Output("child")
	assert.False(t, ok, "fork writes must not reach the parent")

	_, err := parent.Lookup("item")
	assert.Error(t, err, "fork vars must not leak into the parent")
}

func TestWhenExpr(t *testing.T) {
	ctx := NewContext(map[string]any{"mode": "fast", "n": 3})

	t.Run("equals with placeholder var", func(t *testing.T) {
		w := &WhenExpr{Equals: &EqualsExpr{Var: "{{flow.input.mode}}", Value: "fast"}}
		require.NoError(t, w.Validate())
		ok, err := w.Eval(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("numeric looseness", func(t *testing.T) {
		w := &WhenExpr{Equals: &EqualsExpr{Var: "flow.input.n", Value: float64(3)}}
		ok, err := w.Eval(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("not and or", func(t *testing.T) {
		w := &WhenExpr{
			Or: []*WhenExpr{
				{Equals: &EqualsExpr{Var: "flow.input.mode", Value: "slow"}},
				{Not: &WhenExpr{Equals: &EqualsExpr{Var: "flow.input.n", Value: 99}}},
			},
		}
		require.NoError(t, w.Validate())
		ok, err := w.Eval(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("nil is vacuously true", func(t *testing.T) {
		var w *WhenExpr
		ok, err := w.Eval(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("validate rejects multiple branches", func(t *testing.T) {
		w := &WhenExpr{
			Equals: &EqualsExpr{Var: "a", Value: 1},
			Not:    &WhenExpr{Equals: &EqualsExpr{Var: "b", Value: 2}},
		}
		assert.Error(t, w.Validate())
	})

	t.Run("validate rejects empty", func(t *testing.T) {
		assert.Error(t, (&WhenExpr{}).Validate())
	})

	t.Run("missing var is an error", func(t *testing.T) {
		w := &WhenExpr{Equals: &EqualsExpr{Var: "ghost", Value: 1}}
		_, err := w.Eval(ctx)
		assert.Error(t, err)
	})
}

// Resolve must never mutate its input, whatever shape it takes.
func TestResolveDoesNotMutateInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		key := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "key")
		literal := rapid.String().Draw(t, "literal")
		input := map[string]any{
			key:     literal,
			"ref":   "{{flow.input.seed}}",
			"items": []any{literal, "{{flow.input.seed}}"},
		}
		seed := rapid.Int().Draw(t, "seed")
		ctx := NewContext(map[string]any{"seed": seed})

		resolved, err := Resolve(input, ctx)
		require.NoError(t, err)

		// Original still holds the raw placeholder.
		assert.Equal(t, "{{flow.input.seed}}", input["ref"])
		assert.Equal(t, "{{flow.input.seed}}", input["items"].([]any)[1])

		// Whole placeholders keep the looked-up value's type.
		out := resolved.(map[string]any)
		assert.Equal(t, seed, out["ref"])
	})
}

func TestContextConcurrentForkAndMerge(t *testing.T) {
	parent := NewContext(map[string]any{"seed": 1})
	parent.SetOutput("root", map[string]any{"v": 0})

	// Fan-out iterations fork the shared parent while finished siblings
	// merge their outputs back into it.
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				fork := parent.Fork(map[string]any{"item": w})
				v, err := fork.Lookup("item")
				assert.NoError(t, err)
				assert.Equal(t, w, v)

				fork.SetOutput("child", map[string]any{"n": i})
				parent.SetOutput(fmt.Sprintf("worker-%d", w), map[string]any{"last": i})
				_, _ = parent.Output("root")
				_, _ = parent.Lookup("root.v")
			}
		}(w)
	}
	wg.Wait()

	outs := parent.Outputs()
	assert.Len(t, outs, 9)
	for w := 0; w < 8; w++ {
		assert.Contains(t, outs, fmt.Sprintf("worker-%d", w))
	}
}
