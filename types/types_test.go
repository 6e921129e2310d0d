package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	e := NewError(ErrNodeExecution, "node blew up").
		WithNode("fetch").
		WithCause(errors.New("connection reset"))

	assert.Equal(t, "[NODE_EXECUTION] node blew up: connection reset", e.Error())
	assert.Equal(t, "fetch", e.NodeID)
	assert.ErrorContains(t, e, "connection reset")

	bare := NewError(ErrValidation, "missing field")
	assert.Equal(t, "[VALIDATION] missing field", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := NewError(ErrStoreUnavailable, "save failed").WithCause(cause)

	assert.ErrorIs(t, e, cause)

	wrapped := fmt.Errorf("outer: %w", e)
	var fe *Error
	require.ErrorAs(t, wrapped, &fe)
	assert.Equal(t, ErrStoreUnavailable, fe.Code)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(NewError(ErrValidation, "bad")))
	assert.True(t, IsRetryable(NewError(ErrRateLimit, "throttled")))
	assert.True(t, IsRetryable(NewError(ErrTimeout, "slow").WithRetryable(true)))
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrTimeout, GetErrorCode(NewError(ErrTimeout, "deadline")))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
}

func TestSchemaValidate(t *testing.T) {
	t.Run("nil schema accepts anything", func(t *testing.T) {
		var s *JSONSchema
		assert.NoError(t, s.Validate(map[string]any{"x": 1}))
		assert.NoError(t, (&JSONSchema{}).Validate(42))
	})

	t.Run("scalar types", func(t *testing.T) {
		assert.NoError(t, (&JSONSchema{Type: SchemaTypeString}).Validate("ok"))
		assert.Error(t, (&JSONSchema{Type: SchemaTypeString}).Validate(1))
		assert.NoError(t, (&JSONSchema{Type: SchemaTypeBoolean}).Validate(true))
		assert.NoError(t, (&JSONSchema{Type: SchemaTypeNumber}).Validate(3.14))
		assert.NoError(t, (&JSONSchema{Type: SchemaTypeInteger}).Validate(7))
		assert.Error(t, (&JSONSchema{Type: SchemaTypeNumber}).Validate("3.14"))
		assert.NoError(t, (&JSONSchema{Type: SchemaTypeNull}).Validate(nil))
		assert.Error(t, (&JSONSchema{Type: SchemaTypeNull}).Validate(0))
	})

	t.Run("object required and properties", func(t *testing.T) {
		s := NewObjectSchema().
			WithProperty("query", &JSONSchema{Type: SchemaTypeString}).
			WithProperty("limit", &JSONSchema{Type: SchemaTypeInteger}).
			WithRequired("query")

		assert.NoError(t, s.Validate(map[string]any{"query": "q", "limit": 5}))
		assert.NoError(t, s.Validate(map[string]any{"query": "q", "extra": true}))

		err := s.Validate(map[string]any{"limit": 5})
		require.Error(t, err)
		assert.Equal(t, ErrSchemaMismatch, GetErrorCode(err))
		assert.ErrorContains(t, err, `"query"`)

		err = s.Validate(map[string]any{"query": "q", "limit": "five"})
		require.Error(t, err)
		assert.ErrorContains(t, err, `"limit"`)
	})

	t.Run("additionalProperties false", func(t *testing.T) {
		strict := false
		s := NewObjectSchema().
			WithProperty("a", &JSONSchema{Type: SchemaTypeString})
		s.AdditionalProperties = &strict

		assert.NoError(t, s.Validate(map[string]any{"a": "x"}))
		assert.Error(t, s.Validate(map[string]any{"a": "x", "b": 1}))
	})

	t.Run("array items", func(t *testing.T) {
		s := &JSONSchema{Type: SchemaTypeArray, Items: &JSONSchema{Type: SchemaTypeString}}
		assert.NoError(t, s.Validate([]any{"a", "b"}))

		err := s.Validate([]any{"a", 2})
		require.Error(t, err)
		assert.ErrorContains(t, err, "item 1")

		assert.Error(t, s.Validate("not an array"))
	})

	t.Run("enum", func(t *testing.T) {
		s := &JSONSchema{Type: SchemaTypeString, Enum: []any{"fast", "slow"}}
		assert.NoError(t, s.Validate("fast"))
		assert.Error(t, s.Validate("medium"))
	})
}

func TestEventContextMerge(t *testing.T) {
	base := EventContext{
		SessionID: "sess-1",
		Phase:     &PhaseScope{Name: "plan", Number: 1},
	}

	merged := base.Merge(EventContext{Task: &TaskScope{ID: "t-1"}})
	assert.Equal(t, "sess-1", merged.SessionID)
	assert.Equal(t, "plan", merged.Phase.Name)
	assert.Equal(t, "t-1", merged.Task.ID)

	// Override wins where set; base is untouched.
	merged = base.Merge(EventContext{Phase: &PhaseScope{Name: "exec", Number: 2}})
	assert.Equal(t, "exec", merged.Phase.Name)
	assert.Equal(t, "plan", base.Phase.Name)
	assert.Nil(t, base.Task)
}
