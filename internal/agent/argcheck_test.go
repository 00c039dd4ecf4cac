package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var searchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
		"limit": map[string]any{"type": "integer", "minimum": 1},
	},
	"required": []any{"query"},
}

func TestArgValidator(t *testing.T) {
	v := NewArgValidator()

	assert.NoError(t, v.Validate("search", searchSchema, map[string]any{"query": "tent", "limit": float64(3)}))

	err := v.Validate("search", searchSchema, map[string]any{"limit": float64(3)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments for search")

	err = v.Validate("search", searchSchema, map[string]any{"query": "x", "limit": float64(0)})
	assert.Error(t, err)

	assert.Error(t, v.Validate("search", searchSchema, nil), "nil args are validated as an empty object")
	assert.Len(t, v.cache, 1)
}

func TestArgValidatorPermissive(t *testing.T) {
	var nilValidator *ArgValidator
	assert.NoError(t, nilValidator.Validate("x", searchSchema, nil))
	assert.NoError(t, NewArgValidator().Validate("x", nil, map[string]any{"anything": true}))
}

func TestArgValidatorBadSchema(t *testing.T) {
	err := NewArgValidator().Validate("weird", map[string]any{"type": 12}, map[string]any{})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "weird", se.Tool)
}
