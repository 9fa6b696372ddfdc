package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSchema(t *testing.T) {
	type args struct {
		Pattern string  `json:"pattern" description:"Regular expression"`
		Limit   int     `json:"limit,omitempty"`
		Ratio   float64 `json:"ratio"`
		Deep    *bool   `json:"deep"`
		Ignored string  `json:"-"`
	}

	schema := CreateSchema(args{})
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "pattern")
	assert.Contains(t, props, "limit")
	assert.Contains(t, props, "ratio")
	assert.Contains(t, props, "deep")
	assert.NotContains(t, props, "Ignored")

	pattern := props["pattern"].(map[string]any)
	assert.Equal(t, "string", pattern["type"])
	assert.Equal(t, "Regular expression", pattern["description"])
	assert.Equal(t, "integer", props["limit"].(map[string]any)["type"])
	assert.Equal(t, "number", props["ratio"].(map[string]any)["type"])
	assert.Equal(t, "boolean", props["deep"].(map[string]any)["type"])

	// omitempty and pointer fields are optional
	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"pattern", "ratio"}, required)
}

func TestCreateSchema_NonStruct(t *testing.T) {
	schema := CreateSchema("not a struct")
	assert.Equal(t, "object", schema["type"])
	assert.Empty(t, schema["properties"])
}

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string"},
			"count": map[string]any{"type": "integer"},
		},
		"required": []string{"name"},
	}

	assert.NoError(t, ValidateParameters(map[string]any{"name": "x"}, schema))
	// JSON numbers arrive as float64
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x", "count": float64(3)}, schema))
	// extra unknown keys pass through
	assert.NoError(t, ValidateParameters(map[string]any{"name": "x", "extra": true}, schema))

	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	err = ValidateParameters(map[string]any{"name": "x", "count": 3.5}, schema)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "count", verr.Field)
}

func TestValidateParameters_RequiredFromJSON(t *testing.T) {
	// schemas round-tripped through JSON carry required as []any
	schema := map[string]any{
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}
	err := ValidateParameters(map[string]any{}, schema)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)
}
