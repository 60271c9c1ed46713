package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchArgs struct {
	Question string `json:"question" description:"what to look up"`
	TopK     int    `json:"topK,omitempty" minimum:"1" maximum:"5"`
	Category string `json:"category,omitempty" enum:"course,policy"`
}

func TestCreateSchema(t *testing.T) {
	schema := CreateSchema(searchArgs{})

	assert.Equal(t, "object", schema["type"])
	assert.Equal(t, []string{"question"}, schema["required"])

	props := schema["properties"].(map[string]any)
	q := props["question"].(map[string]any)
	assert.Equal(t, "string", q["type"])
	assert.Equal(t, "what to look up", q["description"])

	k := props["topK"].(map[string]any)
	assert.Equal(t, "integer", k["type"])
	assert.Equal(t, 5.0, k["maximum"])

	c := props["category"].(map[string]any)
	assert.Equal(t, []string{"course", "policy"}, c["enum"])

	list := CreateSchema(struct {
		Scores []float64 `json:"scores"`
	}{})["properties"].(map[string]any)["scores"].(map[string]any)
	assert.Equal(t, "array", list["type"])
	assert.Equal(t, map[string]any{"type": "number"}, list["items"])
}

func TestValidateParameters(t *testing.T) {
	schema := CreateSchema(searchArgs{})

	tests := []struct {
		name   string
		params map[string]any
		field  string
	}{
		{"ok", map[string]any{"question": "q", "topK": 3.0}, ""},
		{"missing required", map[string]any{"topK": 3.0}, "question"},
		{"wrong type", map[string]any{"question": 1.0}, "question"},
		{"fractional integer", map[string]any{"question": "q", "topK": 2.5}, "topK"},
		{"above maximum", map[string]any{"question": "q", "topK": 9.0}, "topK"},
		{"bad enum", map[string]any{"question": "q", "category": "food"}, "category"},
		{"extra field allowed", map[string]any{"question": "q", "other": true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.params, schema)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestValidateParameters_DecodedRequired(t *testing.T) {
	schema := map[string]any{"required": []any{"a"}, "properties": map[string]any{}}
	assert.Error(t, ValidateParameters(map[string]any{}, schema))
	assert.NoError(t, ValidateParameters(map[string]any{"a": 1}, schema))
}

func TestRenderTemplate(t *testing.T) {
	out, err := RenderTemplate("plain <b>text</b>", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain <b>text</b>", out)

	out, err = RenderTemplate(`Tools: {{join ", " .Tools}} for {{default "student" .User}} & co`, map[string]any{
		"Tools": []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tools: a, b for student & co", out)

	_, err = RenderTemplate("{{.Broken", nil)
	assert.Error(t, err)
}
