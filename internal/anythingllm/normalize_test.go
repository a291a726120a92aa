package anythingllm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTextResponseVariant(t *testing.T) {
	raw := map[string]any{
		"textResponse": "hello",
		"sources": []any{
			map[string]any{"title": "Doc A", "url": "https://example.com/a"},
			map[string]any{"title": "Doc B"},
		},
		"suggestedQuestions": []any{"q1", "q2"},
	}

	got, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	require.Len(t, got.Sources, 2)
	assert.Equal(t, Source{Title: "Doc A", URL: "https://example.com/a"}, got.Sources[0])
	assert.Equal(t, []string{"q1", "q2"}, got.Suggestions)
}

func TestNormalizeTextVariant(t *testing.T) {
	got, err := Normalize(map[string]any{
		"text":        "plain",
		"suggestions": []any{"alt"},
	})
	require.NoError(t, err)
	assert.Equal(t, "plain", got.Text)
	assert.Equal(t, []string{"alt"}, got.Suggestions)
}

func TestNormalizeWrappedDataVariant(t *testing.T) {
	got, err := Normalize(map[string]any{
		"data": map[string]any{
			"text": "wrapped",
			"sources": []any{
				map[string]any{"title": "inner", "url": "u"},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wrapped", got.Text)
	require.Len(t, got.Sources, 1)
	assert.Equal(t, "inner", got.Sources[0].Title)
}

func TestNormalizePrecedence(t *testing.T) {
	// textResponse wins over text and data.text
	got, err := Normalize(map[string]any{
		"textResponse": "primary",
		"text":         "secondary",
		"data":         map[string]any{"text": "tertiary"},
	})
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Text)

	// suggestedQuestions wins over suggestions
	got, err = Normalize(map[string]any{
		"text":               "x",
		"suggestedQuestions": []any{"a"},
		"suggestions":        []any{"b"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Suggestions)
}

func TestNormalizeUnknownShape(t *testing.T) {
	_, err := Normalize(map[string]any{"unexpected": "field"})
	assert.ErrorIs(t, err, ErrUnknownShape)

	_, err = Normalize(map[string]any{"textResponse": ""})
	assert.ErrorIs(t, err, ErrUnknownShape)
}
