package jsonish

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_StrictJSON_RoundTrips(t *testing.T) {
	res, err := Parse(`{"answer": "4", "confidence": 0.9}`)
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 100, res.Score)

	m, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "4", m["answer"])
}

func TestParse_EmptyInput(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = Parse("null")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestParse_FencedCodeBlock(t *testing.T) {
	input := "Sure, here's the answer:\n```json\n{\"answer\": \"42\"}\n```\nHope that helps."
	res, err := Parse(input)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)

	m, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "42", m["answer"])
}

func TestParse_BalancedSpanInNarrative(t *testing.T) {
	input := `The result is {"value": 1} as computed.`
	res, err := Parse(input)
	require.NoError(t, err)
	m, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, m["value"])
}

func TestParse_FixingParser_UnquotedKeysAndTrailingComma(t *testing.T) {
	input := `{answer: 'yes', confident: True, extra: None,}`
	res, err := Parse(input)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Warnings)

	m, ok := res.Value.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "yes", m["answer"])
	assert.Equal(t, true, m["confident"])
	assert.Nil(t, m["extra"])
}

func TestParse_KeyNormalization_SnakeToKebab(t *testing.T) {
	res, err := Parse(`{"final_answer": "x"}`)
	require.NoError(t, err)
	m := res.Value.(map[string]any)
	_, hasKebab := m["final-answer"]
	assert.True(t, hasKebab)
}

func TestParse_RawFallback(t *testing.T) {
	res, err := Parse("not json at all, just prose")
	require.NoError(t, err)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, "not json at all, just prose", res.Value)
}
