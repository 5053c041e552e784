package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Units int    `json:"units"`
}

func TestParseDirect(t *testing.T) {
	var s sample
	require.NoError(t, ParseDirect("  {\"name\":\"Central Block\",\"units\":30}\n", &s))
	assert.Equal(t, "Central Block", s.Name)

	assert.Error(t, ParseDirect("Here you go: {\"name\":\"x\"}", &s))
}

func TestParseFenced(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"json_tag", "Result:\n```json\n{\"name\":\"A\",\"units\":1}\n```\nThanks", "A"},
		{"no_tag", "```\n{\"name\":\"B\"}\n```", "B"},
		{"inline", "```{\"name\":\"C\"}```", "C"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s sample
			require.NoError(t, ParseFenced(tt.text, &s))
			assert.Equal(t, tt.want, s.Name)
		})
	}

	var s sample
	assert.Error(t, ParseFenced("no fences here", &s))
	assert.Error(t, ParseFenced("```json\n{\"name\":", &s))
}

func TestParseBraceScan(t *testing.T) {
	var s sample
	text := `The project {"name":"Tower {North}","units":12} is listed. Also {"name":"other"}`
	require.NoError(t, ParseBraceScan(text, &s))
	assert.Equal(t, "Tower {North}", s.Name)
	assert.Equal(t, 12, s.Units)

	escaped := `prefix {"name":"quote \" and } brace","units":3} suffix`
	require.NoError(t, ParseBraceScan(escaped, &s))
	assert.Equal(t, `quote " and } brace`, s.Name)

	assert.Error(t, ParseBraceScan("{ unbalanced", &s))
	assert.Error(t, ParseBraceScan("nothing", &s))
}

func TestExtractJSON_FallbackChain(t *testing.T) {
	inputs := []string{
		`{"name":"Central Block","units":30}`,
		"```json\n{\"name\":\"Central Block\",\"units\":30}\n```",
		`Sure! Here is the data: {"name":"Central Block","units":30} Let me know.`,
	}
	for _, in := range inputs {
		var s sample
		require.NoError(t, ExtractJSON(in, &s), in)
		assert.Equal(t, "Central Block", s.Name)
		assert.Equal(t, 30, s.Units)
	}
}

func TestExtractJSON_AllStagesFail(t *testing.T) {
	var s sample
	for _, in := range []string{"", "   ", "I could not find any projects.", "{broken"} {
		assert.ErrorIs(t, ExtractJSON(in, &s), ErrNoJSON, in)
	}
}
