package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStarterPrompt(t *testing.T) {
	p, err := RenderStarterPrompt("SCHOOL PROFILE\n- Name: Thomas Coram Centre\n", 3)
	require.NoError(t, err)

	assert.Equal(t, StarterSystemPrompt, p.System)
	assert.Contains(t, p.System, "High agency spend")
	assert.Contains(t, p.Human, "generate 3 personalized conversation starters")
	assert.Contains(t, p.Human, "- Name: Thomas Coram Centre")
	assert.Contains(t, p.Human, `"conversation_starters": [`)
	assert.Contains(t, p.Human, `"sales_priority"`)
	assert.NotContains(t, p.Human, "%!")
}

func TestRenderStarterPrompt_Deterministic(t *testing.T) {
	a, err := RenderStarterPrompt("ctx", 5)
	require.NoError(t, err)
	b, err := RenderStarterPrompt("ctx", 5)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRenderStarterPrompt_InvalidCount(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := RenderStarterPrompt("ctx", n)
		assert.Error(t, err, "count %d", n)
	}

	// No upper clamp at this layer.
	p, err := RenderStarterPrompt("ctx", 50)
	require.NoError(t, err)
	assert.Contains(t, p.Human, "generate 50 personalized")
}

func TestRenderSummaryPrompt(t *testing.T) {
	p := RenderSummaryPrompt("  some context  ")
	assert.Equal(t, SummarySystemPrompt, p.System)
	assert.Contains(t, p.Human, "2-sentence summary")
	assert.Contains(t, p.Human, "\nsome context\n")
}
