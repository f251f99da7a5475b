package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/schoolintel/pkg/types"
)

const threeStarters = `{
  "conversation_starters": [
    {"topic": "Agency spend", "detail": "You spend £102 per pupil on agency staff.", "source": "FBIT", "relevance_score": 0.95},
    {"topic": "Ofsted journey", "detail": "Congratulations on the Outstanding rating.", "relevance_score": 0.7},
    {"topic": "Leadership", "detail": "Ms Holness has led the centre for years."}
  ],
  "summary": "A nursery school in Camden.",
  "sales_priority": "HIGH"
}`

func TestParseStarterResponse_Valid(t *testing.T) {
	res, skipped, err := ParseStarterResponse(threeStarters)
	require.NoError(t, err)
	assert.Empty(t, skipped)
	require.Len(t, res.Items, 3)

	assert.Equal(t, "Agency spend", res.Items[0].Topic)
	assert.Equal(t, "FBIT", res.Items[0].Source)
	assert.InDelta(t, 0.95, res.Items[0].RelevanceScore, 1e-9)
	assert.InDelta(t, DefaultRelevanceScore, res.Items[2].RelevanceScore, 1e-9)
	assert.Equal(t, "A nursery school in Camden.", res.Summary)
	assert.Equal(t, types.PriorityHigh, res.Priority)
}

func TestParseStarterResponse_DropsMalformedItem(t *testing.T) {
	raw := `{
  "conversation_starters": [
    {"topic": "One", "detail": "First."},
    {"topic": "Two", "relevance_score": 1.7},
    {"topic": "Three", "detail": "Third."},
    {"topic": "Four", "detail": "Fourth."}
  ],
  "sales_priority": "LOW"
}`
	res, skipped, err := ParseStarterResponse(raw)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	require.Len(t, skipped, 1)
	assert.Equal(t, 1, skipped[0].Index)
	assert.NotEmpty(t, skipped[0].Reason)
	assert.Equal(t, []string{"One", "Three", "Four"}, []string{res.Items[0].Topic, res.Items[1].Topic, res.Items[2].Topic})
}

func TestParseStarterResponse_OneBadAmongThree(t *testing.T) {
	raw := `{"conversation_starters": [
		{"topic": "A", "detail": "a"},
		"not an object",
		{"topic": "C", "detail": "c"}
	], "sales_priority": "MEDIUM"}`
	res, skipped, err := ParseStarterResponse(raw)
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Len(t, skipped, 1)
}

func TestParseStarterResponse_ItemRules(t *testing.T) {
	tests := []struct {
		name  string
		item  string
		valid bool
	}{
		{"minimal", `{"topic":"t","detail":"d"}`, true},
		{"null source", `{"topic":"t","detail":"d","source":null}`, true},
		{"score at bounds", `{"topic":"t","detail":"d","relevance_score":1}`, true},
		{"missing topic", `{"detail":"d"}`, false},
		{"empty detail", `{"topic":"t","detail":""}`, false},
		{"blank detail", `{"topic":"t","detail":"   "}`, false},
		{"negative score", `{"topic":"t","detail":"d","relevance_score":-0.1}`, false},
		{"score as string", `{"topic":"t","detail":"d","relevance_score":"high"}`, false},
		{"numeric topic", `{"topic":3,"detail":"d"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, skipped, err := ParseStarterResponse(`{"conversation_starters":[` + tt.item + `]}`)
			require.NoError(t, err)
			if tt.valid {
				assert.Len(t, res.Items, 1)
				assert.Empty(t, skipped)
			} else {
				assert.Empty(t, res.Items)
				assert.Len(t, skipped, 1)
			}
		})
	}
}

func TestParseStarterResponse_Envelope(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I cannot help with that."},
		{"missing array", `{"summary": "x", "sales_priority": "HIGH"}`},
		{"array is object", `{"conversation_starters": {"topic": "x"}}`},
		{"truncated", `{"conversation_starters": [{"topic": "x"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseStarterResponse(tt.raw)
			assert.ErrorIs(t, err, ErrInvalidResponse)
		})
	}
}

func TestParseStarterResponse_PriorityDefaults(t *testing.T) {
	tests := []struct {
		raw  string
		want types.Priority
	}{
		{`{"conversation_starters": []}`, types.PriorityMedium},
		{`{"conversation_starters": [], "sales_priority": "urgent"}`, types.PriorityMedium},
		{`{"conversation_starters": [], "sales_priority": "UNKNOWN"}`, types.PriorityMedium},
		{`{"conversation_starters": [], "sales_priority": " low "}`, types.PriorityLow},
	}
	for _, tt := range tests {
		res, _, err := ParseStarterResponse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, res.Priority, tt.raw)
		assert.NotNil(t, res.Items)
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Here you go: {"a":{"b":2}} hope it helps`, `{"a":{"b":2}}`},
		{"brace in string", `{"a":"}{"} trailing`, `{"a":"}{"}`},
		{"escaped quote", `{"a":"say \"hi\" }"}`, `{"a":"say \"hi\" }"}`},
		{"no object", `nothing here`, `nothing here`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractJSON(tt.in))
		})
	}
}

func TestParseStarterResponse_Fenced(t *testing.T) {
	res, _, err := ParseStarterResponse("```json\n" + threeStarters + "\n```")
	require.NoError(t, err)
	assert.Len(t, res.Items, 3)
}
