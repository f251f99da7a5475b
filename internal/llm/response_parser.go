package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/scrypster/schoolintel/pkg/types"
)

// DefaultRelevanceScore is assigned to items that omit relevance_score.
const DefaultRelevanceScore = 0.5

// starterItemSchema is the per-item contract referenced by starterHumanTemplate.
const starterItemSchema = `{
	"type": "object",
	"properties": {
		"topic":           {"type": "string", "minLength": 1},
		"detail":          {"type": "string", "minLength": 1},
		"source":          {"type": ["string", "null"]},
		"relevance_score": {"type": "number", "minimum": 0, "maximum": 1}
	},
	"required": ["topic", "detail"]
}`

const starterEnvelopeSchema = `{
	"type": "object",
	"properties": {
		"conversation_starters": {"type": "array"}
	},
	"required": ["conversation_starters"]
}`

var (
	itemSchema     = mustSchema(starterItemSchema)
	envelopeSchema = mustSchema(starterEnvelopeSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("llm: invalid embedded schema: %v", err))
	}
	return s
}

// SkippedItem records a starter that failed validation and was dropped.
type SkippedItem struct {
	Index  int    // position in the model's conversation_starters array
	Reason string // validation errors, joined
}

// extractJSON extracts the first JSON object from text that may carry
// markdown fences or prose around it.
func extractJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escape {
			escape = false
			continue
		}
		if c == '\\' {
			escape = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}

func validationReason(res *gojsonschema.Result) string {
	errs := make([]string, len(res.Errors()))
	for i, e := range res.Errors() {
		errs[i] = e.String()
	}
	return strings.Join(errs, "; ")
}

// ParseStarterResponse parses raw model output into a GenerationResult.
//
// Items failing validation are dropped individually and reported in the
// second return value. An error wrapping ErrInvalidResponse is returned only
// when no JSON object can be decoded or conversation_starters is absent or
// not an array. A missing or unrecognised sales_priority becomes MEDIUM.
func ParseStarterResponse(raw string) (*types.GenerationResult, []SkippedItem, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	res, err := envelopeSchema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !res.Valid() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidResponse, validationReason(res))
	}

	rawItems, _ := doc["conversation_starters"].([]interface{})
	result := &types.GenerationResult{Items: make([]types.StarterItem, 0, len(rawItems))}
	var skipped []SkippedItem

	for i, rawItem := range rawItems {
		res, err := itemSchema.Validate(gojsonschema.NewGoLoader(rawItem))
		if err != nil {
			skipped = append(skipped, SkippedItem{Index: i, Reason: err.Error()})
			continue
		}
		if !res.Valid() {
			skipped = append(skipped, SkippedItem{Index: i, Reason: validationReason(res)})
			continue
		}

		fields := rawItem.(map[string]interface{})
		item := types.StarterItem{
			Topic:          strings.TrimSpace(fields["topic"].(string)),
			Detail:         strings.TrimSpace(fields["detail"].(string)),
			RelevanceScore: DefaultRelevanceScore,
		}
		if item.Topic == "" || item.Detail == "" {
			skipped = append(skipped, SkippedItem{Index: i, Reason: "topic and detail must not be blank"})
			continue
		}
		if src, ok := fields["source"].(string); ok {
			item.Source = strings.TrimSpace(src)
		}
		if score, ok := fields["relevance_score"].(float64); ok {
			item.RelevanceScore = score
		}
		result.Items = append(result.Items, item)
	}

	if summary, ok := doc["summary"].(string); ok {
		result.Summary = strings.TrimSpace(summary)
	}

	result.Priority = types.PriorityMedium
	if raw, ok := doc["sales_priority"].(string); ok {
		if p := types.ParsePriority(raw); p != types.PriorityUnknown {
			result.Priority = p
		}
	}

	return result, skipped, nil
}
