package llm

import (
	"fmt"
	"strings"
)

// Prompt is a two-turn chat request: a fixed system instruction and a
// human turn carrying the school context.
type Prompt struct {
	System string
	Human  string
}

// StarterSystemPrompt frames the model as a sales coach for an education
// recruitment business and sets the topic priority order.
const StarterSystemPrompt = `You are an expert sales coach for Supporting Education Group, a leading education recruitment company in the UK.

Your job is to analyze school data and generate compelling, personalized conversation starters that help recruitment consultants make effective sales calls.

CONTEXT ABOUT THE BUSINESS:
- Supporting Education Group provides supply teachers and permanent recruitment to UK schools
- Our consultants call schools to offer staffing solutions
- Schools often struggle with high agency costs, staff shortages, and Ofsted requirements
- We compete against agencies like Zen Educate, Hays, and others

YOUR CONVERSATION STARTERS SHOULD:
1. Reference SPECIFIC data from the school (actual numbers, names, ratings)
2. Be natural and conversational - not salesy or pushy
3. Offer value and understanding before asking for anything
4. Connect the school's challenges to how we can help
5. Be between 2-4 sentences each

PRIORITY ORDER FOR TOPICS:
1. High agency spend (if £100+ per pupil on agency costs = strong opportunity)
2. Financial pressure (if spending is higher than 60%+ of similar schools)
3. Recent Ofsted challenges or improvement areas
4. Leadership changes or staffing needs
5. General relationship building based on school type/phase

DO NOT:
- Be generic or use templates that could apply to any school
- Mention competitors negatively
- Make promises we can't keep
- Be overly pushy or aggressive`

// starterHumanTemplate must stay in step with starterEnvelopeSchema and
// starterItemSchema in response_parser.go.
const starterHumanTemplate = `Analyze this school data and generate %d personalized conversation starters.

%s

Generate conversation starters that reference the specific data above. Each starter should feel personal to THIS school, not generic.

Return your response as JSON with this exact structure:
{
    "conversation_starters": [
        {
            "topic": "Brief topic (3-5 words)",
            "detail": "The full conversation starter (2-4 sentences)",
            "source": "What data this is based on",
            "relevance_score": 0.0 to 1.0
        }
    ],
    "summary": "One sentence summary of this school's key characteristics",
    "sales_priority": "HIGH, MEDIUM, or LOW"
}`

// SummarySystemPrompt asks for a short factual briefing.
const SummarySystemPrompt = `You are a research assistant. Your job is to create brief, factual summaries of schools for sales consultants to quickly understand who they're calling.`

const summaryHumanTemplate = `Create a 2-sentence summary of this school:

%s

Focus on: school type, size, any notable financial or Ofsted factors, and who the headteacher is.`

// RenderStarterPrompt builds the conversation-starter request for a school
// context. count must be at least 1; upper bounds are the caller's policy.
func RenderStarterPrompt(schoolContext string, count int) (Prompt, error) {
	if count < 1 {
		return Prompt{}, fmt.Errorf("starter count must be at least 1, got %d", count)
	}
	return Prompt{
		System: StarterSystemPrompt,
		Human:  fmt.Sprintf(starterHumanTemplate, count, strings.TrimSpace(schoolContext)),
	}, nil
}

// RenderSummaryPrompt builds the two-sentence summary request.
func RenderSummaryPrompt(schoolContext string) Prompt {
	return Prompt{
		System: SummarySystemPrompt,
		Human:  fmt.Sprintf(summaryHumanTemplate, strings.TrimSpace(schoolContext)),
	}
}
