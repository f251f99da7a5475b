package types

// StarterItem is a single conversation starter produced by the model.
type StarterItem struct {
	Topic          string  `json:"topic"`            // Brief topic heading (3-5 words)
	Detail         string  `json:"detail"`           // Full conversation starter (2-4 sentences)
	Source         string  `json:"source,omitempty"` // Data the starter is based on
	RelevanceScore float64 `json:"relevance_score"`  // 0.0-1.0
}

// GenerationResult is the validated, structured output of one generation.
// Items is never nil once normalized; Priority is always one of the four
// priority literals.
type GenerationResult struct {
	Items    []StarterItem `json:"conversation_starters"`
	Summary  string        `json:"summary,omitempty"`
	Priority Priority      `json:"sales_priority"`
}

// Normalize enforces the result invariants in place: a non-nil item slice and
// a valid priority. It returns the receiver for chaining.
func (r *GenerationResult) Normalize() *GenerationResult {
	if r.Items == nil {
		r.Items = []StarterItem{}
	}
	if !IsValidPriority(r.Priority) {
		r.Priority = PriorityUnknown
	}
	return r
}

// Clone returns a deep copy so callers can't mutate a cached payload.
func (r *GenerationResult) Clone() *GenerationResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Items = make([]StarterItem, len(r.Items))
	copy(out.Items, r.Items)
	return &out
}
