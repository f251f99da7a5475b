// Package types defines the core data structures for the school intelligence
// system: school records as loaded from the data source, and the structured
// conversation starters generated for them by the language model.
package types

import "strings"

// Priority is the sales priority assigned to a school.
type Priority string

// Priority constants. PriorityUnknown is only used when no priority could be
// determined, for example after a failed generation.
const (
	PriorityHigh    Priority = "HIGH"
	PriorityMedium  Priority = "MEDIUM"
	PriorityLow     Priority = "LOW"
	PriorityUnknown Priority = "UNKNOWN"
)

// priorityRank orders priorities for sorting (HIGH first).
var priorityRank = map[Priority]int{
	PriorityHigh:    0,
	PriorityMedium:  1,
	PriorityLow:     2,
	PriorityUnknown: 3,
}

// IsValidPriority reports whether p is one of the four priority literals.
func IsValidPriority(p Priority) bool {
	_, ok := priorityRank[p]
	return ok
}

// ParsePriority normalizes a raw priority string. Surrounding whitespace and
// case are ignored. Unrecognized values map to PriorityUnknown.
func ParsePriority(raw string) Priority {
	p := Priority(strings.ToUpper(strings.TrimSpace(raw)))
	if IsValidPriority(p) {
		return p
	}
	return PriorityUnknown
}

// Rank returns the sort rank of the priority; lower ranks sort first.
func (p Priority) Rank() int {
	if r, ok := priorityRank[p]; ok {
		return r
	}
	return priorityRank[PriorityUnknown]
}
