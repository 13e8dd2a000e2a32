// Package prompt renders model prompts and keeps them under a token ceiling.
//
// Token counts are approximated as whitespace-delimited words x 4/3 rather
// than tokenized exactly. The ceiling should carry enough slack for the
// approximation error (the default config leaves ~20%).
package prompt

import (
	"encoding/json"
	"strings"
)

// DefaultMaxTokens is the prompt ceiling when no override is configured.
const DefaultMaxTokens = 6000

// Budgeter trims prompt payloads to fit a token ceiling. The ceiling and the
// field trim order are explicit configuration so tests can override them.
type Budgeter struct {
	maxTokens      int
	priorityFields []string
}

// NewBudgeter creates a budgeter with the given token ceiling and the field
// names to trim first, in order. A non-positive ceiling falls back to
// DefaultMaxTokens.
func NewBudgeter(maxTokens int, priorityFields []string) *Budgeter {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Budgeter{maxTokens: maxTokens, priorityFields: priorityFields}
}

// EstimateTokens approximates the token count of s.
func EstimateTokens(s string) int {
	words := len(strings.Fields(s))
	return words * 4 / 3
}

// Render serializes the payload and appends it to the system prompt.
func Render(systemPrompt string, payload map[string]any) string {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		// Payloads are built from JSON-decoded signals; marshal cannot
		// realistically fail, but never lose the instruction text.
		return systemPrompt
	}
	return systemPrompt + "\n\n" + string(data)
}

// Trim produces a rendered prompt guaranteed to shrink toward the ceiling by
// iteratively halving oversized list fields, keeping the more recent half
// (lists are ordered oldest first). Fields are trimmed in priority order;
// each halving keeps the latter len/2 elements (floor division, so odd
// lists shrink below half).
//
// Trim never fails: if no halvable list remains and the prompt is still over
// budget, the current state is returned with trimmed=true.
func (b *Budgeter) Trim(payload map[string]any, systemPrompt string) (map[string]any, string, bool) {
	rendered := Render(systemPrompt, payload)
	if EstimateTokens(rendered) <= b.maxTokens {
		return payload, rendered, false
	}

	// Work on a shallow copy; list fields are replaced, never mutated.
	work := make(map[string]any, len(payload))
	for k, v := range payload {
		work[k] = v
	}

	for {
		field, list := b.nextTrimmable(work)
		if field == "" {
			// Budget cannot be met; return what we have rather than
			// dropping the payload.
			return work, Render(systemPrompt, work), true
		}

		// Keep the last floor(len/2) elements: the more recent half.
		work[field] = list[len(list)-len(list)/2:]

		rendered = Render(systemPrompt, work)
		if EstimateTokens(rendered) <= b.maxTokens {
			return work, rendered, true
		}
	}
}

// nextTrimmable returns the first priority field whose value is a list with
// more than one element, or "" when nothing is left to halve.
func (b *Budgeter) nextTrimmable(payload map[string]any) (string, []any) {
	for _, field := range b.priorityFields {
		v, ok := payload[field]
		if !ok {
			continue
		}
		if list := asList(v); len(list) > 1 {
			return field, list
		}
	}
	return "", nil
}

// asList normalizes the list shapes that appear in prompt payloads.
func asList(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	}
	return nil
}
