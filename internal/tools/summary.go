package tools

import (
	"fmt"
	"strings"
)

// Summarizer derives one-line human-readable summaries from invocation
// results for the transcript. The recognizable field names depend on the
// backend's schema, so they are injected from configuration rather than
// hard-coded: count keys name array-valued fields worth counting, label
// keys name scalar fields worth quoting.
type Summarizer struct {
	countKeys []string
	labelKeys []string
}

// NewSummarizer creates a summarizer with the given recognizable keys
func NewSummarizer(countKeys, labelKeys []string) *Summarizer {
	return &Summarizer{countKeys: countKeys, labelKeys: labelKeys}
}

// Summarize renders a one-line summary of a result
func (s *Summarizer) Summarize(res InvocationResult) string {
	if res.Failure != nil {
		msg := res.Failure.Message
		if res.Failure.Cause != "" {
			msg = fmt.Sprintf("%s (%s)", msg, res.Failure.Cause)
		}
		return msg
	}

	payload := res.Payload
	if len(payload) == 0 {
		return "empty result"
	}

	// Recognizable array field: count its entries
	for _, key := range s.countKeys {
		if arr, ok := payload[key].([]any); ok {
			return fmt.Sprintf("%d %s", len(arr), pluralNoun(key, len(arr)))
		}
	}

	// Any other top-level array still gets counted
	for key, v := range payload {
		if arr, ok := v.([]any); ok {
			return fmt.Sprintf("%d %s", len(arr), pluralNoun(key, len(arr)))
		}
	}

	// Recognizable scalar field: quote it
	for _, key := range s.labelKeys {
		if v, ok := payload[key]; ok {
			if str := scalarString(v); str != "" {
				return fmt.Sprintf("%s: %s", key, str)
			}
		}
	}

	// Opaque object fallback
	return fmt.Sprintf("%d keys", len(payload))
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}

// pluralNoun treats the field name itself as the noun; "items" already
// reads naturally, "data" gets a generic fallback
func pluralNoun(key string, n int) string {
	key = strings.ToLower(key)
	if key == "data" {
		if n == 1 {
			return "entry"
		}
		return "entries"
	}
	if n == 1 {
		return strings.TrimSuffix(key, "s")
	}
	return key
}
