// Package classify defines the contract with the external intent
// classification service and a JSON-over-HTTP client for it. The model itself
// is a black box; this package owns the request shape, the response decoding
// and nothing else.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// IntentSpec describes one allowed intent to the classifier.
type IntentSpec struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Examples    []string `json:"examples,omitempty"`
}

// Request is one classification call: the user message, a bounded summary of
// recent context, and the enumerated allowed intents.
type Request struct {
	Message        string
	ContextSummary string
	Intents        []IntentSpec
}

// Result is one classified sub-command. A compound message yields several
// results in extraction order.
type Result struct {
	Intent     string            `json:"intent"`
	Entities   map[string]string `json:"entities"`
	Confidence float64           `json:"confidence,omitempty"`
}

// Classifier turns a free-form message into ordered (intent, entities) pairs.
type Classifier interface {
	Classify(ctx context.Context, req Request) ([]Result, error)
}

// buildPrompt renders the classification instruction. The catalog of allowed
// intents travels with every request so the service needs no local state.
func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("Parse the user message into structured commands.\n")
	b.WriteString("Return ONLY a JSON array; one element per command, in the order they appear:\n")
	b.WriteString(`[{"intent": "<name>", "entities": {"<key>": "<value>"}, "confidence": 0.95}]` + "\n\n")
	b.WriteString("Allowed intents:\n")
	for _, in := range req.Intents {
		fmt.Fprintf(&b, "- %s: %s\n", in.Name, in.Description)
		for _, ex := range in.Examples {
			fmt.Fprintf(&b, "  e.g. %q\n", ex)
		}
	}
	b.WriteString("\nEntity keys: title, description, time, recurrence, priority, assignee, recipient, subject, body, reference.\n")
	b.WriteString("Only include entities actually present in the message. Keep time and recurrence phrases verbatim, do not resolve them.\n")
	if req.ContextSummary != "" {
		b.WriteString("\nRecent context:\n" + req.ContextSummary + "\n")
	}
	b.WriteString("\nMessage: " + req.Message + "\n")
	return b.String()
}

var fenceRe = regexp.MustCompile("(?s)```(?:json)?\n?(.*?)\n?```")

// decodeResults parses the model output into results, tolerating markdown
// code fences and a bare object instead of an array.
func decodeResults(raw string) ([]Result, error) {
	raw = strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(raw); m != nil {
		raw = strings.TrimSpace(m[1])
	}

	var results []Result
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		var single Result
		if err2 := json.Unmarshal([]byte(raw), &single); err2 != nil {
			return nil, fmt.Errorf("decode classification: %w", err)
		}
		results = []Result{single}
	}

	for i := range results {
		if results[i].Intent == "" {
			return nil, fmt.Errorf("classification element %d has no intent", i)
		}
		if results[i].Entities == nil {
			results[i].Entities = map[string]string{}
		}
	}
	return results, nil
}
