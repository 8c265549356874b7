package worker

import (
	"encoding/json"
	"strings"
)

// step is the parsed form of one LLM reply: spec.md's required JSON
// {reasoning, code} shape. Code is executed every iteration; the turn
// completes only once the executed code sets the final_answer binding, so
// step carries no separate "final answer" field of its own.
type step struct {
	Reasoning string
	Code      string
}

type stepWire struct {
	Reasoning string `json:"reasoning"`
	Code      string `json:"code"`
}

// parseStep decodes a model reply as JSON. A reply that isn't valid JSON
// -- even after stripping a surrounding ``` fence, since models routinely
// wrap JSON in one -- is not a protocol error: it is treated as
// {reasoning: raw, code: ""}, so the worker still advances via the
// environment feedback loop instead of failing the turn outright.
func parseStep(text string) step {
	candidate := strings.TrimSpace(text)
	if fenced, ok := extractFencedBlock(candidate); ok {
		candidate = strings.TrimSpace(fenced)
	}

	var wire stepWire
	if err := json.Unmarshal([]byte(candidate), &wire); err == nil {
		return step{Reasoning: wire.Reasoning, Code: wire.Code}
	}
	return step{Reasoning: text}
}

func extractFencedBlock(text string) (string, bool) {
	const fence = "```"
	start := strings.Index(text, fence)
	if start == -1 {
		return "", false
	}
	rest := text[start+len(fence):]
	// Skip an optional language tag on the fence's opening line.
	if nl := strings.IndexByte(rest, '\n'); nl != -1 {
		tag := rest[:nl]
		if !strings.ContainsAny(tag, " \t") && len(tag) < 20 {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, fence)
	if end == -1 {
		return "", false
	}
	return strings.TrimRight(rest[:end], "\n"), true
}
