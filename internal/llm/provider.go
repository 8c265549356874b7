// Package llm defines the provider-agnostic interface the Worker's think
// step and the sub-call scheduler's direct queries use to reach a language
// model, plus an Anthropic implementation of it.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one turn of a conversation sent to the model.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Request describes one completion call. Unlike the teacher's streaming
// agent.CompletionRequest, this is synchronous: the Worker's think step and
// the direct-query path both need the whole reply before they can proceed
// (parse emitted code, or validate a JSON object against a schema), so
// there is no caller that wants partial tokens.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	MaxTokens int
	// Schema carries the JSON Schema document a direct query's reply is
	// checked against. AnthropicProvider does not send it to the API; the
	// sub-call scheduler puts the schema into System and validates the
	// reply itself.
	Schema json.RawMessage
}

// Response is one completion result.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
}

// Provider is implemented by each LLM backend the engine can drive.
type Provider interface {
	// Name returns the provider identifier used in logging and metrics.
	Name() string
	// Complete blocks until the model has produced a full reply or ctx is
	// done, cancelled, or times out.
	Complete(ctx context.Context, req Request) (*Response, error)
}
