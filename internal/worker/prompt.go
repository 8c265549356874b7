package worker

import (
	"fmt"
	"strings"

	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools"
)

// buildSystemPrompt describes the sandbox's capability set and current
// bindings so the model can decide what code to emit next. Bindings are
// rendered as digests (type, byte size, preview), never full values --
// the mechanism spec.md's worker section calls for to keep the prompt
// small regardless of how large a bound value actually is.
func buildSystemPrompt(cfg Config, registry *tools.Registry, bindings *rlmtypes.Bindings) string {
	var b strings.Builder
	if cfg.SystemPreamble != "" {
		b.WriteString(cfg.SystemPreamble)
		b.WriteString("\n\n")
	}
	b.WriteString("You are the reasoning step of a recursive language model worker. ")
	b.WriteString("Reply with a single JSON object {\"reasoning\": string, \"code\": string} and nothing else. ")
	b.WriteString("code is Python executed in a sandbox against your current bindings; it runs every turn, ")
	b.WriteString("even if empty. To finish, set the variable final_answer in your code -- ")
	b.WriteString("its value (string, number, list, or any JSON-representable value) becomes the turn's answer ")
	b.WriteString("and ends the loop. final_answer is unset at the start of every turn, so setting it in a prior ")
	b.WriteString("turn does not carry forward.\n\n")

	b.WriteString("Available tools:\n")
	for _, t := range registry.Catalog() {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	b.WriteString("- query(prompt, schema): one LLM call constrained to a JSON schema, no sub-worker.\n")
	b.WriteString("- sub_call(task, model_size, context, schema): spawn a child worker and wait for its answer.\n")
	b.WriteString("- parallel_query(prompts): spawn one child worker per prompt concurrently.\n\n")

	ordered := bindings.Ordered()
	if len(ordered) == 0 {
		b.WriteString("Current bindings: (none)\n")
		return b.String()
	}
	b.WriteString("Current bindings:\n")
	for _, bind := range ordered {
		digest := bind.Digest()
		fmt.Fprintf(&b, "- %s: %s, %d bytes, preview: %s\n", bind.Name, digest.Type, digest.Bytes, digest.Preview)
	}
	return b.String()
}

// buildUserPrompt renders the task plus the observation trail from prior
// iterations in this turn -- each iteration's emitted code, its stdout,
// and any error -- so the model can decide its next step.
func buildUserPrompt(task string, records []rlmtypes.IterationRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task)
	if len(records) == 0 {
		return b.String()
	}
	b.WriteString("\nPrior iterations:\n")
	for _, rec := range records {
		fmt.Fprintf(&b, "--- iteration %d ---\n", rec.Index)
		if rec.Code != "" {
			fmt.Fprintf(&b, "code:\n%s\n", rec.Code)
		}
		if rec.Stdout != "" {
			fmt.Fprintf(&b, "stdout:\n%s\n", rec.Stdout)
		}
		if rec.EvalError != "" {
			fmt.Fprintf(&b, "error: %s\n", rec.EvalError)
		}
		if rec.Stderr != "" {
			fmt.Fprintf(&b, "stderr: %s\n", rec.Stderr)
		}
	}
	return b.String()
}
