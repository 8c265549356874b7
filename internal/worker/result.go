package worker

import (
	"encoding/json"
	"fmt"

	"github.com/recursivelm/rlm/internal/rlmtypes"
)

// stringifyAnswer renders a final_answer binding's value for the event
// log, which wants a single string regardless of whether the binding held
// a string, a number, a list, or any other JSON-representable value.
func stringifyAnswer(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func toolErrorResult(message string) *rlmtypes.ToolResult {
	return &rlmtypes.ToolResult{Content: message, IsError: true}
}

func textToolResult(content string) *rlmtypes.ToolResult {
	return &rlmtypes.ToolResult{Content: content}
}

func jsonToolResult(payload []byte) *rlmtypes.ToolResult {
	return &rlmtypes.ToolResult{Content: string(payload)}
}
