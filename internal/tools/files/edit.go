package files

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/recursivelm/rlm/internal/rlmtypes"
)

// EditTool implements one in-place find/replace edit on a file. old_string
// must be unique within the file -- an ambiguous match is rejected rather
// than guessed at -- except that an empty old_string prepends new_string
// to the file's current content instead of searching for a match.
type EditTool struct {
	resolver Resolver
}

// NewEditTool creates an edit tool scoped to the workspace.
func NewEditTool(cfg Config) *EditTool {
	return &EditTool{resolver: Resolver{Root: cfg.Workspace}}
}

// Name returns the tool name.
func (t *EditTool) Name() string { return "edit_file" }

// Description returns the tool description.
func (t *EditTool) Description() string {
	return "Replace old_string with new_string in a file in the workspace. Empty old_string prepends."
}

// Schema returns the JSON schema for the tool parameters.
func (t *EditTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to edit (relative to workspace).",
			},
			"old_string": map[string]interface{}{
				"type":        "string",
				"description": "Text to replace. Must be unique in the file. Empty prepends new_string.",
			},
			"new_string": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text.",
			},
		},
		"required": []string{"path", "old_string", "new_string"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute applies the edit to the file.
func (t *EditTool) Execute(ctx context.Context, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	_ = ctx
	var input struct {
		Path      string `json:"path"`
		OldString string `json:"old_string"`
		NewString string `json:"new_string"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	content := string(data)
	var replacements int
	if input.OldString == "" {
		content = input.NewString + content
		replacements = 1
	} else {
		count := strings.Count(content, input.OldString)
		if count == 0 {
			return toolError("old_string not found"), nil
		}
		if count > 1 {
			return toolError(fmt.Sprintf("old_string is not unique (%d times); narrow the match", count)), nil
		}
		content = strings.Replace(content, input.OldString, input.NewString, 1)
		replacements = 1
	}

	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		return toolError(fmt.Sprintf("write file: %v", err)), nil
	}

	result := map[string]interface{}{
		"path":         input.Path,
		"replacements": replacements,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &rlmtypes.ToolResult{Content: string(payload)}, nil
}
