package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools/files"
)

const maxLsEntries = 2000

// LsTool lists a directory's entries.
type LsTool struct {
	resolver files.Resolver
}

// NewLsTool creates an ls tool scoped to the workspace.
func NewLsTool(workspace string) *LsTool {
	return &LsTool{resolver: files.Resolver{Root: workspace}}
}

func (t *LsTool) Name() string { return "ls" }

func (t *LsTool) Description() string {
	return "List the entries of a directory in the workspace."
}

func (t *LsTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory to list (default: workspace root).",
			},
		},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Entry describes one directory entry.
type Entry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Bytes int64  `json:"bytes"`
}

func (t *LsTool) Execute(ctx context.Context, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	_ = ctx
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	dir, err := t.resolver.Resolve(firstNonEmpty(input.Path, "."))
	if err != nil {
		return toolError(err.Error()), nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return toolError(fmt.Sprintf("read directory: %v", err)), nil
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		size := int64(0)
		if err == nil {
			size = info.Size()
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Bytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	truncated := false
	if len(out) > maxLsEntries {
		out = out[:maxLsEntries]
		truncated = true
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"path":      strings.TrimSuffix(filepath.ToSlash(input.Path), "/"),
		"entries":   out,
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &rlmtypes.ToolResult{Content: string(payload)}, nil
}
