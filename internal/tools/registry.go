// Package tools holds the sandbox tool registry shared by every Worker.
package tools

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/recursivelm/rlm/internal/rlmtypes"
)

// MaxNameLength and MaxParamsSize bound a tool_call before it ever reaches
// a tool's Execute, the same defensive limits the teacher's ToolRegistry
// applies ahead of dispatch.
const (
	MaxNameLength = 256
	MaxParamsSize = 10 << 20
)

// Registry is the fixed catalog of sandbox tools a Worker's evaluated code
// can call: read_file, write_file, edit_file, bash, grep, glob, ls.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]rlmtypes.Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]rlmtypes.Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(tool rlmtypes.Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns the tool registered under name, if any.
func (r *Registry) Get(name string) (rlmtypes.Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Catalog returns every registered tool's name, description, and schema --
// the shape the Worker's prompt builder needs to describe the sandbox's
// capability set to the model.
func (r *Registry) Catalog() []rlmtypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]rlmtypes.Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute looks up name and runs it. An oversized name or parameter
// payload and an unknown tool name all come back as a tool-shaped error
// result with a nil Go error, so callers can relay them straight back
// into the sandbox.
func (r *Registry) Execute(ctx context.Context, name string, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	if len(name) > MaxNameLength {
		return &rlmtypes.ToolResult{IsError: true, Content: "tool name exceeds maximum length"}, nil
	}
	if len(params) > MaxParamsSize {
		return &rlmtypes.ToolResult{IsError: true, Content: "tool parameters exceed maximum size"}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return &rlmtypes.ToolResult{IsError: true, Content: "tool not found: " + name}, nil
	}
	return tool.Execute(ctx, params)
}
