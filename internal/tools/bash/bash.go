// Package bash implements the sandbox's bash tool: a single synchronous
// shell command per call, capped by a timeout, with combined
// stdout/stderr captured through a size-bounded buffer. Grounded on
// internal/tools/exec/{manager,tools}.go's command-building and
// limited-buffer output capture, trimmed from that file's background
// process manager down to the single synchronous contract the sandbox
// spec calls for.
package bash

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools/files"
	"github.com/recursivelm/rlm/internal/truncate"
)

const (
	// DefaultTimeout is used when a call does not specify one.
	DefaultTimeout = 30 * time.Second
	// MaxTimeout is the hard ceiling regardless of what the caller asks for.
	MaxTimeout = 300 * time.Second
	maxOutputBytes = 50_000
)

// Tool runs shell commands inside a workspace.
type Tool struct {
	resolver files.Resolver
}

// New creates a bash tool scoped to the workspace.
func New(workspace string) *Tool {
	return &Tool{resolver: files.Resolver{Root: workspace}}
}

func (t *Tool) Name() string { return "bash" }

func (t *Tool) Description() string {
	return "Run a shell command in the workspace with a bounded timeout (default 30s, max 300s)."
}

func (t *Tool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "Shell command to execute.",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory relative to the workspace (default: workspace root).",
			},
			"timeout_seconds": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default 30, max 300).",
				"minimum":     0,
			},
		},
		"required": []string{"command"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Result is the JSON shape returned to the evaluated code.
type Result struct {
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
	Output    string `json:"output"`
	ExitCode  int    `json:"exit_code"`
	TimedOut  bool   `json:"timed_out"`
	Truncated bool   `json:"truncated"`
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	var input struct {
		Command        string `json:"command"`
		Cwd            string `json:"cwd"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return toolError("command is required"), nil
	}

	timeout := DefaultTimeout
	if input.TimeoutSeconds > 0 {
		timeout = time.Duration(input.TimeoutSeconds) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	dir, err := t.resolveDir(input.Cwd)
	if err != nil {
		return toolError(err.Error()), nil
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Dir = dir
	out := newLimitedBuffer(maxOutputBytes)
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	timedOut := runCtx.Err() == context.DeadlineExceeded

	captured := truncate.Bytes(out.String(), maxOutputBytes)
	result := Result{
		Command:   command,
		Cwd:       input.Cwd,
		Output:    captured.Text,
		ExitCode:  exitCodeOf(runErr),
		TimedOut:  timedOut,
		Truncated: captured.Truncated || out.Dropped(),
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &rlmtypes.ToolResult{Content: string(payload), IsError: timedOut || result.ExitCode != 0}, nil
}

func (t *Tool) resolveDir(cwd string) (string, error) {
	if strings.TrimSpace(cwd) == "" {
		return t.resolver.Resolve(".")
	}
	return t.resolver.Resolve(cwd)
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

func toolError(message string) *rlmtypes.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &rlmtypes.ToolResult{Content: string(payload), IsError: true}
}

// limitedBuffer caps writes at max bytes, silently dropping the excess
// rather than growing unbounded -- the same truncation-on-write idiom
// used by the teacher's exec manager, kept here because it bounds memory
// use during the command's run rather than only at the end.
type limitedBuffer struct {
	mu      sync.Mutex
	buf     []byte
	max     int
	dropped bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.max > 0 && len(b.buf) >= b.max {
		b.dropped = b.dropped || len(p) > 0
		return len(p), nil
	}
	remaining := b.max - len(b.buf)
	if b.max > 0 && len(p) > remaining {
		b.buf = append(b.buf, p[:remaining]...)
		b.dropped = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Dropped reports whether any written bytes were discarded.
func (b *limitedBuffer) Dropped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
