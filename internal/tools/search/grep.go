// Package search implements the sandbox's grep, glob, and ls tools. None
// of these exist as standalone tools in the teacher repo -- its bash
// tool covers them by shelling out -- so they are new code, grounded on
// the teacher's own capability-detection idiom: sandbox/executor.go
// probes for an optional external backend with exec.LookPath and falls
// back to a built-in implementation when it is absent. Grep does the
// same with `rg`.
package search

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools/files"
)

const maxGrepMatches = 200

// GrepTool searches file contents for a pattern, preferring `rg` when it
// is on PATH and falling back to a pure-Go line scanner otherwise.
type GrepTool struct {
	resolver  files.Resolver
	hasRipgrep bool
}

// NewGrepTool creates a grep tool scoped to the workspace. The ripgrep
// backend is detected once at construction time, the same as the
// teacher detects firecracker availability at executor construction.
func NewGrepTool(workspace string) *GrepTool {
	_, err := exec.LookPath("rg")
	return &GrepTool{
		resolver:   files.Resolver{Root: workspace},
		hasRipgrep: err == nil,
	}
}

func (t *GrepTool) Name() string { return "grep" }

func (t *GrepTool) Description() string {
	return "Search file contents for a regular expression pattern within the workspace."
}

func (t *GrepTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Directory or file to search (default: workspace root).",
			},
			"glob": map[string]interface{}{
				"type":        "string",
				"description": "Only search files whose path matches this glob (e.g. **/*.go).",
			},
			"case_insensitive": map[string]interface{}{
				"type": "boolean",
			},
		},
		"required": []string{"pattern"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Match is a single grep hit.
type Match struct {
	Path string `json:"path"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *GrepTool) Execute(ctx context.Context, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	var input struct {
		Pattern         string `json:"pattern"`
		Path            string `json:"path"`
		Glob            string `json:"glob"`
		CaseInsensitive bool   `json:"case_insensitive"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}
	root, err := t.resolver.Resolve(firstNonEmpty(input.Path, "."))
	if err != nil {
		return toolError(err.Error()), nil
	}

	var matches []Match
	var backend string
	if t.hasRipgrep {
		matches, err = runRipgrep(ctx, root, input.Pattern, input.Glob, input.CaseInsensitive)
		backend = "rg"
	}
	if !t.hasRipgrep || err != nil {
		matches, err = scanForPattern(root, input.Pattern, input.Glob, input.CaseInsensitive)
		backend = "builtin"
		if err != nil {
			return toolError(err.Error()), nil
		}
	}

	truncated := false
	if len(matches) > maxGrepMatches {
		matches = matches[:maxGrepMatches]
		truncated = true
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"backend":   backend,
		"matches":   matches,
		"count":     len(matches),
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &rlmtypes.ToolResult{Content: string(payload)}, nil
}

func runRipgrep(ctx context.Context, root, pattern, glob string, caseInsensitive bool) ([]Match, error) {
	args := []string{"--line-number", "--no-heading"}
	if caseInsensitive {
		args = append(args, "-i")
	}
	if glob != "" {
		args = append(args, "--glob", glob)
	}
	args = append(args, pattern, root)
	cmd := exec.CommandContext(ctx, "rg", args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	// rg exits 1 when there are no matches; that is not a tool failure.
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, err
	}
	return parseRipgrepOutput(out.String(), root), nil
}

func parseRipgrepOutput(output, root string) []Match {
	var matches []Match
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		lineNum, err := strconv.Atoi(parts[1])
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, parts[0])
		if err != nil {
			rel = parts[0]
		}
		matches = append(matches, Match{Path: rel, Line: lineNum, Text: parts[2]})
	}
	return matches
}

func scanForPattern(root, pattern, glob string, caseInsensitive bool) ([]Match, error) {
	expr := pattern
	if caseInsensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}

	var matches []Match
	err = filepath.Walk(root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxGrepMatches {
			return nil
		}
		if glob != "" {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			if !globMatch(glob, rel) {
				return nil
			}
		}
		f, err := os.Open(path)
		if err != nil {
			return nil
		}
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		lineNum := 0
		for scanner.Scan() {
			lineNum++
			line := scanner.Text()
			if re.MatchString(line) {
				rel, relErr := filepath.Rel(root, path)
				if relErr != nil {
					rel = path
				}
				matches = append(matches, Match{Path: rel, Line: lineNum, Text: line})
				if len(matches) >= maxGrepMatches {
					break
				}
			}
		}
		return nil
	})
	return matches, err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func toolError(message string) *rlmtypes.ToolResult {
	payload, _ := json.Marshal(map[string]string{"error": message})
	return &rlmtypes.ToolResult{Content: string(payload), IsError: true}
}
