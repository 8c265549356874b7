package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools/files"
)

const maxGlobResults = 500

// GlobTool expands a filename glob pattern against the workspace.
type GlobTool struct {
	resolver files.Resolver
}

// NewGlobTool creates a glob tool scoped to the workspace.
func NewGlobTool(workspace string) *GlobTool {
	return &GlobTool{resolver: files.Resolver{Root: workspace}}
}

func (t *GlobTool) Name() string { return "glob" }

func (t *GlobTool) Description() string {
	return "Expand a filename glob pattern (e.g. **/*.go) against the workspace, newest first."
}

func (t *GlobTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"pattern": map[string]interface{}{
				"type":        "string",
				"description": "Glob pattern, relative to base. ** matches any depth.",
			},
			"base": map[string]interface{}{
				"type":        "string",
				"description": "Directory the pattern is relative to (default: workspace root).",
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

func (t *GlobTool) Execute(ctx context.Context, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	_ = ctx
	var input struct {
		Pattern string `json:"pattern"`
		Base    string `json:"base"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Pattern) == "" {
		return toolError("pattern is required"), nil
	}

	root, err := t.resolver.Resolve(firstNonEmpty(input.Base, "."))
	if err != nil {
		return toolError(err.Error()), nil
	}

	matches, err := globRecursive(root, input.Pattern)
	if err != nil {
		return toolError(err.Error()), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].ModTime.After(matches[j].ModTime)
	})

	truncated := false
	if len(matches) > maxGlobResults {
		matches = matches[:maxGlobResults]
		truncated = true
	}

	paths := make([]string, len(matches))
	for i, m := range matches {
		paths[i] = m.Path
	}

	payload, err := json.MarshalIndent(map[string]interface{}{
		"paths":     paths,
		"count":     len(paths),
		"truncated": truncated,
	}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &rlmtypes.ToolResult{Content: string(payload)}, nil
}

// globRecursive supports a "**" segment for arbitrary-depth matches,
// which path/filepath.Glob alone does not: it walks the tree and tests
// each file against the pattern translated into a standard filepath
// match per path segment.
func globRecursive(root, pattern string) ([]fileMatch, error) {
	if !strings.Contains(pattern, "**") {
		abs, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, err
		}
		return statAll(root, abs)
	}

	prefix, suffix, _ := strings.Cut(pattern, "**")
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")

	var found []string
	walkRoot := root
	if prefix != "" {
		walkRoot = filepath.Join(root, prefix)
	}
	err := filepath.Walk(walkRoot, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if suffix == "" {
			found = append(found, path)
			return nil
		}
		ok, err := filepath.Match(suffix, filepath.Base(path))
		if err == nil && ok {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return statAll(root, found)
}

// globMatch reports whether relPath matches pattern, supporting the same
// single "**" arbitrary-depth segment globRecursive does. It backs the
// grep tool's glob filter; the glob tool itself uses globRecursive. A
// pattern without "**" also matches relPath's base name, so "*.go" here
// matches files at any depth, where the glob tool matches only the top
// level.
func globMatch(pattern, relPath string) bool {
	relPath = filepath.ToSlash(relPath)
	pattern = filepath.ToSlash(pattern)
	if !strings.Contains(pattern, "**") {
		if ok, err := filepath.Match(pattern, relPath); err == nil && ok {
			return true
		}
		ok, err := filepath.Match(pattern, filepath.Base(relPath))
		return err == nil && ok
	}

	prefix, suffix, _ := strings.Cut(pattern, "**")
	prefix = strings.TrimSuffix(prefix, "/")
	suffix = strings.TrimPrefix(suffix, "/")
	if prefix != "" && !strings.HasPrefix(relPath, prefix) {
		return false
	}
	if suffix == "" {
		return true
	}
	ok, err := filepath.Match(suffix, filepath.Base(relPath))
	return err == nil && ok
}

type fileMatch struct {
	Path    string
	ModTime time.Time
}

func statAll(root string, paths []string) ([]fileMatch, error) {
	out := make([]fileMatch, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.IsDir() {
			continue
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			rel = p
		}
		out = append(out, fileMatch{Path: rel, ModTime: info.ModTime()})
	}
	return out, nil
}
