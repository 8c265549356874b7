package search

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func setupTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.go"), []byte("package main\n// TODO fix\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.go"), []byte("package sub\nfunc TODO() {}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return root
}

func TestGrepBuiltinBackend(t *testing.T) {
	root := setupTree(t)
	matches, err := scanForPattern(root, "TODO", "", false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
}

func TestGrepGlobFilter(t *testing.T) {
	root := setupTree(t)
	matches, err := scanForPattern(root, "TODO", "sub/*.go", false)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(matches) != 1 || matches[0].Path != filepath.Join("sub", "b.go") {
		t.Fatalf("expected 1 match in sub/b.go, got %d: %+v", len(matches), matches)
	}
}

func TestGlobRecursive(t *testing.T) {
	root := setupTree(t)
	tool := NewGlobTool(root)
	params, _ := json.Marshal(map[string]interface{}{"pattern": "**/*.go"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var decoded struct {
		Paths []string `json:"paths"`
		Count int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Count != 2 {
		t.Fatalf("expected 2 matches, got %d: %v", decoded.Count, decoded.Paths)
	}
}

func TestLsListsEntries(t *testing.T) {
	root := setupTree(t)
	tool := NewLsTool(root)
	params, _ := json.Marshal(map[string]interface{}{"path": "."})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var decoded struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Entries) != 2 {
		t.Fatalf("expected 2 entries (a.go, sub), got %d", len(decoded.Entries))
	}
}
