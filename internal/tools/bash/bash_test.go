package bash

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestBashRunsCommand(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(map[string]interface{}{"command": "echo hello"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello") {
		t.Fatalf("expected stdout in result: %s", result.Content)
	}
}

func TestBashTimesOut(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(map[string]interface{}{
		"command":         "sleep 2",
		"timeout_seconds": 1,
	})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	var decoded Result
	if err := json.Unmarshal([]byte(result.Content), &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.TimedOut {
		t.Fatalf("expected timed_out, got %+v", decoded)
	}
}

func TestBashRejectsEmptyCommand(t *testing.T) {
	tool := New(t.TempDir())
	params, _ := json.Marshal(map[string]interface{}{"command": ""})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error for empty command")
	}
}
