package eval

import (
	"context"
	"encoding/json"
	"os/exec"
	"testing"
	"time"

	"github.com/recursivelm/rlm/internal/rlmtypes"
)

func skipIfNoPython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not available in this environment")
	}
}

func TestEvaluatorRunsSimpleCode(t *testing.T) {
	skipIfNoPython(t)
	e := New(Config{DefaultTimeout: 5 * time.Second})
	res, err := e.Run(context.Background(), Params{
		Code:     "x = 1 + 1\nprint('hello')",
		Bindings: map[string]any{},
	}, noopDispatch)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Bindings["x"] != float64(2) {
		t.Fatalf("expected x=2, got %v", res.Bindings["x"])
	}
}

func TestEvaluatorRoutesToolCalls(t *testing.T) {
	skipIfNoPython(t)
	e := New(Config{DefaultTimeout: 5 * time.Second})
	dispatch := func(ctx context.Context, name string, params json.RawMessage) (*rlmtypes.ToolResult, error) {
		return &rlmtypes.ToolResult{Content: `{"ok": true}`}, nil
	}
	res, err := e.Run(context.Background(), Params{
		Code:     "result = read_file('foo.txt')",
		Bindings: map[string]any{},
	}, dispatch)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Error != "" {
		t.Fatalf("unexpected error: %s", res.Error)
	}
}

func TestEvaluatorTimesOut(t *testing.T) {
	skipIfNoPython(t)
	e := New(Config{DefaultTimeout: 200 * time.Millisecond})
	_, err := e.Run(context.Background(), Params{
		Code: "import time\ntime.sleep(5)",
	}, noopDispatch)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func noopDispatch(ctx context.Context, name string, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	return &rlmtypes.ToolResult{Content: "{}"}, nil
}
