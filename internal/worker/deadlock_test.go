package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recursivelm/rlm/internal/eval"
	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools"
)

// lmQueryEval is an Evaluator stub that synchronously calls sub_call (the
// tool name that backs spec.md's lm_query) from inside its "evaluated
// code" before returning -- the exact shape that would deadlock a worker
// whose run loop blocked on Evaluator.Run instead of servicing its inbox.
type lmQueryEval struct {
	calls int
}

func (e *lmQueryEval) Run(ctx context.Context, params eval.Params, dispatch eval.ToolDispatcher) (*eval.Result, error) {
	e.calls++
	for i := 0; i < 3; i++ {
		if _, err := dispatch(ctx, "sub_call", json.RawMessage(`{"task":"recurse"}`)); err != nil {
			return nil, err
		}
	}
	return &eval.Result{Bindings: map[string]any{"final_answer": "done"}}, nil
}

// TestDeadlockFreeEvalBridge is the regression test spec.md requires: a
// snippet that synchronously calls lm_query (here, sub_call, its sandbox
// tool name) from within eval must complete without hanging, regardless
// of how many times it does so.
func TestDeadlockFreeEvalBridge(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"reasoning":"recursing","code":"pass"}`,
	}}
	evaluator := &lmQueryEval{}
	registry := tools.NewRegistry()
	attrs := rlmtypes.WorkerAttrs{SpanID: "span-1", RunID: "run-1", Depth: 0, Mode: rlmtypes.ModeOneShot}
	w := New(Config{MaxIterations: 5, MaxDepth: 4, MaxConcurrentSubcalls: 4}, attrs, provider, evaluator, registry, noopScheduler{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	done := make(chan struct{})
	var res *TurnResult
	var err error
	go func() {
		res, err = w.SubmitTurn(ctx, "recurse three times")
		close(done)
	}()

	select {
	case <-done:
		require.NoError(t, err)
		require.Equal(t, "done", res.FinalAnswer)
		require.Equal(t, 1, evaluator.calls)
	case <-time.After(1500 * time.Millisecond):
		t.Fatal("worker deadlocked servicing sub_call from its own evaluation")
	}
}

var _ llm.Provider = (*scriptedProvider)(nil)
