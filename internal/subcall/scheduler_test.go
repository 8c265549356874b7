package subcall

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
	"github.com/recursivelm/rlm/internal/worker"
)

type fixedProvider struct{ text string }

func (p fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: p.text}, nil
}

// immediateEval returns a fixed Result every call, regardless of the code
// submitted -- enough to drive a child Worker straight to a final_answer
// binding on its first iteration.
type immediateEval struct{ result *eval.Result }

func (e immediateEval) Run(ctx context.Context, params eval.Params, dispatch eval.ToolDispatcher) (*eval.Result, error) {
	return e.result, nil
}

func newFactory(provider llm.Provider, result *eval.Result) WorkerFactory {
	return func(attrs rlmtypes.WorkerAttrs) *worker.Worker {
		registry := tools.NewRegistry()
		return worker.New(worker.Config{MaxIterations: 3}, attrs, provider, immediateEval{result: result}, registry, nil)
	}
}

func TestSchedulerSpawnReturnsChildAnswer(t *testing.T) {
	provider := fixedProvider{text: `{"reasoning":"done","code":"final_answer = \"child result\""}`}
	sched := New(Config{}, newFactory(provider, &eval.Result{Bindings: map[string]any{"final_answer": "child result"}}), provider)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := sched.Spawn(ctx, worker.SubcallRequest{Query: "do the thing"})
	require.NoError(t, err)
	require.Equal(t, "child result", res.Answer)
}

func TestSchedulerParallelPreservesOrder(t *testing.T) {
	provider := fixedProvider{text: `{"reasoning":"ok","code":"final_answer = \"ok\""}`}
	sched := New(Config{}, newFactory(provider, &eval.Result{Bindings: map[string]any{"final_answer": "ok"}}), provider)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reqs := []worker.SubcallRequest{{Query: "a"}, {Query: "b"}, {Query: "c"}}
	results, err := sched.Parallel(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		require.Equal(t, "ok", r.Answer)
	}
}

func TestSchedulerDirectValidatesSchema(t *testing.T) {
	provider := fixedProvider{text: `{"name": "alice", "age": 30}`}
	sched := New(Config{}, newFactory(provider, nil), provider)

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"name": {"type": "string"}, "age": {"type": "integer"}},
		"required": ["name", "age"]
	}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result, err := sched.Direct(ctx, worker.SubcallRequest{Query: "describe alice", Schema: schema})
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"alice","age":30}`, string(result))
}

func TestSchedulerDirectRejectsSchemaMismatch(t *testing.T) {
	provider := fixedProvider{text: `{"name": 123}`}
	sched := New(Config{}, newFactory(provider, nil), provider)

	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"name": {"type": "string"}},
		"required": ["name"]
	}`)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := sched.Direct(ctx, worker.SubcallRequest{Query: "x", Schema: schema})
	require.Error(t, err)
}
