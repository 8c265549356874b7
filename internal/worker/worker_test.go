package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/recursivelm/rlm/internal/eval"
	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/rlmerrors"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools"
)

// scriptedProvider replies with a fixed sequence of texts, one per call,
// repeating the last entry once exhausted.
type scriptedProvider struct {
	replies []string
	calls   int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	idx := p.calls
	if idx >= len(p.replies) {
		idx = len(p.replies) - 1
	}
	p.calls++
	return &llm.Response{Text: p.replies[idx]}, nil
}

// scriptedEval returns a fixed Result for every call, optionally calling
// dispatch first to exercise the tool-call round trip.
type scriptedEval struct {
	callTool   string
	callParams json.RawMessage
	result     *eval.Result
}

func (e *scriptedEval) Run(ctx context.Context, params eval.Params, dispatch eval.ToolDispatcher) (*eval.Result, error) {
	if e.callTool != "" {
		if _, err := dispatch(ctx, e.callTool, e.callParams); err != nil {
			return nil, err
		}
	}
	return e.result, nil
}

// multiStepEval returns one Result per call, in order, repeating the last
// entry once exhausted -- the eval-side counterpart of scriptedProvider,
// for tests where each iteration's executed code does something different.
type multiStepEval struct {
	results []*eval.Result
	calls   int
}

func (e *multiStepEval) Run(ctx context.Context, params eval.Params, dispatch eval.ToolDispatcher) (*eval.Result, error) {
	idx := e.calls
	if idx >= len(e.results) {
		idx = len(e.results) - 1
	}
	e.calls++
	return e.results[idx], nil
}

// blockingProvider blocks its first Complete call on unblock closing, after
// signaling entered, so a test can submit a second turn while the first is
// still in its think phase.
type blockingProvider struct {
	unblock chan struct{}
	entered chan struct{}
	reply   string
	calls   int
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if p.calls == 0 {
		p.calls++
		close(p.entered)
		select {
		case <-p.unblock:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llm.Response{Text: p.reply}, nil
}

type noopScheduler struct{}

func (noopScheduler) Spawn(ctx context.Context, req SubcallRequest) (*SubcallResponse, error) {
	return &SubcallResponse{Answer: "child answer"}, nil
}

func (noopScheduler) Parallel(ctx context.Context, reqs []SubcallRequest) ([]*SubcallResponse, error) {
	out := make([]*SubcallResponse, len(reqs))
	for i := range reqs {
		out[i] = &SubcallResponse{Answer: "ok"}
	}
	return out, nil
}

func (noopScheduler) Direct(ctx context.Context, req SubcallRequest) (json.RawMessage, error) {
	return json.RawMessage(`{"ok":true}`), nil
}

func newTestWorker(provider llm.Provider, evaluator EvaluatorBackend) *Worker {
	registry := tools.NewRegistry()
	attrs := rlmtypes.WorkerAttrs{SpanID: "span-1", RunID: "run-1", Depth: 0, Mode: rlmtypes.ModeOneShot}
	return New(Config{MaxIterations: 5}, attrs, provider, evaluator, registry, noopScheduler{})
}

func TestWorkerReturnsFinalAnswerImmediately(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"reasoning":"easy","code":"final_answer = 42"}`}}
	evaluator := &scriptedEval{result: &eval.Result{Bindings: map[string]any{"final_answer": 42.0}}}
	w := newTestWorker(provider, evaluator)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	res, err := w.SubmitTurn(ctx, "what is the answer?")
	require.NoError(t, err)
	require.Equal(t, 42.0, res.FinalAnswer)
	require.Len(t, res.Iterations, 1)
}

func TestWorkerExecutesCodeThenFinishes(t *testing.T) {
	provider := &scriptedProvider{replies: []string{
		`{"reasoning":"compute x","code":"x = 1"}`,
		`{"reasoning":"done","code":"final_answer = \"done\""}`,
	}}
	evaluator := &multiStepEval{results: []*eval.Result{
		{Bindings: map[string]any{"x": 1.0}, Stdout: "ran"},
		{Bindings: map[string]any{"final_answer": "done"}},
	}}
	w := newTestWorker(provider, evaluator)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	res, err := w.SubmitTurn(ctx, "compute x")
	require.NoError(t, err)
	require.Equal(t, "done", res.FinalAnswer)
	require.Len(t, res.Iterations, 2)
	require.Equal(t, "ran", res.Iterations[0].Stdout)

	bound, ok := w.Bindings().Get("x")
	require.True(t, ok)
	require.Equal(t, 1.0, bound.Value)
}

func TestWorkerRollsBackBindingsOnEvalFailure(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"reasoning":"oops","code":"raise ValueError()"}`}}
	evaluator := &scriptedEval{result: &eval.Result{Bindings: map[string]any{"x": 99.0}, Error: "ValueError"}}
	w := newTestWorker(provider, evaluator)
	w.cfg.MaxIterations = 1
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	_, err := w.SubmitTurn(ctx, "fail")
	require.Error(t, err)

	_, ok := w.Bindings().Get("x")
	require.False(t, ok, "bindings from a failing snippet must not be merged")
}

func TestWorkerExhaustsIterationBudget(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"reasoning":"stuck","code":"pass"}`}}
	evaluator := &scriptedEval{result: &eval.Result{}}
	w := newTestWorker(provider, evaluator)
	w.cfg.MaxIterations = 2
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	res, err := w.SubmitTurn(ctx, "loop forever")
	require.Error(t, err)
	require.Len(t, res.Iterations, 2)
}

func TestWorkerStatusRoundTrips(t *testing.T) {
	provider := &scriptedProvider{replies: []string{`{"reasoning":"ok","code":"final_answer = \"ok\""}`}}
	evaluator := &scriptedEval{result: &eval.Result{Bindings: map[string]any{"final_answer": "ok"}}}
	w := newTestWorker(provider, evaluator)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	w.Start(ctx)

	attrs, err := w.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, "span-1", attrs.SpanID)
}

func TestWorkerRejectsConcurrentTurnWhileThinking(t *testing.T) {
	blockThinking := make(chan struct{})
	provider := &blockingProvider{unblock: blockThinking, entered: make(chan struct{}), reply: `{"reasoning":"ok","code":"final_answer = \"ok\""}`}
	evaluator := &scriptedEval{result: &eval.Result{Bindings: map[string]any{"final_answer": "ok"}}}
	w := newTestWorker(provider, evaluator)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	w.Start(ctx)

	done := make(chan *TurnResult, 1)
	go func() {
		res, _ := w.SubmitTurn(ctx, "first")
		done <- res
	}()

	<-provider.entered
	_, err := w.SubmitTurn(ctx, "second")
	require.ErrorIs(t, err, rlmerrors.ErrBusy)

	close(blockThinking)
	<-done
}
