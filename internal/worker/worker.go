// Package worker implements the Worker state machine: a per-run actor that
// drives the think -> emit code -> execute -> observe loop over a
// persistent binding store. Grounded on internal/agent/loop.go's
// AgenticLoop state machine (Init/Stream/Execute/Complete phases,
// MaxIterations/MaxWallTime budgets) and internal/tools/subagent/spawn.go's
// atomic-counter-guarded concurrency limiting, generalized from a
// background fire-and-forget sub-agent into the synchronous
// spawn-and-await recursion spec.md calls for.
//
// The Worker owns a single goroutine (run) and a message inbox; every
// external interaction -- submitting a turn, reading status, and every
// tool_call an active evaluation issues -- arrives as a message on that
// inbox and is serviced one at a time. The one rule that makes this
// deadlock-free: Evaluator.Run is always launched on a goroutine the
// Worker spawns for that purpose (see runEval), so the goroutine that is
// synchronously blocked waiting on the evaluated code is never the same
// goroutine that drains the inbox.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/recursivelm/rlm/internal/eval"
	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/rlmerrors"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/tools"
)

// EvaluatorBackend is the subset of *eval.Evaluator the Worker depends on,
// narrowed to an interface so tests can substitute a stub that never
// shells out to python3.
type EvaluatorBackend interface {
	Run(ctx context.Context, params eval.Params, dispatch eval.ToolDispatcher) (*eval.Result, error)
}

// Config bounds one Worker's resource usage, mirroring the budget fields
// of the teacher's LoopConfig (MaxIterations, MaxWallTime) narrowed to
// what a think/eval loop over a sandbox -- rather than a streaming
// tool-use conversation -- actually needs.
type Config struct {
	MaxIterations         int
	MaxWallTime           time.Duration
	MaxDepth              int
	MaxConcurrentSubcalls int
	Model                 string
	SystemPreamble        string

	// Observer receives iteration/eval/tool notifications, if set. nil is
	// a valid no-op value (the zero Config has no observer).
	Observer rlmtypes.Observer
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 25
	}
	if c.MaxDepth < 0 {
		c.MaxDepth = 4
	}
	if c.MaxConcurrentSubcalls <= 0 {
		c.MaxConcurrentSubcalls = 4
	}
	return c
}

// TurnResult is what SubmitTurn returns once a turn finishes, fails, or
// exhausts its iteration budget. FinalAnswer holds whatever value the
// evaluated code bound to final_answer -- a string, a number, a list, or
// any other JSON-representable value -- not necessarily a string.
type TurnResult struct {
	FinalAnswer any
	Iterations  []rlmtypes.IterationRecord
	Err         error
}

// Worker is a single think/eval actor. Construct with New, then Start on a
// goroutine before calling SubmitTurn.
type Worker struct {
	cfg       Config
	provider  llm.Provider
	evaluator EvaluatorBackend
	tools     *tools.Registry
	scheduler Scheduler

	inbox chan any
	done  chan struct{}

	// turnInFlight guards SubmitTurn for the entire duration of a turn --
	// think phase and eval phase alike -- so a concurrent SubmitTurn is
	// rejected with ErrBusy immediately rather than queuing on the inbox
	// while the run loop is blocked inside provider.Complete.
	turnInFlight atomic.Bool

	mu    sync.Mutex
	attrs rlmtypes.WorkerAttrs

	bindings *rlmtypes.Bindings
}

// New constructs a Worker. attrs.SpanID, attrs.RunID, and attrs.Depth must
// already be set by the caller (the Run supervisor or the sub-call
// scheduler spawning a child).
func New(cfg Config, attrs rlmtypes.WorkerAttrs, provider llm.Provider, evaluator EvaluatorBackend, registry *tools.Registry, scheduler Scheduler) *Worker {
	cfg = cfg.withDefaults()
	attrs.Status = rlmtypes.StatusIdle
	now := attrs.CreatedAt
	if now.IsZero() {
		attrs.CreatedAt = time.Now()
	}
	attrs.UpdatedAt = attrs.CreatedAt
	return &Worker{
		cfg:       cfg,
		provider:  provider,
		evaluator: evaluator,
		tools:     registry,
		scheduler: scheduler,
		inbox:     make(chan any, 1),
		done:      make(chan struct{}),
		attrs:     attrs,
		bindings:  rlmtypes.NewBindings(),
	}
}

// Bindings exposes the Worker's binding store so a caller constructing the
// initial context (spec.md's "optional context override") can seed it
// before Start.
func (w *Worker) Bindings() *rlmtypes.Bindings { return w.bindings }

// Attrs returns the Worker's identity fields (span id, run id, depth) --
// safe to read without going through the inbox since they never change
// after construction.
func (w *Worker) Attrs() rlmtypes.WorkerAttrs {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attrs
}

// Start launches the Worker's run loop. It returns immediately; the loop
// exits when ctx is done or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop signals the run loop to exit after its current turn, if any.
func (w *Worker) Stop() {
	close(w.done)
}

type turnMsg struct {
	ctx    context.Context
	prompt string
	reply  chan *TurnResult
}

type statusMsg struct {
	reply chan rlmtypes.WorkerAttrs
}

type toolCallMsg struct {
	ctx    context.Context
	name   string
	params json.RawMessage
	reply  chan toolCallReply
}

type toolCallReply struct {
	result *rlmtypes.ToolResult
	err    error
}

// SubmitTurn runs one think/eval/observe cycle (one-shot mode) or one
// message turn of a keep-alive session, blocking until it completes, fails,
// or ctx is done. Only one turn runs at a time per Worker; a turn submitted
// while another is in flight -- whether it is still thinking or already
// evaluating -- is rejected with rlmerrors.ErrBusy.
func (w *Worker) SubmitTurn(ctx context.Context, prompt string) (*TurnResult, error) {
	if !w.turnInFlight.CompareAndSwap(false, true) {
		return nil, rlmerrors.ErrBusy
	}
	defer w.turnInFlight.Store(false)

	reply := make(chan *TurnResult, 1)
	msg := &turnMsg{ctx: ctx, prompt: prompt, reply: reply}
	select {
	case w.inbox <- msg:
	case <-w.done:
		return nil, rlmerrors.ErrWorkerNotFound
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns a snapshot of the Worker's attrs by round-tripping
// through the inbox, so a caller reading status mid-turn observes a
// consistent value rather than racing the run loop.
func (w *Worker) Status(ctx context.Context) (rlmtypes.WorkerAttrs, error) {
	reply := make(chan rlmtypes.WorkerAttrs, 1)
	select {
	case w.inbox <- &statusMsg{reply: reply}:
	case <-w.done:
		return w.Attrs(), nil
	case <-ctx.Done():
		return rlmtypes.WorkerAttrs{}, ctx.Err()
	}
	select {
	case attrs := <-reply:
		return attrs, nil
	case <-ctx.Done():
		return rlmtypes.WorkerAttrs{}, ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case msg := <-w.inbox:
			switch m := msg.(type) {
			case *turnMsg:
				m.reply <- w.handleTurn(m.ctx, m.prompt)
			case *statusMsg:
				m.reply <- w.Attrs()
			case *toolCallMsg:
				// No evaluation is running, so nothing could have sent
				// this; answer defensively rather than dropping it.
				m.reply <- toolCallReply{err: fmt.Errorf("rlm: tool call with no active evaluation")}
			}
		}
	}
}

func (w *Worker) setStatus(status rlmtypes.Status) {
	w.mu.Lock()
	w.attrs.Status = status
	w.attrs.UpdatedAt = time.Now()
	w.mu.Unlock()
}

func (w *Worker) setIteration(n int) {
	w.mu.Lock()
	w.attrs.Iteration = n
	w.mu.Unlock()
}

// handleTurn runs the think/emit/execute/observe loop until a final
// answer is produced, an error occurs, or the iteration budget is spent.
// It runs entirely on the Worker's own run-loop goroutine; runEval below
// is the only place that goroutine ever waits on something else, and it
// keeps draining the inbox the whole time it waits.
func (w *Worker) handleTurn(ctx context.Context, prompt string) *TurnResult {
	w.setStatus(rlmtypes.StatusRunning)
	// spec.md: final_answer is cleared to unset at the start of every turn,
	// so a value set in a prior turn never leaks into this one.
	w.bindings.Delete("final_answer")

	var wallDeadline <-chan time.Time
	if w.cfg.MaxWallTime > 0 {
		timer := time.NewTimer(w.cfg.MaxWallTime)
		defer timer.Stop()
		wallDeadline = timer.C
	}

	var records []rlmtypes.IterationRecord
	for iter := 0; iter < w.cfg.MaxIterations; iter++ {
		select {
		case <-wallDeadline:
			w.setStatus(rlmtypes.StatusFailed)
			return &TurnResult{Iterations: records, Err: fmt.Errorf("rlm: wall time budget exceeded")}
		default:
		}

		w.setIteration(iter)
		if w.cfg.Observer != nil {
			w.cfg.Observer.IterationStarted(ctx, w.attrs.RunID, w.attrs.SpanID, iter)
		}

		sysPrompt := buildSystemPrompt(w.cfg, w.tools, w.bindings)
		userPrompt := buildUserPrompt(prompt, records)

		resp, err := w.provider.Complete(ctx, llm.Request{
			Model:  w.cfg.Model,
			System: sysPrompt,
			Messages: []llm.Message{
				{Role: "user", Content: userPrompt},
			},
		})
		if err != nil {
			w.setStatus(rlmtypes.StatusFailed)
			return &TurnResult{Iterations: records, Err: rlmerrors.Wrap(rlmerrors.KindLLM, "worker.handleTurn", w.attrs.SpanID, err)}
		}

		parsed := parseStep(resp.Text)

		rec := rlmtypes.IterationRecord{Index: iter, Prompt: userPrompt, Code: parsed.Code, StartedAt: time.Now()}
		result, evalErr := w.runEval(ctx, parsed.Code)
		rec.FinishedAt = time.Now()
		if w.cfg.Observer != nil {
			w.cfg.Observer.EvalFinished(ctx, w.attrs.RunID, w.attrs.SpanID, rec.FinishedAt.Sub(rec.StartedAt).Seconds(), evalErr != nil)
		}
		if result != nil {
			rec.Stdout = result.Stdout
			rec.EvalError = result.Error
			// A failing, timed-out, or crashed snippet rolls back: its
			// out_bindings reflect partial execution and must never reach
			// the persistent store, or a raised exception could leak
			// half-applied state into the next iteration.
			if len(result.Bindings) > 0 && result.Error == "" && !result.TimedOut && !result.Crashed {
				w.bindings.Merge(result.Bindings)
			}
		}
		if evalErr != nil {
			rec.Stderr = evalErr.Error()
		}
		records = append(records, rec)

		if binding, ok := w.bindings.Get("final_answer"); ok {
			w.mu.Lock()
			w.attrs.FinalAnswer = binding.Value
			w.mu.Unlock()
			w.setStatus(rlmtypes.StatusComplete)
			if w.cfg.Observer != nil {
				w.cfg.Observer.FinalAnswer(ctx, w.attrs.RunID, w.attrs.SpanID, stringifyAnswer(binding.Value))
			}
			return &TurnResult{FinalAnswer: binding.Value, Iterations: records}
		}
	}

	w.setStatus(rlmtypes.StatusFailed)
	w.mu.Lock()
	w.attrs.FailureReason = rlmerrors.ErrMaxIterations.Error()
	w.mu.Unlock()
	return &TurnResult{Iterations: records, Err: fmt.Errorf("%w: after %d iterations", rlmerrors.ErrMaxIterations, w.cfg.MaxIterations)}
}

// runEval launches the Evaluator on its own goroutine and then keeps
// servicing the inbox -- principally toolCallMsg, which arrives from
// w.dispatch running on that same goroutine -- until the evaluation
// finishes. This is the deadlock-free bridge spec.md requires: the run
// loop is never the goroutine blocked inside Evaluator.Run.
func (w *Worker) runEval(ctx context.Context, code string) (*eval.Result, error) {
	type outcome struct {
		result *eval.Result
		err    error
	}
	resultCh := make(chan outcome, 1)
	go func() {
		res, err := w.evaluator.Run(ctx, eval.Params{
			Code:     code,
			Bindings: w.bindings.Snapshot(),
			Cwd:      w.attrs.Cwd,
		}, w.dispatch)
		resultCh <- outcome{res, err}
	}()

	for {
		select {
		case out := <-resultCh:
			return out.result, out.err
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg := <-w.inbox:
			switch m := msg.(type) {
			case *toolCallMsg:
				result, err := w.handleToolCall(m.ctx, m.name, m.params)
				m.reply <- toolCallReply{result: result, err: err}
			case *statusMsg:
				m.reply <- w.Attrs()
			case *turnMsg:
				m.reply <- &TurnResult{Err: rlmerrors.ErrBusy}
			}
		}
	}
}

// dispatch is the eval.ToolDispatcher the Worker hands to the Evaluator.
// It runs on the goroutine runEval spawned, not the run-loop goroutine:
// it posts a toolCallMsg onto the inbox and blocks on its own reply
// channel, which is exactly the "fresh message on the inbox" spec.md
// describes for requests originating inside a running evaluation.
func (w *Worker) dispatch(ctx context.Context, name string, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	reply := make(chan toolCallReply, 1)
	msg := &toolCallMsg{ctx: ctx, name: name, params: params, reply: reply}
	select {
	case w.inbox <- msg:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleToolCall runs on the run-loop goroutine, inside runEval's select.
// It is allowed to block -- awaiting a spawned child Worker's completion,
// for instance -- because the evaluated Python code's call_tool() is
// itself synchronous: at most one toolCallMsg is ever in flight for a
// given Worker, so there is nothing else this goroutine needs to service
// concurrently.
func (w *Worker) handleToolCall(ctx context.Context, name string, params json.RawMessage) (*rlmtypes.ToolResult, error) {
	switch name {
	case "direct_query":
		return w.handleDirectQuery(ctx, params)
	case "sub_call":
		return w.handleSubCall(ctx, params)
	case "parallel_query":
		return w.handleParallelQuery(ctx, params)
	default:
		started := time.Now()
		result, err := w.tools.Execute(ctx, name, params)
		if w.cfg.Observer != nil {
			isError := err != nil || (result != nil && result.IsError)
			w.cfg.Observer.ToolExecuted(ctx, w.attrs.RunID, w.attrs.SpanID, name, time.Since(started).Seconds(), isError)
		}
		return result, err
	}
}
