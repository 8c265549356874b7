// Package run implements the Run supervisor: it owns the
// context.Context/context.CancelFunc tree for a run's whole recursion
// tree, wires each Worker's Evaluator/provider/registry/event recorder
// together, and is the one piece of the engine that knows how to build a
// subcall.WorkerFactory. Grounded on internal/multiagent/orchestrator.go's
// registry-of-running-things pattern (a mutex-guarded map plus
// constructor-time wiring of shared collaborators), generalized from
// agent runtimes to Worker trees, and on internal/agent/executor.go's
// cascade-cancel-via-context.WithCancel idiom.
package run

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/recursivelm/rlm/internal/config"
	"github.com/recursivelm/rlm/internal/eval"
	"github.com/recursivelm/rlm/internal/eventlog"
	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/observability"
	"github.com/recursivelm/rlm/internal/rlmerrors"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/subcall"
	"github.com/recursivelm/rlm/internal/tools"
	"github.com/recursivelm/rlm/internal/worker"
)

// Run tracks one root Worker and its whole sub-call tree: a single
// cancellation scope, a recorder for its event timeline, and the final
// answer once the root Worker completes.
type Run struct {
	ID     string
	cancel context.CancelFunc

	mu     sync.Mutex
	status rlmtypes.Status
	answer any
	err    error

	root *worker.Worker
}

// Status reports the run's current lifecycle state and, once terminal,
// its final answer (a string, number, list, or any other
// JSON-representable value) or failure reason.
func (r *Run) Status() (status rlmtypes.Status, answer any, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.answer, r.err
}

// Cancel tears down the run's entire Worker tree: cancelling the root
// context reaches every descendant Worker (Scheduler.Spawn starts each
// child under the context of the sub-call that spawned it) and aborts
// any in-flight eval subprocess via exec.CommandContext.
func (r *Run) Cancel() { r.cancel() }

// Session tracks one keep-alive Worker across multiple messages: unlike a
// Run, which resolves after a single query, a Session's Worker stays
// alive (ModeKeepAlive) between SendMessage calls, retaining its
// bindings. Its event timeline is recorded under its own ID, exactly
// like a Run's.
type Session struct {
	ID     string
	cancel context.CancelFunc
	worker *worker.Worker
}

// Close tears down the session's Worker and its whole sub-call tree.
func (sess *Session) Close() { sess.cancel() }

// Status returns the session's underlying Worker's current attrs.
func (sess *Session) Status(ctx context.Context) (rlmtypes.WorkerAttrs, error) {
	return sess.worker.Status(ctx)
}

// Supervisor builds and tracks Runs. One Supervisor per process; it holds
// the shared collaborators (LLM provider, tool registry, metrics) that
// every Worker in every run's tree is built from.
type Supervisor struct {
	cfg      config.Config
	provider llm.Provider
	registry *tools.Registry
	metrics  *observability.Metrics
	store    eventlog.Store
	pubsub   *eventlog.PubSub

	mu       sync.Mutex
	runs     map[string]*Run
	sessions map[string]*Session
}

// New builds a Supervisor. metrics may be nil (metrics become no-ops at
// the call sites that check for it).
func New(cfg config.Config, provider llm.Provider, registry *tools.Registry, metrics *observability.Metrics, store eventlog.Store, pubsub *eventlog.PubSub) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		provider: provider,
		registry: registry,
		metrics:  metrics,
		store:    store,
		pubsub:   pubsub,
		runs:     make(map[string]*Run),
		sessions: make(map[string]*Session),
	}
}

// StartRun spawns a root Worker for query and returns immediately; the
// Worker's turn runs on its own goroutine. Use Status or subscribe via
// eventlog.PubSub to observe progress.
func (s *Supervisor) StartRun(ctx context.Context, query string, cwd string) (*Run, error) {
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	r := &Run{ID: runID, cancel: cancel, status: rlmtypes.StatusRunning}

	rootAttrs := rlmtypes.WorkerAttrs{
		SpanID: uuid.NewString(),
		RunID:  runID,
		Depth:  0,
		Mode:   rlmtypes.ModeOneShot,
		Cwd:    cwd,
	}
	r.root = s.buildWorker(rootAttrs)
	r.root.Start(runCtx)

	s.mu.Lock()
	s.runs[runID] = r
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.WorkerStarted(runCtx)
	}
	s.recordEvent(runCtx, runID, rootAttrs.SpanID, "", eventlog.TypeRunStart, nil)

	go func() {
		defer cancel()
		if s.metrics != nil {
			defer s.metrics.WorkerFinished(runCtx)
		}
		result, err := r.root.SubmitTurn(runCtx, query)

		r.mu.Lock()
		if err != nil {
			r.status = rlmtypes.StatusFailed
			r.err = err
		} else {
			r.status = rlmtypes.StatusComplete
			r.answer = result.FinalAnswer
		}
		r.mu.Unlock()

		if err != nil {
			s.recordEvent(runCtx, runID, rootAttrs.SpanID, "", eventlog.TypeRunError, map[string]any{"error": err.Error()})
		} else {
			s.recordEvent(runCtx, runID, rootAttrs.SpanID, "", eventlog.TypeRunEnd, map[string]any{"answer": result.FinalAnswer})
		}
	}()

	return r, nil
}

// Get returns a tracked Run by ID.
func (s *Supervisor) Get(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, rlmerrors.ErrRunNotFound
	}
	return r, nil
}

// StartSession builds a keep-alive Worker and tracks it under a fresh
// session ID, ready to receive messages via SendMessage.
func (s *Supervisor) StartSession(ctx context.Context, cwd string) (*Session, error) {
	sessionID := uuid.NewString()
	sessionCtx, cancel := context.WithCancel(ctx)

	attrs := rlmtypes.WorkerAttrs{
		SpanID: uuid.NewString(),
		RunID:  sessionID,
		Depth:  0,
		Mode:   rlmtypes.ModeKeepAlive,
		Cwd:    cwd,
	}
	w := s.buildWorker(attrs)
	w.Start(sessionCtx)

	sess := &Session{ID: sessionID, cancel: cancel, worker: w}
	s.mu.Lock()
	s.sessions[sessionID] = sess
	s.mu.Unlock()

	s.recordEvent(sessionCtx, sessionID, attrs.SpanID, "", eventlog.TypeRunStart, nil)
	return sess, nil
}

// GetSession returns a tracked Session by ID.
func (s *Supervisor) GetSession(sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, rlmerrors.ErrRunNotFound
	}
	return sess, nil
}

// SendMessage submits one message to a session's Worker and blocks until
// it replies with a turn result, exactly like a one-shot Run except the
// Worker's bindings persist for the next message.
func (s *Supervisor) SendMessage(ctx context.Context, sessionID, message string) (*worker.TurnResult, error) {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	attrs := sess.worker.Attrs()
	result, err := sess.worker.SubmitTurn(ctx, message)
	if err != nil {
		s.recordEvent(ctx, sessionID, attrs.SpanID, "", eventlog.TypeRunError, map[string]any{"error": err.Error()})
		return nil, err
	}
	s.recordEvent(ctx, sessionID, attrs.SpanID, "", eventlog.TypeRunEnd, map[string]any{"answer": result.FinalAnswer})
	return result, nil
}

// SessionHistory returns a session's recorded event timeline, identical in
// shape to a Run's history since both are recorded under the same ID
// namespace.
func (s *Supervisor) SessionHistory(sessionID string) ([]*eventlog.Event, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.GetByRunID(sessionID)
}

// buildWorker wires one Worker's Evaluator, provider, tool registry, and
// sub-call scheduler. This is the WorkerFactory's core, reused both for a
// run's root Worker and, via subcall.Scheduler, for every descendant.
func (s *Supervisor) buildWorker(attrs rlmtypes.WorkerAttrs) *worker.Worker {
	evaluator := eval.New(eval.Config{
		PythonPath:     s.cfg.Eval.PythonPath,
		DefaultTimeout: s.cfg.Eval.Timeout,
		MaxTimeout:     s.cfg.Eval.Timeout * 4,
	})

	factory := func(childAttrs rlmtypes.WorkerAttrs) *worker.Worker {
		childAttrs.RunID = attrs.RunID
		return s.buildWorker(childAttrs)
	}
	scheduler := subcall.New(subcall.Config{
		MaxGlobalConcurrency: s.cfg.Worker.MaxGlobalConcurrency,
		DefaultModel:         s.cfg.LLM.DefaultModel,
		LargeModel:           s.cfg.LLM.LargeModel,
		SmallModel:           s.cfg.LLM.SmallModel,
		Observer:             s,
	}, factory, s.provider)

	return worker.New(worker.Config{
		MaxIterations:         s.cfg.Worker.MaxIterations,
		MaxDepth:              s.cfg.Worker.MaxDepth,
		MaxConcurrentSubcalls: s.cfg.Worker.MaxConcurrentSubcalls,
		MaxWallTime:           s.cfg.Worker.MaxWallTime,
		Model:                 s.cfg.LLM.DefaultModel,
		Observer:              s,
	}, attrs, s.provider, evaluator, s.registry, scheduler)
}

// IterationStarted implements rlmtypes.Observer.
func (s *Supervisor) IterationStarted(ctx context.Context, runID, spanID string, n int) {
	if s.metrics != nil {
		s.metrics.RecordIteration(ctx, runID)
	}
	s.recordEvent(ctx, runID, spanID, "", eventlog.TypeIterationStep, map[string]any{"iteration": n})
}

// EvalFinished implements rlmtypes.Observer.
func (s *Supervisor) EvalFinished(ctx context.Context, runID, spanID string, seconds float64, crashed bool) {
	if s.metrics != nil {
		s.metrics.RecordEval(ctx, runID, seconds, crashed)
	}
	typ := eventlog.TypeEvalEnd
	if crashed {
		typ = eventlog.TypeToolError
	}
	s.recordEvent(ctx, runID, spanID, "", typ, map[string]any{"seconds": seconds, "crashed": crashed})
}

// ToolExecuted implements rlmtypes.Observer.
func (s *Supervisor) ToolExecuted(ctx context.Context, runID, spanID, name string, seconds float64, isError bool) {
	if s.metrics != nil {
		s.metrics.RecordToolExecution(ctx, name, seconds, isError)
	}
	typ := eventlog.TypeToolEnd
	if isError {
		typ = eventlog.TypeToolError
	}
	s.recordEvent(ctx, runID, spanID, "", typ, map[string]any{"tool": name, "seconds": seconds})
}

// SubcallStarted implements rlmtypes.Observer.
func (s *Supervisor) SubcallStarted(ctx context.Context, runID, parentSpanID string, depth, fanout int) {
	if s.metrics != nil {
		s.metrics.RecordSubcall(ctx, depth, fanout)
	}
	s.recordEvent(ctx, runID, "", parentSpanID, eventlog.TypeSubcallStart, map[string]any{"depth": depth, "fanout": fanout})
}

// DirectQueryStarted implements rlmtypes.Observer.
func (s *Supervisor) DirectQueryStarted(ctx context.Context, runID, parentSpanID string) {
	s.recordEvent(ctx, runID, "", parentSpanID, eventlog.TypeDirectQueryStart, nil)
}

// DirectQueryFinished implements rlmtypes.Observer.
func (s *Supervisor) DirectQueryFinished(ctx context.Context, runID, parentSpanID string, seconds float64, isError bool) {
	if s.metrics != nil {
		s.metrics.RecordToolExecution(ctx, "direct_query", seconds, isError)
	}
	s.recordEvent(ctx, runID, "", parentSpanID, eventlog.TypeDirectQueryStop, map[string]any{"seconds": seconds, "error": isError})
}

// FinalAnswer implements rlmtypes.Observer.
func (s *Supervisor) FinalAnswer(ctx context.Context, runID, spanID, answer string) {
	s.recordEvent(ctx, runID, spanID, "", eventlog.TypeFinalAnswer, map[string]any{"answer": answer})
}

var _ rlmtypes.Observer = (*Supervisor)(nil)

func (s *Supervisor) recordEvent(ctx context.Context, runID, spanID, parentSpanID string, typ eventlog.Type, data map[string]any) {
	if s.store == nil {
		return
	}
	rec := eventlog.NewRecorder(s.store, s.pubsub)
	_ = rec.Record(ctx, &eventlog.Event{
		Type:         typ,
		Timestamp:    time.Now(),
		RunID:        runID,
		SpanID:       spanID,
		ParentSpanID: parentSpanID,
		Data:         data,
	})
}
