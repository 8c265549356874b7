// Package subcall implements worker.Scheduler: the recursive sub-call
// machinery spec.md's lm_query, parallel_query, and direct-query
// capabilities resolve to. Grounded on internal/tools/subagent/spawn.go's
// Manager (atomic-counter concurrency limiting, background-goroutine
// spawn) generalized from fire-and-forget sub-agents into synchronous
// spawn-and-await child Workers, and internal/agent/executor.go's
// ExecuteAll (a sync.WaitGroup fan-out writing results into a pre-sized
// slice by index) for parallel_query.
package subcall

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/recursivelm/rlm/internal/llm"
	"github.com/recursivelm/rlm/internal/rlmerrors"
	"github.com/recursivelm/rlm/internal/rlmtypes"
	"github.com/recursivelm/rlm/internal/worker"
)

// WorkerFactory builds a fresh child Worker sharing the parent's provider,
// evaluator backend, and tool registry, but its own bindings and identity.
// Supplied by whatever owns the Run (the run supervisor), since only it
// knows how to wire a Worker's Evaluator and event sink.
type WorkerFactory func(attrs rlmtypes.WorkerAttrs) *worker.Worker

// Config bounds the scheduler's own resource usage, independent of any one
// Worker's Config.MaxDepth/MaxConcurrentSubcalls (those are enforced by
// the Worker before it ever calls Scheduler; this is the scheduler's own
// global ceiling across every Worker in a run).
type Config struct {
	MaxGlobalConcurrency int
	DefaultModel         string
	LargeModel           string
	SmallModel           string

	// Observer receives sub-call depth/fanout notifications, if set.
	Observer rlmtypes.Observer
}

// Scheduler implements worker.Scheduler.
type Scheduler struct {
	cfg      Config
	factory  WorkerFactory
	provider llm.Provider

	active int64
	sem    chan struct{}

	mu          sync.Mutex
	schemaCache map[string]*jsonschema.Schema
}

// New builds a Scheduler. provider is used directly for Direct queries
// (a single LLM call needs no child Worker); factory builds the child
// Workers Spawn and Parallel run to completion.
func New(cfg Config, factory WorkerFactory, provider llm.Provider) *Scheduler {
	if cfg.MaxGlobalConcurrency <= 0 {
		cfg.MaxGlobalConcurrency = 16
	}
	return &Scheduler{
		cfg:         cfg,
		factory:     factory,
		provider:    provider,
		sem:         make(chan struct{}, cfg.MaxGlobalConcurrency),
		schemaCache: make(map[string]*jsonschema.Schema),
	}
}

// Spawn runs one child Worker to completion and returns its final answer.
func (s *Scheduler) Spawn(ctx context.Context, req worker.SubcallRequest) (*worker.SubcallResponse, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	atomic.AddInt64(&s.active, 1)
	defer func() {
		atomic.AddInt64(&s.active, -1)
		<-s.sem
	}()

	depth := req.ParentDepth + 1
	if s.cfg.Observer != nil {
		s.cfg.Observer.SubcallStarted(ctx, "", req.ParentSpanID, depth, int(atomic.LoadInt64(&s.active)))
	}

	child := s.factory(rlmtypes.WorkerAttrs{
		SpanID:       uuid.NewString(),
		RunID:        "", // filled in by the factory from the parent run
		ParentSpanID: req.ParentSpanID,
		Depth:        depth,
		Mode:         rlmtypes.ModeOneShot,
	})
	if req.Context != nil {
		for k, v := range req.Context {
			child.Bindings().Set(k, v)
		}
	}
	child.Start(ctx)
	defer child.Stop()

	res, err := child.SubmitTurn(ctx, req.Query)
	if err != nil {
		return &worker.SubcallResponse{Err: err.Error()}, nil
	}
	return &worker.SubcallResponse{Answer: res.FinalAnswer}, nil
}

// Parallel runs each request as an independent child Worker concurrently,
// writing results into a pre-sized slice by index so the caller's ordering
// is preserved regardless of completion order.
func (s *Scheduler) Parallel(ctx context.Context, reqs []worker.SubcallRequest) ([]*worker.SubcallResponse, error) {
	results := make([]*worker.SubcallResponse, len(reqs))
	var wg sync.WaitGroup
	wg.Add(len(reqs))
	for i, req := range reqs {
		i, req := i, req
		go func() {
			defer wg.Done()
			res, err := s.Spawn(ctx, req)
			if err != nil {
				results[i] = &worker.SubcallResponse{Err: err.Error()}
				return
			}
			results[i] = res
		}()
	}
	wg.Wait()
	return results, nil
}

// Direct executes a single schema-constrained LLM call: no child Worker,
// no eval loop, just one Provider.Complete call whose reply is validated
// against req.Schema before it is handed back to the sandboxed caller.
func (s *Scheduler) Direct(ctx context.Context, req worker.SubcallRequest) (json.RawMessage, error) {
	started := time.Now()
	if s.cfg.Observer != nil {
		s.cfg.Observer.DirectQueryStarted(ctx, "", req.ParentSpanID)
	}
	result, err := s.direct(ctx, req)
	if s.cfg.Observer != nil {
		s.cfg.Observer.DirectQueryFinished(ctx, "", req.ParentSpanID, time.Since(started).Seconds(), err != nil)
	}
	return result, err
}

func (s *Scheduler) direct(ctx context.Context, req worker.SubcallRequest) (json.RawMessage, error) {
	model := s.cfg.DefaultModel
	switch req.ModelSize {
	case "large":
		if s.cfg.LargeModel != "" {
			model = s.cfg.LargeModel
		}
	case "small":
		if s.cfg.SmallModel != "" {
			model = s.cfg.SmallModel
		}
	}

	system := "Respond with a single JSON object and nothing else."
	if len(req.Schema) > 0 {
		system += " It must conform to this JSON Schema: " + string(req.Schema)
	}

	resp, err := s.provider.Complete(ctx, llm.Request{
		Model:  model,
		System: system,
		Messages: []llm.Message{
			{Role: "user", Content: req.Query},
		},
		Schema: req.Schema,
	})
	if err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindLLM, "subcall.Direct", req.ParentSpanID, err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(resp.Text), &decoded); err != nil {
		return nil, rlmerrors.Wrap(rlmerrors.KindValidation, "subcall.Direct", req.ParentSpanID, err).WithMessage("model reply was not valid JSON")
	}

	if len(req.Schema) > 0 {
		schema, err := s.compileSchema(req.Schema)
		if err != nil {
			return nil, rlmerrors.Wrap(rlmerrors.KindInternal, "subcall.Direct", req.ParentSpanID, err).WithMessage("compile response schema")
		}
		if err := schema.Validate(decoded); err != nil {
			return nil, fmt.Errorf("%w: %s", rlmerrors.ErrSchemaValidation, err)
		}
	}

	return json.RawMessage(resp.Text), nil
}

func (s *Scheduler) compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	s.mu.Lock()
	if cached, ok := s.schemaCache[key]; ok {
		s.mu.Unlock()
		return cached, nil
	}
	s.mu.Unlock()

	compiled, err := jsonschema.CompileString("direct_query.schema.json", key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.schemaCache[key] = compiled
	s.mu.Unlock()
	return compiled, nil
}

// ActiveCount reports how many child Workers are currently running,
// mirroring the teacher's Manager.ActiveCount for status endpoints.
func (s *Scheduler) ActiveCount() int { return int(atomic.LoadInt64(&s.active)) }

var _ worker.Scheduler = (*Scheduler)(nil)
