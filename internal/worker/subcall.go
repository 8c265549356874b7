package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/recursivelm/rlm/internal/rlmerrors"
	"github.com/recursivelm/rlm/internal/rlmtypes"
)

// SubcallRequest describes one recursive request issued from inside a
// Worker's evaluated code: a direct query, a single sub_call, or one leg
// of a parallel_query fan-out.
type SubcallRequest struct {
	ParentSpanID string
	ParentDepth  int
	Query        string
	ModelSize    string // "large" or "small"
	Schema       json.RawMessage
	Context      map[string]any
}

// SubcallResponse is the result of a Spawn. Answer holds whatever value the
// child Worker's final_answer binding held when it completed -- a string,
// number, list, or any other JSON-representable value -- not necessarily a
// string.
type SubcallResponse struct {
	Answer any
	Err    string
}

// Scheduler is implemented by internal/subcall. It is the seam that lets
// the Worker issue recursive requests without knowing how a child Worker
// is constructed, wired to tools, or torn down.
type Scheduler interface {
	// Spawn runs one child Worker to completion (spec.md's lm_query) and
	// returns its final answer.
	Spawn(ctx context.Context, req SubcallRequest) (*SubcallResponse, error)
	// Parallel runs many requests as independent child Workers
	// concurrently, preserving input order in the result slice.
	Parallel(ctx context.Context, reqs []SubcallRequest) ([]*SubcallResponse, error)
	// Direct executes a single schema-constrained LLM call with no child
	// Worker and no eval loop.
	Direct(ctx context.Context, req SubcallRequest) (json.RawMessage, error)
}

type directQueryParams struct {
	Prompt string          `json:"prompt"`
	Schema json.RawMessage `json:"schema"`
}

func (w *Worker) handleDirectQuery(ctx context.Context, raw json.RawMessage) (*rlmtypes.ToolResult, error) {
	var p directQueryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return toolErrorResult(fmt.Sprintf("invalid direct_query parameters: %v", err)), nil
	}
	result, err := w.scheduler.Direct(ctx, SubcallRequest{
		ParentSpanID: w.attrs.SpanID,
		ParentDepth:  w.attrs.Depth,
		Query:        p.Prompt,
		Schema:       p.Schema,
	})
	if err != nil {
		return toolErrorResult(err.Error()), nil
	}
	return jsonToolResult(result), nil
}

type subCallParams struct {
	Task      string          `json:"task"`
	ModelSize string          `json:"model_size"`
	Context   map[string]any  `json:"context"`
	Schema    json.RawMessage `json:"schema"`
}

func (w *Worker) handleSubCall(ctx context.Context, raw json.RawMessage) (*rlmtypes.ToolResult, error) {
	if w.attrs.Depth+1 > w.cfg.MaxDepth {
		return toolErrorResult(rlmerrors.ErrMaxDepth.Error()), nil
	}

	w.mu.Lock()
	if w.attrs.ActiveSubcalls >= w.cfg.MaxConcurrentSubcalls {
		w.mu.Unlock()
		return toolErrorResult(rlmerrors.ErrMaxConcurrentSubcalls.Error()), nil
	}
	w.attrs.ActiveSubcalls++
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.attrs.ActiveSubcalls--
		w.mu.Unlock()
	}()

	var p subCallParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return toolErrorResult(fmt.Sprintf("invalid sub_call parameters: %v", err)), nil
	}

	resp, err := w.scheduler.Spawn(ctx, SubcallRequest{
		ParentSpanID: w.attrs.SpanID,
		ParentDepth:  w.attrs.Depth,
		Query:        p.Task,
		ModelSize:    p.ModelSize,
		Schema:       p.Schema,
		Context:      p.Context,
	})
	if err != nil {
		return toolErrorResult(err.Error()), nil
	}
	if resp.Err != "" {
		return toolErrorResult(resp.Err), nil
	}
	payload, err := json.Marshal(resp.Answer)
	if err != nil {
		return toolErrorResult(fmt.Sprintf("encode sub_call result: %v", err)), nil
	}
	return jsonToolResult(payload), nil
}

type parallelQueryParams struct {
	Prompts []string `json:"prompts"`
}

func (w *Worker) handleParallelQuery(ctx context.Context, raw json.RawMessage) (*rlmtypes.ToolResult, error) {
	if w.attrs.Depth+1 > w.cfg.MaxDepth {
		return toolErrorResult(rlmerrors.ErrMaxDepth.Error()), nil
	}

	var p parallelQueryParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return toolErrorResult(fmt.Sprintf("invalid parallel_query parameters: %v", err)), nil
	}

	reqs := make([]SubcallRequest, len(p.Prompts))
	for i, q := range p.Prompts {
		reqs[i] = SubcallRequest{ParentSpanID: w.attrs.SpanID, ParentDepth: w.attrs.Depth, Query: q}
	}

	w.mu.Lock()
	if w.attrs.ActiveSubcalls+len(reqs) > w.cfg.MaxConcurrentSubcalls {
		w.mu.Unlock()
		return toolErrorResult(rlmerrors.ErrMaxConcurrentSubcalls.Error()), nil
	}
	w.attrs.ActiveSubcalls += len(reqs)
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.attrs.ActiveSubcalls -= len(reqs)
		w.mu.Unlock()
	}()

	responses, err := w.scheduler.Parallel(ctx, reqs)
	if err != nil {
		return toolErrorResult(err.Error()), nil
	}

	answers := make([]any, len(responses))
	for i, r := range responses {
		if r == nil {
			answers[i] = nil
			continue
		}
		if r.Err != "" {
			answers[i] = "ERROR: " + r.Err
			continue
		}
		answers[i] = r.Answer
	}
	payload, err := json.Marshal(map[string]any{"results": answers})
	if err != nil {
		return toolErrorResult(fmt.Sprintf("encode parallel_query results: %v", err)), nil
	}
	return jsonToolResult(payload), nil
}
