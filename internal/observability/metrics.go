package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the otel instruments tracking a run's resource usage:
// iteration counts, eval duration, sub-call fanout/depth, and LLM request
// latency. Grounded on the teacher's Prometheus-backed Metrics struct
// (internal/observability/metrics.go), ported to otel instruments so the
// exporter (Prometheus, OTLP, or none) is a deployment choice rather than
// baked into the instrumentation call sites.
type Metrics struct {
	Iterations       metric.Int64Counter
	EvalDuration     metric.Float64Histogram
	SubcallDepth     metric.Int64Histogram
	SubcallFanout    metric.Int64Histogram
	LLMRequestDur    metric.Float64Histogram
	LLMTokens        metric.Int64Counter
	ToolExecutions   metric.Int64Counter
	ToolDuration     metric.Float64Histogram
	ActiveWorkers    metric.Int64UpDownCounter
	Errors           metric.Int64Counter
	HTTPRequestDur   metric.Float64Histogram
}

// NewMetrics registers every instrument against the given meter. meter is
// usually obtained from an otel MeterProvider wired up in cmd/rlm (one with
// no exporter unless the metrics.exporter config key is "prometheus", a
// Prometheus-backed one otherwise).
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.Iterations, err = meter.Int64Counter("rlm.worker.iterations",
		metric.WithDescription("Think-eval-observe iterations executed")); err != nil {
		return nil, err
	}
	if m.EvalDuration, err = meter.Float64Histogram("rlm.eval.duration",
		metric.WithDescription("Duration of a single eval subprocess call"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.SubcallDepth, err = meter.Int64Histogram("rlm.subcall.depth",
		metric.WithDescription("Recursion depth at which a sub-call was spawned")); err != nil {
		return nil, err
	}
	if m.SubcallFanout, err = meter.Int64Histogram("rlm.subcall.fanout",
		metric.WithDescription("Child workers active in the scheduler when a sub-call was spawned")); err != nil {
		return nil, err
	}
	if m.LLMRequestDur, err = meter.Float64Histogram("rlm.llm.request.duration",
		metric.WithDescription("Duration of an LLM completion call"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.LLMTokens, err = meter.Int64Counter("rlm.llm.tokens",
		metric.WithDescription("Tokens consumed, by direction (input|output)")); err != nil {
		return nil, err
	}
	if m.ToolExecutions, err = meter.Int64Counter("rlm.tool.executions",
		metric.WithDescription("Sandbox tool invocations, by tool and status")); err != nil {
		return nil, err
	}
	if m.ToolDuration, err = meter.Float64Histogram("rlm.tool.duration",
		metric.WithDescription("Duration of a sandbox tool execution"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.ActiveWorkers, err = meter.Int64UpDownCounter("rlm.worker.active",
		metric.WithDescription("Workers currently running (root and sub-call)")); err != nil {
		return nil, err
	}
	if m.Errors, err = meter.Int64Counter("rlm.errors",
		metric.WithDescription("Errors by component and kind")); err != nil {
		return nil, err
	}
	if m.HTTPRequestDur, err = meter.Float64Histogram("rlm.http.request.duration",
		metric.WithDescription("HTTP API request latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordIteration(ctx context.Context, runID string) {
	m.Iterations.Add(ctx, 1, metric.WithAttributes(runIDAttr(runID)))
}

func (m *Metrics) RecordEval(ctx context.Context, runID string, seconds float64, crashed bool) {
	status := "ok"
	if crashed {
		status = "crashed"
	}
	m.EvalDuration.Record(ctx, seconds, metric.WithAttributes(runIDAttr(runID), statusAttr(status)))
}

func (m *Metrics) RecordSubcall(ctx context.Context, depth, fanout int) {
	m.SubcallDepth.Record(ctx, int64(depth))
	if fanout > 0 {
		m.SubcallFanout.Record(ctx, int64(fanout))
	}
}

func (m *Metrics) RecordLLMRequest(ctx context.Context, model string, seconds float64, inputTokens, outputTokens int) {
	m.LLMRequestDur.Record(ctx, seconds, metric.WithAttributes(modelAttr(model)))
	m.LLMTokens.Add(ctx, int64(inputTokens), metric.WithAttributes(modelAttr(model), directionAttr("input")))
	m.LLMTokens.Add(ctx, int64(outputTokens), metric.WithAttributes(modelAttr(model), directionAttr("output")))
}

func (m *Metrics) RecordToolExecution(ctx context.Context, toolName string, seconds float64, isError bool) {
	status := "ok"
	if isError {
		status = "error"
	}
	m.ToolExecutions.Add(ctx, 1, metric.WithAttributes(toolAttr(toolName), statusAttr(status)))
	m.ToolDuration.Record(ctx, seconds, metric.WithAttributes(toolAttr(toolName)))
}

func (m *Metrics) WorkerStarted(ctx context.Context)  { m.ActiveWorkers.Add(ctx, 1) }
func (m *Metrics) WorkerFinished(ctx context.Context) { m.ActiveWorkers.Add(ctx, -1) }

func (m *Metrics) RecordError(ctx context.Context, component, kind string) {
	m.Errors.Add(ctx, 1, metric.WithAttributes(componentAttr(component), kindAttr(kind)))
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, statusCode int, seconds float64) {
	m.HTTPRequestDur.Record(ctx, seconds, metric.WithAttributes(
		methodAttr(method), routeAttr(route), statusCodeAttr(statusCode),
	))
}
