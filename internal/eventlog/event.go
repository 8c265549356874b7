// Package eventlog implements the run's event timeline and live pub/sub
// fan-out: every think/eval/tool-call/sub-call transition a Worker makes is
// recorded here so a run can be replayed or streamed to an SSE client.
// Grounded on internal/observability/events.go's Event/EventStore/
// EventRecorder, generalized from channel/session correlation IDs to the
// run_id/span_id/parent_span_id identifiers of a Worker's recursion tree.
package eventlog

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Type categorizes an event for filtering and display.
type Type string

const (
	TypeRunStart         Type = "run.start"
	TypeRunEnd           Type = "run.end"
	TypeRunError         Type = "run.error"
	TypeWorkerSpawn      Type = "worker.spawn"
	TypeIterationStep    Type = "worker.iteration"
	TypeEvalStart        Type = "eval.start"
	TypeEvalEnd          Type = "eval.end"
	TypeToolStart        Type = "tool.start"
	TypeToolEnd          Type = "tool.end"
	TypeToolError        Type = "tool.error"
	TypeSubcallStart     Type = "subcall.start"
	TypeSubcallEnd       Type = "subcall.end"
	TypeDirectQueryStart Type = "direct_query.start"
	TypeDirectQueryStop  Type = "direct_query.stop"
	TypeFinalAnswer      Type = "worker.final_answer"
)

// Event is a single entry in a run's timeline.
type Event struct {
	ID           string         `json:"id"`
	Type         Type           `json:"type"`
	Timestamp    time.Time      `json:"timestamp"`
	RunID        string         `json:"run_id,omitempty"`
	SpanID       string         `json:"span_id,omitempty"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Duration     time.Duration  `json:"duration_ns,omitempty"`
	Error        string         `json:"error,omitempty"`
}

var (
	idMu      sync.Mutex
	idCounter int64
)

func nextID() string {
	idMu.Lock()
	defer idMu.Unlock()
	idCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), idCounter)
}

// asSSE encodes the event as one line of JSON.
func (e *Event) asSSE() ([]byte, error) {
	return json.Marshal(e)
}

func sortByTimestamp(events []*Event) {
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
}
