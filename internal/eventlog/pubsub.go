package eventlog

import (
	"context"
	"log/slog"
	"sync"
)

// subscriberBuffer bounds each subscriber's channel; a slow SSE client
// (GET /v1/runs/:id/events) must never back-pressure the Worker that is
// publishing, so a full channel drops the oldest queued event rather than
// blocking the publisher.
const subscriberBuffer = 256

// PubSub fans a run's events out to live subscribers (the SSE endpoint),
// independent of the durable Store. One chan Event per subscriber, modeled
// on the teacher's dashboard push pattern (internal/gateway) but scoped
// down to a single in-process broadcaster since this module has no
// external message bus.
type PubSub struct {
	mu          sync.Mutex
	subscribers map[string]map[chan *Event]struct{}
	logger      *slog.Logger
}

// NewPubSub builds a PubSub. logger may be nil, in which case drops are
// silently discarded rather than logged.
func NewPubSub(logger *slog.Logger) *PubSub {
	return &PubSub{
		subscribers: make(map[string]map[chan *Event]struct{}),
		logger:      logger,
	}
}

// Subscribe returns a channel receiving every future event for runID, plus
// an unsubscribe func the caller must call when done (typically via defer
// when the SSE request's context is cancelled).
func (p *PubSub) Subscribe(runID string) (<-chan *Event, func()) {
	ch := make(chan *Event, subscriberBuffer)

	p.mu.Lock()
	if p.subscribers[runID] == nil {
		p.subscribers[runID] = make(map[chan *Event]struct{})
	}
	p.subscribers[runID][ch] = struct{}{}
	p.mu.Unlock()

	unsubscribe := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subscribers[runID], ch)
		if len(p.subscribers[runID]) == 0 {
			delete(p.subscribers, runID)
		}
		close(ch)
	}
	return ch, unsubscribe
}

// Publish delivers event to every subscriber of event.RunID. A subscriber
// whose buffer is full has its oldest event dropped to make room, logged
// at warn, rather than blocking the publishing Worker.
func (p *PubSub) Publish(event *Event) {
	p.mu.Lock()
	subs := p.subscribers[event.RunID]
	chans := make([]chan *Event, 0, len(subs))
	for ch := range subs {
		chans = append(chans, ch)
	}
	p.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
				if p.logger != nil {
					p.logger.Warn("eventlog: dropped oldest event for slow subscriber",
						"run_id", event.RunID, "event_type", string(event.Type))
				}
			default:
			}
			select {
			case ch <- event:
			default:
				if p.logger != nil {
					p.logger.Warn("eventlog: dropping event for slow subscriber",
						"run_id", event.RunID, "event_type", string(event.Type))
				}
			}
		}
	}
}

// Recorder combines a durable Store with live PubSub fan-out: every
// recorded event is both persisted and broadcast. Grounded on the
// teacher's EventRecorder.
type Recorder struct {
	store  Store
	pubsub *PubSub
}

// NewRecorder builds a Recorder. pubsub may be nil to disable live fan-out
// (e.g. in tests that only care about the durable history).
func NewRecorder(store Store, pubsub *PubSub) *Recorder {
	return &Recorder{store: store, pubsub: pubsub}
}

// Record stores and (if pubsub is configured) broadcasts an event.
func (r *Recorder) Record(ctx context.Context, e *Event) error {
	if e.ID == "" {
		e.ID = nextID()
	}
	if err := r.store.Record(e); err != nil {
		return err
	}
	if r.pubsub != nil {
		r.pubsub.Publish(e)
	}
	return nil
}
