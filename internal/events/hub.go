// Package events fans progress events of conversion jobs out to their SSE
// subscribers.
package events

import (
	"sync"

	"github.com/sly67/projconv/internal/metrics"
	"github.com/sly67/projconv/internal/protocol"
)

const subscriberBuffer = 256

// Subscription receives the events of one job. C is closed after the
// terminal event or on Unsubscribe.
type Subscription struct {
	C  <-chan protocol.ProgressEvent
	id string
	ch chan protocol.ProgressEvent
}

type job struct {
	history []protocol.ProgressEvent
	subs    map[chan protocol.ProgressEvent]struct{}
	done    bool
}

// Hub keeps the event history of each job and its live subscribers.
type Hub struct {
	mu   sync.RWMutex
	jobs map[string]*job
	subs int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{jobs: make(map[string]*job)}
}

// Open registers a job so it can be subscribed to before its first event.
func (h *Hub) Open(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.jobs[id]; !ok {
		h.jobs[id] = &job{subs: make(map[chan protocol.ProgressEvent]struct{})}
	}
}

// Subscribe returns the events published so far and a subscription for the
// rest. ok is false for an unknown job. For a finished job the subscription
// channel is already closed.
func (h *Hub) Subscribe(id string) (history []protocol.ProgressEvent, sub *Subscription, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	j, ok := h.jobs[id]
	if !ok {
		return nil, nil, false
	}
	history = append([]protocol.ProgressEvent(nil), j.history...)

	ch := make(chan protocol.ProgressEvent, subscriberBuffer)
	if j.done {
		close(ch)
	} else {
		j.subs[ch] = struct{}{}
		h.subs++
		metrics.SetHubSubscribers(h.subs)
	}
	return history, &Subscription{C: ch, id: id, ch: ch}, true
}

// Unsubscribe removes a subscriber and closes its channel. It is safe to call
// after the job finished.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	j, ok := h.jobs[sub.id]
	if !ok {
		return
	}
	if _, live := j.subs[sub.ch]; live {
		delete(j.subs, sub.ch)
		close(sub.ch)
		h.subs--
		metrics.SetHubSubscribers(h.subs)
	}
}

// Publish appends an event to the job's history and sends it to every
// subscriber. Non-blocking: a full subscriber buffer drops the event for that
// subscriber. A terminal event finishes the job and closes all subscriptions.
func (h *Hub) Publish(id string, ev protocol.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	j, ok := h.jobs[id]
	if !ok || j.done {
		return
	}
	j.history = append(j.history, ev)
	for ch := range j.subs {
		select {
		case ch <- ev:
		default:
			// Drop event for slow consumer
		}
	}
	metrics.RecordHubEvent(ev.Status)

	if ev.Terminal() {
		j.done = true
		for ch := range j.subs {
			close(ch)
			h.subs--
		}
		clear(j.subs)
		metrics.SetHubSubscribers(h.subs)
	}
}

// Forget drops a job and closes its remaining subscriptions. Later
// subscribers see an unknown job.
func (h *Hub) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	j, ok := h.jobs[id]
	if !ok {
		return
	}
	for ch := range j.subs {
		close(ch)
		h.subs--
	}
	delete(h.jobs, id)
	metrics.SetHubSubscribers(h.subs)
}
