package httpapi

import (
	"sync"
	"time"
)

// NotifyEvent is one provider notification as delivered to event-stream
// subscribers.
type NotifyEvent struct {
	Path      string    `json:"path"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHub fans provider notifications out to websocket subscribers. It
// satisfies the provider's notify-sink contract; a slow subscriber drops
// events rather than stalling the provider.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan NotifyEvent
	closed bool
}

func NewEventHub() *EventHub {
	return &EventHub{subs: map[int]chan NotifyEvent{}}
}

func (h *EventHub) Notify(relativePath, event string) {
	ev := NotifyEvent{
		Path:      relativePath,
		Event:     event,
		Timestamp: time.Now().UTC(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called when the subscriber goes away.
func (h *EventHub) Subscribe() (<-chan NotifyEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan NotifyEvent, 64)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
}

// Close drops all subscribers; further Notify calls are no-ops.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
