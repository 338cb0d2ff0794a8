package message_broaker

import (
	"context"
	"sync"

	"github.com/RezaEskandarii/ticketfire/types"
)

// Hub is the in-process broadcaster behind the event stream endpoint. A subscriber that does not
// keep up loses events instead of stalling the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan types.TaskEvent
	next    int
	closed  bool
	dropped func(subscriber int)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan types.TaskEvent)}
}

// OnDrop registers a callback run whenever an event is dropped for a slow subscriber.
func (h *Hub) OnDrop(fn func(subscriber int)) {
	h.mu.Lock()
	h.dropped = fn
	h.mu.Unlock()
}

// Subscribe returns a channel of future events and a function that removes the subscription and
// closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan types.TaskEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan types.TaskEvent, buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(_ context.Context, event types.TaskEvent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			if h.dropped != nil {
				h.dropped(id)
			}
		}
	}
	return nil
}

// Close ends every subscription. Later subscribers get an already closed channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}
