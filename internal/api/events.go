package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/banshee-data/spatial.report/internal/arframe"
	"github.com/banshee-data/spatial.report/internal/monitoring"
)

// EventHub fans frame events out to SSE subscribers. Wire its Publish as
// the capture service's OnFrame callback. Slow subscribers lose events
// rather than backing up the hub: each subscriber has a small buffered
// channel and full channels are skipped.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan arframe.FrameEvent
}

// NewEventHub creates an empty hub.
func NewEventHub() *EventHub {
	return &EventHub{subs: make(map[int]chan arframe.FrameEvent)}
}

// Publish delivers an event to every subscriber, dropping it for any
// subscriber whose buffer is full.
func (h *EventHub) Publish(event arframe.FrameEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			monitoring.Debugf("api: subscriber %d lagging, dropped frame %s", id, event.FrameID)
		}
	}
}

// Subscribe registers a new subscriber. Call the returned cancel func to
// unsubscribe.
func (h *EventHub) Subscribe() (<-chan arframe.FrameEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan arframe.FrameEvent, 16)
	h.subs[id] = ch
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// SubscriberCount returns the number of active subscribers.
func (h *EventHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// streamEvents serves frame events as Server-Sent Events, one JSON payload
// per `frame` event, until the client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.hub == nil {
		s.writeJSONError(w, http.StatusNotFound, "event stream disabled")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeJSONError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	events, cancel := s.hub.Subscribe()
	defer cancel()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(event)
			if err != nil {
				monitoring.Logf("api: marshalling frame event failed: %v", err)
				continue
			}
			fmt.Fprintf(w, "event: frame\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
