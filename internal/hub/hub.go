package hub

import "sync"

// Event types fanned out to telemetry subscribers.
const (
	EventReading         = "reading"
	EventDeviceStatus    = "device_status"
	EventRecordingStatus = "recording_status"
	EventTestComplete    = "test_complete"
	EventError           = "error"
	EventMessage         = "message"
)

// Event is one broadcast message: a type tag plus its JSON-ready payload.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans out telemetry events to subscribers and keeps a bounded
// history of recent readings so late joiners can backfill their charts.
// Publishing never blocks; slow subscribers lose events instead.
type Hub struct {
	mu           sync.RWMutex
	subscribers  map[chan Event]struct{}
	history      []Event
	historyLimit int
	bufferSize   int
}

// Options contains configuration for creating a Hub.
type Options struct {
	HistoryLimit int // readings retained for late joiners. Default: 500
	BufferSize   int // per-subscriber channel depth. Default: 64
}

// New creates a telemetry hub.
func New(opts Options) *Hub {
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 500
	}
	bufferSize := opts.BufferSize
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Hub{
		subscribers:  make(map[chan Event]struct{}),
		historyLimit: historyLimit,
		bufferSize:   bufferSize,
	}
}

// Publish broadcasts an event to all current subscribers. Reading events
// are also appended to the bounded history. Delivery is best-effort: a
// subscriber whose buffer is full is skipped, not waited on. Returns how
// many subscribers received the event and how many dropped it.
func (h *Hub) Publish(evt Event) (delivered, dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if evt.Type == EventReading {
		h.history = append(h.history, evt)
		if len(h.history) > h.historyLimit {
			h.history = h.history[len(h.history)-h.historyLimit:]
		}
	}

	for ch := range h.subscribers {
		select {
		case ch <- evt:
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

// Subscribe registers a listener for live events. The returned cancel
// func unregisters the listener and closes the channel; calling it more
// than once is safe.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, h.bufferSize)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Recent returns a copy of the buffered reading history, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Event, len(h.history))
	copy(out, h.history)
	return out
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
