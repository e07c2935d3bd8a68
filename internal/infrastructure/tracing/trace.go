package tracing

import (
	"sync"

	"go.uber.org/zap"
)

// Kind classifies a kernel trace event.
type Kind string

const (
	KindSwitch    Kind = "switch"
	KindSyscall   Kind = "syscall"
	KindFault     Kind = "fault"
	KindRestart   Kind = "restart"
	KindStop      Kind = "stop"
	KindExit      Kind = "exit"
	KindInstall   Kind = "install"
	KindUninstall Kind = "uninstall"
	KindConsole   Kind = "console"
)

// Event is one kernel occurrence on the trace stream. Pid and Name
// identify the process involved, when there is one.
type Event struct {
	Tick   uint64 `json:"tick"`
	Kind   Kind   `json:"kind"`
	Pid    string `json:"pid,omitempty"`
	Name   string `json:"name,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Hub fans kernel events out to subscribers. Publishing never blocks:
// a subscriber that falls behind loses events, counted per subscriber,
// rather than stalling the kernel loop.
type Hub struct {
	logger *zap.Logger

	mu      sync.Mutex
	nextID  int
	subs    map[int]*subscriber
	dropped uint64
}

type subscriber struct {
	ch      chan Event
	dropped uint64
}

// NewHub creates an event hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[int]*subscriber),
	}
}

// Subscribe registers a listener with its own buffer. The cancel
// function removes the listener and closes its channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 256
	}
	sub := &subscriber{ch: make(chan Event, buffer)}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		s, ok := h.subs[id]
		if ok {
			delete(h.subs, id)
		}
		h.mu.Unlock()
		if ok {
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish sends the event to every subscriber that has room.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped++
			h.dropped++
			if h.dropped%1000 == 1 {
				h.logger.Warn("trace buffer full, dropping events",
					zap.String("kind", string(ev.Kind)),
					zap.Uint64("dropped", h.dropped),
				)
			}
		}
	}
}

// Subscribers returns the current listener count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Dropped returns how many events were lost to full buffers, summed
// over all subscribers.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
