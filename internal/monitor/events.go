package monitor

import (
	"log/slog"
	"sync"

	"github.com/terra-clan/quiz-solver/internal/models"
)

// Hub fans orchestration events out to subscribers. Slow subscribers miss
// events rather than blocking a run.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan models.Event]struct{}
	buffer int
}

// NewHub creates a hub whose subscriber channels hold buffer events
func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{
		subs:   make(map[chan models.Event]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns an event channel and a function that closes it
func (h *Hub) Subscribe() (<-chan models.Event, func()) {
	ch := make(chan models.Event, h.buffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room for it
func (h *Hub) Publish(ev models.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("dropping event for slow subscriber", "run_id", ev.RunID, "state", ev.State)
		}
	}
}

// Subscribers returns the number of open subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
