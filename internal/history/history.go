// Package history keeps the bounded rolling window of recent observations
// used as conversational context.
package history

import (
	"sync"

	"github.com/agentoven/companion/pkg/models"
)

// DefaultCapacity is the number of observations kept when none is configured.
const DefaultCapacity = 20

// History is a thread-safe ring of the last N observations, oldest first,
// that also streams new observations to subscribers.
type History struct {
	mu          sync.RWMutex
	entries     []models.Observation
	capacity    int
	subscribers map[chan models.Observation]struct{}
}

// New creates a history that retains up to capacity observations.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		entries:     make([]models.Observation, 0, capacity),
		capacity:    capacity,
		subscribers: make(map[chan models.Observation]struct{}),
	}
}

// Append adds obs, evicting the oldest entry when full, and broadcasts it.
func (h *History) Append(obs models.Observation) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) >= h.capacity {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:len(h.entries)-1]
	}
	h.entries = append(h.entries, obs)

	for ch := range h.subscribers {
		select {
		case ch <- obs:
		default:
			// slow subscriber misses this one
		}
	}
}

// Recent returns the last n observations, oldest first. n <= 0 returns all.
func (h *History) Recent(n int) []models.Observation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := len(h.entries)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]models.Observation, n)
	copy(out, h.entries[total-n:])
	return out
}

// Latest returns the most recent observation, if any.
func (h *History) Latest() (models.Observation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return models.Observation{}, false
	}
	return h.entries[len(h.entries)-1], true
}

// Len returns the number of stored observations.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Capacity returns the bound.
func (h *History) Capacity() int { return h.capacity }

// Subscribe returns a channel that receives every appended observation.
// Call Unsubscribe when done.
func (h *History) Subscribe() chan models.Observation {
	ch := make(chan models.Observation, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *History) Unsubscribe(ch chan models.Observation) {
	h.mu.Lock()
	delete(h.subscribers, ch)
	h.mu.Unlock()
	close(ch)
}
