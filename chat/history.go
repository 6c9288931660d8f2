package chat

import (
	"sync"
	"time"
)

// DefaultHistorySize is the number of chat messages retained in memory.
const DefaultHistorySize = 100

// Message is a single chat line received from or sent to a channel.
type Message struct {
	Channel  string    `json:"channel"`
	Username string    `json:"username"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
}

// History is a fixed-capacity ring buffer of recent chat messages.
// Appends past capacity evict the oldest entry. Safe for concurrent use.
type History struct {
	mu      sync.Mutex
	cap     int
	entries []Message
}

// NewHistory returns a history retaining at most capacity messages.
// A non-positive capacity falls back to DefaultHistorySize.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{cap: capacity, entries: make([]Message, 0, capacity)}
}

// Append records a message, evicting the oldest when full.
func (h *History) Append(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.entries) == h.cap {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.cap-1]
	}
	h.entries = append(h.entries, m)
}

// Recent returns up to limit of the newest messages in chronological order.
// A non-positive or oversized limit returns everything retained.
func (h *History) Recent(limit int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Message, limit)
	copy(out, h.entries[n-limit:])
	return out
}

// Len reports how many messages are currently retained.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
