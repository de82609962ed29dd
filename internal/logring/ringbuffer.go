package logring

import (
	"log/slog"
	"sync"
	"time"
)

// LogEntry is a single log record retained for the status API.
type LogEntry struct {
	Time    time.Time      `json:"time"`
	Level   slog.Level     `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// RingBuffer is a thread-safe circular buffer of recent log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	head    int // next write position
	full    bool
	cap     int
}

// NewRingBuffer creates a ring buffer holding up to capacity entries.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &RingBuffer{
		entries: make([]LogEntry, capacity),
		cap:     capacity,
	}
}

// Add appends an entry, overwriting the oldest when full.
func (rb *RingBuffer) Add(entry LogEntry) {
	rb.mu.Lock()
	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.cap
	if rb.head == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// Entries returns up to limit entries at or above minLevel, newest first.
// limit <= 0 means no limit.
func (rb *RingBuffer) Entries(limit int, minLevel slog.Level) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	n := rb.length()
	var result []LogEntry
	for i := 0; i < n && (limit <= 0 || len(result) < limit); i++ {
		idx := (rb.head - 1 - i + rb.cap) % rb.cap
		e := rb.entries[idx]
		if e.Level < minLevel {
			continue
		}
		result = append(result, e)
	}
	return result
}

// Len returns the number of entries currently held.
func (rb *RingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.length()
}

func (rb *RingBuffer) length() int {
	if rb.full {
		return rb.cap
	}
	return rb.head
}
