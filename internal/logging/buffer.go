package logging

import (
	"sync"
	"time"
)

// LogEntry is a single log record kept in the ring buffer. Seq is assigned
// by the buffer and increases by one per entry, across wraparound.
type LogEntry struct {
	Seq        uint64         `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer keeps the most recent log entries.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    uint64 // seq of the next entry
}

// NewRingBuffer creates a ring buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size < 1 {
		size = 1
	}
	return &RingBuffer{
		entries: make([]LogEntry, size),
		next:    1,
	}
}

// Write stores entry, overwriting the oldest one when full, and returns it
// with its sequence number set.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	entry.Seq = rb.next
	rb.entries[int(rb.next%uint64(len(rb.entries)))] = entry
	rb.next++
	return entry
}

// ReadAll returns all entries, oldest first.
func (rb *RingBuffer) ReadAll() []LogEntry {
	return rb.Last(0)
}

// Last returns the n most recent entries, oldest first. n <= 0 means all.
func (rb *RingBuffer) Last(n int) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	count := rb.count()
	if n > 0 && n < count {
		count = n
	}
	return rb.tail(count)
}

// Since returns the entries with a sequence number greater than seq.
// Entries already overwritten are skipped.
func (rb *RingBuffer) Since(seq uint64) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if seq+1 >= rb.next {
		return nil
	}
	n := rb.next - 1 - seq
	if c := uint64(rb.count()); n > c {
		n = c
	}
	return rb.tail(int(n))
}

// Count returns the number of entries in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count()
}

func (rb *RingBuffer) count() int {
	written := rb.next - 1
	if written < uint64(len(rb.entries)) {
		return int(written)
	}
	return len(rb.entries)
}

// tail copies the last n entries. Caller holds mu.
func (rb *RingBuffer) tail(n int) []LogEntry {
	if n == 0 {
		return nil
	}
	out := make([]LogEntry, n)
	size := uint64(len(rb.entries))
	first := rb.next - uint64(n)
	for i := range out {
		out[i] = rb.entries[int((first+uint64(i))%size)]
	}
	return out
}

// Capacity returns the maximum number of entries the buffer holds.
func (rb *RingBuffer) Capacity() int {
	return len(rb.entries)
}
