// Package vpn provides VPN connection management functionality.
// This file contains the LogBuffer used by front ends to keep recent output.
package vpn

import "github.com/yllada/ovpn-manager/common"

// LogBuffer is a bounded ring of the most recent log events.
// When full, adding an event evicts the oldest one.
//
// LogBuffer is not safe for concurrent use. It belongs to a single
// consumer, normally the goroutine that receives OnLog callbacks.
type LogBuffer struct {
	entries []LogEvent
	start   int
	size    int
}

// NewLogBuffer creates a buffer holding up to capacity events.
// A non-positive capacity selects common.LogBufferCapacity.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = common.LogBufferCapacity
	}
	return &LogBuffer{
		entries: make([]LogEvent, capacity),
	}
}

// Add appends an event, evicting the oldest when the buffer is full.
func (b *LogBuffer) Add(e LogEvent) {
	capacity := len(b.entries)
	if b.size < capacity {
		b.entries[(b.start+b.size)%capacity] = e
		b.size++
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % capacity
}

// Len returns the number of stored events.
func (b *LogBuffer) Len() int {
	return b.size
}

// Cap returns the maximum number of events the buffer holds.
func (b *LogBuffer) Cap() int {
	return len(b.entries)
}

// At returns the i-th stored event, 0 being the oldest.
func (b *LogBuffer) At(i int) (LogEvent, bool) {
	if i < 0 || i >= b.size {
		return LogEvent{}, false
	}
	return b.entries[(b.start+i)%len(b.entries)], true
}

// Entries returns a copy of the stored events from oldest to newest.
func (b *LogBuffer) Entries() []LogEvent {
	out := make([]LogEvent, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(b.start+i)%len(b.entries)]
	}
	return out
}

// Clear removes every event.
func (b *LogBuffer) Clear() {
	for i := range b.entries {
		b.entries[i] = LogEvent{}
	}
	b.start = 0
	b.size = 0
}
