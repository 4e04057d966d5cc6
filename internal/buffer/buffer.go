// Package buffer implements the per-sender debounce buffer that groups
// rapid sequential messages from the same contact into one logical turn.
package buffer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/altair-labs/salesagent/internal/bus"
)

// Stats is a snapshot of buffer bookkeeping, exposed via the stats API.
type Stats struct {
	ActiveContacts   int `json:"active_contacts"`
	ActiveTimers     int `json:"active_timers"`
	BufferedMessages int `json:"buffered_messages"`
}

// entry owns one sender key's state. Its mutex is exclusive ownership of the
// pending list and timer; unrelated keys never contend.
type entry struct {
	mu      sync.Mutex
	pending []bus.InboundEvent
	timer   *time.Timer
}

// Buffer accumulates inbound events per sender key and emits the key on
// Ready exactly once per flush cycle: either when the quiet period elapses
// with no new arrivals, or immediately when the pending list hits the cap.
type Buffer struct {
	timeout time.Duration
	max     int

	mu      sync.Mutex // guards the key registry only
	entries map[string]*entry

	ready chan string
}

// New creates a buffer with the given quiet period and size cap.
func New(timeout time.Duration, maxMessages int) *Buffer {
	if maxMessages <= 0 {
		maxMessages = 10
	}
	return &Buffer{
		timeout: timeout,
		max:     maxMessages,
		entries: make(map[string]*entry),
		ready:   make(chan string, 256),
	}
}

// Ready returns the channel on which flush-ready sender keys are delivered.
// The consumer is responsible for draining the key's buffer.
func (b *Buffer) Ready() <-chan string { return b.ready }

func (b *Buffer) entry(key string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		e = &entry{}
		b.entries[key] = e
	}
	return e
}

// Add appends an event to the key's pending list and restarts its idle
// timer. Reaching the cap flushes immediately instead of arming a timer.
func (b *Buffer) Add(key string, ev bus.InboundEvent) {
	e := b.entry(key)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, ev)
	size := len(e.pending)

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}

	if size >= b.max {
		slog.Warn("buffer full, forcing immediate flush", "key", key, "size", size)
		b.ready <- key
		return
	}

	t := time.AfterFunc(b.timeout, func() { b.expire(key) })
	e.timer = t
	slog.Debug("buffered message", "key", key, "size", size, "max", b.max)
}

// expire runs on the timer goroutine when a key's quiet period elapses.
func (b *Buffer) expire(key string) {
	b.mu.Lock()
	e, ok := b.entries[key]
	b.mu.Unlock()
	if !ok {
		return
	}

	e.mu.Lock()
	// A nil timer means Add's cap path or Drain already claimed this cycle;
	// the late-firing timer must not signal a second flush.
	if e.timer == nil {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	empty := len(e.pending) == 0
	e.mu.Unlock()

	if empty {
		return
	}
	slog.Debug("debounce window elapsed", "key", key)
	b.ready <- key
}

// Peek returns a snapshot copy of the key's pending events without clearing.
func (b *Buffer) Peek(key string) []bus.InboundEvent {
	b.mu.Lock()
	e, ok := b.entries[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]bus.InboundEvent, len(e.pending))
	copy(out, e.pending)
	return out
}

// Drain atomically returns and clears the key's pending events, cancelling
// any live timer. The flush consumer calls this before any downstream work,
// so a failing handler never leaves stale payloads behind.
func (b *Buffer) Drain(key string) []bus.InboundEvent {
	b.mu.Lock()
	e, ok := b.entries[key]
	b.mu.Unlock()
	if !ok {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	out := e.pending
	e.pending = nil
	return out
}

// Len returns the key's current pending count.
func (b *Buffer) Len(key string) int {
	b.mu.Lock()
	e, ok := b.entries[key]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Sweep removes bookkeeping for keys with empty buffers and no live timer,
// bounding registry growth. Keys with an armed timer are left alone.
func (b *Buffer) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, e := range b.entries {
		e.mu.Lock()
		idle := len(e.pending) == 0 && e.timer == nil
		e.mu.Unlock()
		if idle {
			delete(b.entries, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("swept idle buffers", "removed", removed)
	}
	return removed
}

// Stats returns a snapshot of buffer bookkeeping.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	var st Stats
	st.ActiveContacts = len(b.entries)
	for _, e := range b.entries {
		e.mu.Lock()
		st.BufferedMessages += len(e.pending)
		if e.timer != nil {
			st.ActiveTimers++
		}
		e.mu.Unlock()
	}
	return st
}

// Stop cancels all live timers. Pending events stay drainable.
func (b *Buffer) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.entries {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.mu.Unlock()
	}
}
