// Package events carries job notifications from capture jobs to whoever is
// listening. Delivery is at-most-once: a subscriber that is not keeping up
// loses events rather than stalling a job.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Type names an event.
type Type string

const (
	TypeProgress     Type = "progress"
	TypeReconnecting Type = "reconnecting"
	TypeCompleted    Type = "completed"
	TypeStopped      Type = "stopped"
	TypeError        Type = "error"
)

// Terminal reports whether t is emitted exactly once, when a job ends.
func (t Type) Terminal() bool {
	return t == TypeCompleted || t == TypeStopped || t == TypeError
}

// Progress is one engine progress report, relayed as-is.
type Progress struct {
	Timemark string  `json:"timemark"`
	Frames   int64   `json:"frames"`
	Bytes    int64   `json:"bytes"`
	Percent  float64 `json:"percent,omitempty"` // 0..100, VOD only
}

// Event is one notification about one job.
type Event struct {
	Type       Type      `json:"type"`
	StreamID   string    `json:"streamLocator"`
	JobID      string    `json:"jobId"`
	Kind       string    `json:"kind"`
	Time       time.Time `json:"time"`
	Progress   *Progress `json:"progress,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	OutputPath string    `json:"outputPath,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Message    string    `json:"message,omitempty"`
}

// Bus fans events out to subscribers without ever blocking the publisher.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	next    uint64
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[uint64]chan Event)}
}

// Subscribe registers a listener with the given buffer size. The returned
// func unsubscribes and closes the channel; calling it twice is harmless.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Subscribers returns the current subscriber count.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes everyone. Later Subscribe calls get a closed channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
