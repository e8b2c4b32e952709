// Package refbuf holds the most recent reference (system) audio frames so
// that the echo canceller can align them against microphone windows.
//
// A [Buffer] is a bounded FIFO: once it reaches capacity, each push evicts the
// oldest entry. It is intended for a single goroutine that both pushes and
// reads, so it carries no lock of its own.
package refbuf

import (
	"time"

	"github.com/MrWong99/glasslisten/pkg/audio"
)

// DefaultCapacity is the number of reference frames retained when [New] is
// called with a non-positive capacity.
const DefaultCapacity = 10

// Entry is a reference frame plus the time it entered the buffer.
type Entry struct {
	Frame   audio.Frame
	Arrived time.Time
}

// Buffer is a capacity-bounded ring of reference entries, oldest first.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	entries []Entry
	head    int // index of the oldest entry
	n       int
	now     func() time.Time
}

// Option configures a [Buffer] during construction.
type Option func(*Buffer)

// WithClock overrides the arrival clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New returns an empty Buffer that retains at most capacity entries.
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		entries: make([]Entry, capacity),
		now:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Push appends f stamped with the current time, evicting the oldest entry
// when the buffer is full.
func (b *Buffer) Push(f audio.Frame) {
	e := Entry{Frame: f, Arrived: b.now()}
	if b.n < len(b.entries) {
		b.entries[(b.head+b.n)%len(b.entries)] = e
		b.n++
		return
	}
	b.entries[b.head] = e
	b.head = (b.head + 1) % len(b.entries)
}

// Latest returns the most recently pushed entry. ok is false when the buffer
// is empty.
func (b *Buffer) Latest() (e Entry, ok bool) {
	if b.n == 0 {
		return Entry{}, false
	}
	return b.entries[(b.head+b.n-1)%len(b.entries)], true
}

// Len returns the number of entries currently held.
func (b *Buffer) Len() int { return b.n }

// Cap returns the maximum number of entries the buffer retains.
func (b *Buffer) Cap() int { return len(b.entries) }

// Snapshot returns a copy of the held entries, oldest first.
func (b *Buffer) Snapshot() []Entry {
	out := make([]Entry, b.n)
	for i := range b.n {
		out[i] = b.entries[(b.head+i)%len(b.entries)]
	}
	return out
}

// Reset drops every entry and releases the frames they referenced.
func (b *Buffer) Reset() {
	clear(b.entries)
	b.head = 0
	b.n = 0
}
