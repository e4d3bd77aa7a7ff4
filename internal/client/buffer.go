package client

import (
	"time"

	"github.com/dkeye/Logotopia/internal/protocol"
)

const DefaultBufferDepth = 30

// Entry is a snapshot stamped with the local time it was received.
// Sender clocks are never consulted.
type Entry struct {
	Snapshot protocol.Snapshot
	At       time.Time
}

// SnapshotBuffer is a fixed-capacity ring of entries in arrival order.
// When full, Push evicts the oldest entry.
type SnapshotBuffer struct {
	entries []Entry
	start   int
	n       int
}

func NewSnapshotBuffer(capacity int) *SnapshotBuffer {
	if capacity < 2 {
		capacity = DefaultBufferDepth
	}
	return &SnapshotBuffer{entries: make([]Entry, capacity)}
}

func (b *SnapshotBuffer) Push(s protocol.Snapshot, receivedAt time.Time) {
	e := Entry{Snapshot: s, At: receivedAt}
	if b.n < len(b.entries) {
		b.entries[(b.start+b.n)%len(b.entries)] = e
		b.n++
		return
	}
	b.entries[b.start] = e
	b.start = (b.start + 1) % len(b.entries)
}

func (b *SnapshotBuffer) Len() int { return b.n }

func (b *SnapshotBuffer) Cap() int { return len(b.entries) }

// At returns the i-th entry, oldest first.
func (b *SnapshotBuffer) At(i int) Entry {
	if i < 0 || i >= b.n {
		panic("client: SnapshotBuffer index out of range")
	}
	return b.entries[(b.start+i)%len(b.entries)]
}

func (b *SnapshotBuffer) Latest() (Entry, bool) {
	if b.n == 0 {
		return Entry{}, false
	}
	return b.At(b.n - 1), true
}

func (b *SnapshotBuffer) Reset() {
	clear(b.entries)
	b.start, b.n = 0, 0
}

// Around returns the consecutive pair with s0.At <= renderTime <= s1.At.
// Outside the buffered range both results are the nearest end entry.
func (b *SnapshotBuffer) Around(renderTime time.Time) (s0, s1 Entry, ok bool) {
	if b.n == 0 {
		return Entry{}, Entry{}, false
	}
	first, last := b.At(0), b.At(b.n-1)
	if renderTime.Before(first.At) {
		return first, first, true
	}
	if !renderTime.Before(last.At) {
		return last, last, true
	}
	for i := 0; i < b.n-1; i++ {
		next := b.At(i + 1)
		if !next.At.Before(renderTime) {
			return b.At(i), next, true
		}
	}
	return last, last, true
}
