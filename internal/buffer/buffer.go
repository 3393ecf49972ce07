// Package buffer provides an opaque byte queue used by the thrift codec
// (the tcp proxy filter does not use it). Drain is O(1); Prepend copies
// only the prepended bytes when they fit behind the read cursor and
// otherwise reallocates the queue. It offers contiguous-view access
// without forcing callers through io.Reader.
package buffer

import "fmt"

// defaultChunk is the slice growth step used when the queue needs more
// room than a single append can provide cheaply.
const defaultChunk = 4096

// Instance is a growable byte queue. The zero value is ready to use.
// Instance is NOT safe for concurrent use; callers confine it to a single
// worker the way the teacher confines per-connection filter state to a
// single event loop.
type Instance struct {
	data []byte
	// start is the read cursor; bytes before it are logically drained
	// but may still be physically present until a compaction occurs.
	start int
}

// New returns an empty buffer.
func New() *Instance {
	return &Instance{}
}

// FromBytes wraps an existing slice as the buffer's content. The slice is
// taken by reference, not copied.
func FromBytes(b []byte) *Instance {
	return &Instance{data: b}
}

// Len returns the number of unread bytes currently queued.
func (b *Instance) Len() int {
	return len(b.data) - b.start
}

// Add appends bytes to the tail of the queue.
func (b *Instance) Add(p []byte) {
	if len(p) == 0 {
		return
	}
	b.compactIfWasteful()
	b.data = append(b.data, p...)
}

// Prepend pushes bytes back onto the head of the queue, as if they had
// never been drained. Used by codecs that peek ahead and then decide they
// don't have a full frame yet.
func (b *Instance) Prepend(p []byte) {
	if len(p) == 0 {
		return
	}
	if b.start >= len(p) {
		// room behind the read cursor: copy in place, O(len(p)).
		b.start -= len(p)
		copy(b.data[b.start:], p)
		return
	}
	merged := make([]byte, 0, len(p)+b.Len())
	merged = append(merged, p...)
	merged = append(merged, b.data[b.start:]...)
	b.data = merged
	b.start = 0
}

// Drain discards n bytes from the head of the queue. It panics if n
// exceeds Len — callers are expected to check Len first, the same
// contract the codec's peek-then-consume pattern relies on.
func (b *Instance) Drain(n int) {
	if n < 0 || n > b.Len() {
		panic(fmt.Sprintf("buffer: drain %d exceeds length %d", n, b.Len()))
	}
	b.start += n
	if b.start == len(b.data) {
		b.data = b.data[:0]
		b.start = 0
	}
}

// Bytes returns a contiguous view of the unread portion. The slice aliases
// internal storage and is only valid until the next mutating call.
func (b *Instance) Bytes() []byte {
	return b.data[b.start:]
}

// Peek returns a contiguous view of the first n unread bytes, or nil if
// fewer than n bytes are queued. Like Bytes, the slice aliases storage.
func (b *Instance) Peek(n int) []byte {
	if n > b.Len() {
		return nil
	}
	return b.data[b.start : b.start+n]
}

// Reset empties the queue without releasing backing storage, so the next
// fill cycle can reuse the allocation.
func (b *Instance) Reset() {
	b.data = b.data[:0]
	b.start = 0
}

// compactIfWasteful slides unread bytes to the front once the drained
// prefix grows past a chunk, so repeated small Adds don't grow the slice
// unbounded while a long-lived connection dribbles data through it.
func (b *Instance) compactIfWasteful() {
	if b.start < defaultChunk || b.start < len(b.data)/2 {
		return
	}
	n := copy(b.data, b.data[b.start:])
	b.data = b.data[:n]
	b.start = 0
}
