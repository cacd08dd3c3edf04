// Package streambuf implements the per-endpoint byte buffer that
// accumulates partial TCP reads and yields parsed frames (spec.md §3,
// "StreamBuffer").
//
// It exists to avoid an O(size) memmove per small packet under sustained
// link traffic: read/write indices track the unread region and compaction
// only happens when the buffer is more than half consumed and the tail
// doesn't have enough free space for the next append.
package streambuf

import "fmt"

// Buffer is a read-index/write-index byte buffer of fixed capacity.
// Invariant: 0 <= readIdx <= writeIdx <= capacity.
type Buffer struct {
	data     []byte
	readIdx  int
	writeIdx int
}

// New allocates a Buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{data: make([]byte, capacity)}
}

// Cap returns the buffer's fixed capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Len returns the number of unread bytes currently buffered.
func (b *Buffer) Len() int { return b.writeIdx - b.readIdx }

// Free returns the contiguous free space at the tail, without compacting.
func (b *Buffer) Free() int { return len(b.data) - b.writeIdx }

// maybeCompact moves unread bytes to offset 0 when the read index has
// consumed more than half the capacity and the tail doesn't have room for
// need more bytes. Returns true if it compacted.
func (b *Buffer) maybeCompact(need int) bool {
	if b.readIdx == b.writeIdx {
		b.readIdx, b.writeIdx = 0, 0
		return false
	}
	if b.Free() >= need {
		return false
	}
	if b.readIdx <= len(b.data)/2 {
		return false
	}
	n := copy(b.data, b.data[b.readIdx:b.writeIdx])
	b.readIdx = 0
	b.writeIdx = n
	return true
}

// PrepareAppend compacts if needed and returns the tail slice an I/O read
// may fill, sized up to 'want' bytes. The caller must call CommitAppend
// with however many bytes it actually wrote into the returned slice.
func (b *Buffer) PrepareAppend(want int) []byte {
	b.maybeCompact(want)
	free := b.Free()
	if free < want {
		want = free
	}
	if want <= 0 {
		return nil
	}
	return b.data[b.writeIdx : b.writeIdx+want]
}

// CommitAppend advances the write index after the caller has filled n bytes
// of the slice returned by PrepareAppend.
func (b *Buffer) CommitAppend(n int) error {
	if n < 0 || b.writeIdx+n > len(b.data) {
		return fmt.Errorf("streambuf: commit %d overflows capacity %d", n, len(b.data))
	}
	b.writeIdx += n
	return nil
}

// Peek returns the unread region without consuming it.
func (b *Buffer) Peek() []byte {
	return b.data[b.readIdx:b.writeIdx]
}

// Consume advances the read index past n unread bytes, resetting both
// indices to zero if the buffer becomes fully drained.
func (b *Buffer) Consume(n int) error {
	if n < 0 || b.readIdx+n > b.writeIdx {
		return fmt.Errorf("streambuf: consume %d exceeds unread %d", n, b.Len())
	}
	b.readIdx += n
	if b.readIdx == b.writeIdx {
		b.readIdx, b.writeIdx = 0, 0
	}
	return nil
}

// Reset clears both indices, discarding any buffered bytes. Used for
// protocol resync after a malformed frame size (spec.md §4.1).
func (b *Buffer) Reset() {
	b.readIdx, b.writeIdx = 0, 0
}
