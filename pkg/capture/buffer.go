// Package capture holds the output captured from a supervised process.
//
// A Buffer only grows: data already delivered to readers is never rewritten,
// reordered or evicted. When the configured limit is reached further bytes
// are dropped and counted instead.
package capture

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/atomic"
)

const DefaultLimit = 4 * datasize.MB

// LineObserver receives complete lines written to a stream writer
type LineObserver func(stream, line string)

type Buffer struct {
	mutex   sync.Mutex
	data    []byte
	limit   int
	sealed  bool
	changed chan struct{} // closed and replaced on every append or seal

	dropped atomic.Int64
}

// NewBuffer creates a buffer holding at most limit bytes, zero means DefaultLimit
func NewBuffer(limit datasize.ByteSize) *Buffer {
	if limit == 0 {
		limit = DefaultLimit
	}
	return &Buffer{
		limit:   int(limit.Bytes()),
		changed: make(chan struct{}),
	}
}

// Write appends p. It never fails so a full buffer cannot stall the child
// process; bytes past the limit or after Seal are counted as dropped.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.sealed {
		b.dropped.Add(int64(len(p)))
		return len(p), nil
	}

	room := b.limit - len(b.data)
	accepted := p
	if room < len(p) {
		if room < 0 {
			room = 0
		}
		accepted = p[:room]
		b.dropped.Add(int64(len(p) - room))
	}
	if len(accepted) > 0 {
		b.data = append(b.data, accepted...)
		b.notifyLocked()
	}
	return len(p), nil
}

func (b *Buffer) notifyLocked() {
	close(b.changed)
	b.changed = make(chan struct{})
}

// Seal stops further appends and wakes followers. Captured data stays readable.
func (b *Buffer) Seal() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.sealed {
		return
	}
	b.sealed = true
	b.notifyLocked()
}

func (b *Buffer) Sealed() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.sealed
}

// Bytes returns a copy of everything captured so far
func (b *Buffer) Bytes() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *Buffer) String() string {
	return string(b.Bytes())
}

func (b *Buffer) Len() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return len(b.data)
}

// Dropped is the number of bytes discarded because of the limit or sealing
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Buffer) Limit() int {
	return b.limit
}

// Lines splits the captured output into lines; a trailing partial line is included
func (b *Buffer) Lines() []string {
	data := b.Bytes()
	if len(data) == 0 {
		return nil
	}
	text := strings.TrimSuffix(string(data), "\n")
	return strings.Split(text, "\n")
}

// Contains reports whether the captured output contains s
func (b *Buffer) Contains(s string) bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return bytes.Contains(b.data, []byte(s))
}

// readFrom returns the data after offset, whether the buffer is sealed,
// and a channel closed on the next change.
func (b *Buffer) readFrom(offset int) ([]byte, bool, <-chan struct{}) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var chunk []byte
	if offset < len(b.data) {
		chunk = make([]byte, len(b.data)-offset)
		copy(chunk, b.data[offset:])
	}
	return chunk, b.sealed, b.changed
}

// Follow writes everything captured so far to w, then keeps writing new data
// until the buffer is sealed or ctx is done.
func (b *Buffer) Follow(ctx context.Context, w io.Writer) error {
	offset := 0
	for {
		chunk, sealed, changed := b.readFrom(offset)
		if len(chunk) > 0 {
			if _, err := w.Write(chunk); err != nil {
				return err
			}
			offset += len(chunk)
			if f, ok := w.(interface{ Flush() }); ok {
				f.Flush()
			}
			continue
		}
		if sealed {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Cursor reads a Buffer incrementally from the beginning
type Cursor struct {
	buffer *Buffer
	offset int
}

func (b *Buffer) NewCursor() *Cursor {
	return &Cursor{buffer: b}
}

// Next returns the bytes appended since the previous call
func (c *Cursor) Next() []byte {
	chunk, _, _ := c.buffer.readFrom(c.offset)
	c.offset += len(chunk)
	return chunk
}

// Offset is the number of bytes delivered so far
func (c *Cursor) Offset() int {
	return c.offset
}

// Reset rewinds the cursor to the start of the buffer
func (c *Cursor) Reset() {
	c.offset = 0
}
