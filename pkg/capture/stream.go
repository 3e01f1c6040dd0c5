package capture

import (
	"bytes"
	"sync"
)

// MaxLineLength caps a line handed to the observer; longer runs without a
// newline are delivered in chunks of this size.
const MaxLineLength = 64 * 1024

// StreamWriter feeds one child stream into a shared Buffer and hands complete
// lines to an optional observer.
type StreamWriter struct {
	buffer   *Buffer
	stream   string
	observer LineObserver

	mutex   sync.Mutex
	partial []byte
}

func (b *Buffer) StreamWriter(stream string, observer LineObserver) *StreamWriter {
	return &StreamWriter{
		buffer:   b,
		stream:   stream,
		observer: observer,
	}
}

func (w *StreamWriter) Write(p []byte) (int, error) {
	n, err := w.buffer.Write(p)
	if w.observer == nil {
		return n, err
	}

	w.mutex.Lock()
	defer w.mutex.Unlock()

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(w.partial[:i], "\r")
		w.observer(w.stream, string(line))
		w.partial = w.partial[i+1:]
	}
	for len(w.partial) >= MaxLineLength {
		w.observer(w.stream, string(w.partial[:MaxLineLength]))
		w.partial = w.partial[MaxLineLength:]
	}
	// Drop the consumed prefix so the backing array does not grow with total output
	w.partial = append([]byte(nil), w.partial...)
	return n, err
}

// Flush hands a trailing partial line to the observer
func (w *StreamWriter) Flush() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.observer != nil && len(w.partial) > 0 {
		w.observer(w.stream, string(w.partial))
	}
	w.partial = nil
}

func (w *StreamWriter) Stream() string {
	return w.stream
}
