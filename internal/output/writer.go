package output

import (
	"bytes"
	"sync"
)

// LineWriter is an io.Writer that splits what it is given into lines and
// hands each complete line to emit. It is assigned directly to
// exec.Cmd.Stdout / Stderr so exec owns the copy goroutine.
//
// Trailing "\r" is stripped. A partial line longer than MaxLineLength is
// emitted early, truncated.
type LineWriter struct {
	mu   sync.Mutex
	buf  []byte
	emit func(text string)
	// drop the rest of an over-long line up to its newline
	skipping bool
}

// NewLineWriter returns a writer that calls emit once per line.
func NewLineWriter(emit func(text string)) *LineWriter {
	return &LineWriter{emit: emit}
}

// Write implements io.Writer. It never returns an error.
func (w *LineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if !w.skipping {
				w.buf = append(w.buf, p...)
				if len(w.buf) > MaxLineLength {
					w.emitLocked(string(w.buf[:MaxLineLength]) + truncatedSuffix)
					w.buf = w.buf[:0]
					w.skipping = true
				}
			}
			break
		}

		if w.skipping {
			w.skipping = false
		} else {
			w.buf = append(w.buf, p[:i]...)
			if len(w.buf) > MaxLineLength {
				w.emitLocked(string(w.buf[:MaxLineLength]) + truncatedSuffix)
			} else {
				w.emitLocked(string(bytes.TrimSuffix(w.buf, []byte{'\r'})))
			}
		}
		w.buf = w.buf[:0]
		p = p[i+1:]
	}
	return n, nil
}

// Flush emits any buffered partial line. Call it after the process has
// exited and exec has finished copying.
func (w *LineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.buf) > 0 {
		w.emitLocked(string(bytes.TrimSuffix(w.buf, []byte{'\r'})))
		w.buf = w.buf[:0]
	}
	w.skipping = false
}

func (w *LineWriter) emitLocked(text string) {
	if w.emit != nil {
		w.emit(text)
	}
}
