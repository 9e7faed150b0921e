// Package bridge connects the codec engine to arbitrary byte sources and sinks.
//
// The engine never touches files directly. It pulls compressed bytes through a
// DataProvider and pushes them through a DataReceiver, so the same session code
// reads from a file, a byte range embedded in another container, or a memory
// buffer without knowing which.
//
// # Buffering
//
// Both directions move bytes in chunks of a buffer size chosen once when the
// adapter is created. DefaultBufferSize (32 KiB) is used when the requested size
// is zero or negative.
package bridge

import (
	"errors"
	"fmt"
	"io"
)

// DefaultBufferSize is the chunk size used when a caller does not choose one.
const DefaultBufferSize = 32 * 1024

// ErrNegativeFill is returned when a provider reports a negative byte count.
var ErrNegativeFill = errors.New("bridge: provider returned a negative byte count")

// DataProvider supplies compressed bytes to a decoder.
//
// Fill copies up to len(buf) bytes into buf and returns how many were written.
// A return of 0 with a nil error (or io.EOF) signals end of stream. Any other
// error is an I/O failure and aborts the decode.
type DataProvider interface {
	Fill(buf []byte) (int, error)
}

// DataReceiver accepts compressed bytes from an encoder.
//
// Drain must consume all of buf. Returning fewer bytes than len(buf) or a
// non-nil error fails the encode.
type DataReceiver interface {
	Drain(buf []byte) (int, error)
}

// BufferSize normalizes a requested buffer size.
func BufferSize(n int) int {
	if n <= 0 {
		return DefaultBufferSize
	}
	return n
}

// reader adapts a DataProvider to io.Reader, refilling a fixed-size buffer.
type reader struct {
	p   DataProvider
	buf []byte
	r   int
	w   int
	err error
}

// NewReader returns an io.Reader that pulls from p in chunks of bufSize bytes.
func NewReader(p DataProvider, bufSize int) io.Reader {
	return &reader{p: p, buf: make([]byte, BufferSize(bufSize))}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.r == r.w {
		if r.err != nil {
			return 0, r.err
		}
		r.fill()
		if r.r == r.w {
			return 0, r.err
		}
	}
	n := copy(p, r.buf[r.r:r.w])
	r.r += n
	return n, nil
}

func (r *reader) fill() {
	r.r, r.w = 0, 0
	n, err := r.p.Fill(r.buf)
	switch {
	case n < 0:
		r.err = ErrNegativeFill
		return
	case n > len(r.buf):
		r.err = fmt.Errorf("bridge: provider filled %d bytes into a %d byte buffer", n, len(r.buf))
		return
	}
	r.w = n
	switch {
	case err == nil && n == 0:
		r.err = io.EOF
	case err != nil:
		r.err = err
	}
}

// Writer adapts a DataReceiver to io.Writer.
//
// Bytes are staged in a buffer of the configured size and drained whenever the
// buffer fills. Flush drains whatever remains; callers must call it once the
// stream is finalized.
type Writer struct {
	d   DataReceiver
	buf []byte
	n   int
	err error
}

// NewWriter returns a Writer draining into d in chunks of bufSize bytes.
func NewWriter(d DataReceiver, bufSize int) *Writer {
	return &Writer{d: d, buf: make([]byte, BufferSize(bufSize))}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if w.err != nil {
			return written, w.err
		}
		c := copy(w.buf[w.n:], p)
		w.n += c
		written += c
		p = p[c:]
		if w.n == len(w.buf) {
			w.drain()
		}
	}
	return written, w.err
}

// Flush drains any staged bytes.
func (w *Writer) Flush() error {
	if w.err == nil && w.n > 0 {
		w.drain()
	}
	return w.err
}

func (w *Writer) drain() {
	n, err := w.d.Drain(w.buf[:w.n])
	if err == nil && n != w.n {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = fmt.Errorf("bridge: drain %d bytes: %w", w.n, err)
		return
	}
	w.n = 0
}
