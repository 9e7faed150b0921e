package codec

import (
	"bytes"
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
)

// Marker limits for WriteSegment.
const (
	MarkerAPP0  = 0xE0
	MarkerAPP15 = 0xEF
	MarkerCOM   = 0xFE

	maxSegmentPayload = 65533
)

// EncodeOptions configures OpenEncoder.
type EncodeOptions struct {
	BufferSize int
	Width      int
	Height     int
	Components int
	ColorSpace ColorSpace
	// Quality is 0-100.
	Quality int
}

func (o EncodeOptions) validate() error {
	const op = "open encoder"
	if o.Quality < 0 || o.Quality > 100 {
		return Errorf(KindInvalidParameter, op, "quality %d outside [0,100]", o.Quality)
	}
	if o.Width <= 0 || o.Height <= 0 {
		return Errorf(KindInvalidParameter, op, "bad dimensions %dx%d", o.Width, o.Height)
	}
	switch {
	case o.Components == 1 && o.ColorSpace == Grayscale:
	case o.Components == 3 && (o.ColorSpace == RGB || o.ColorSpace == YCbCr):
	default:
		return Errorf(KindInvalidParameter, op, "cannot write %d-component %s streams", o.Components, o.ColorSpace)
	}
	return nil
}

type segment struct {
	marker  byte
	payload []byte
}

// encodeEngine stages raw scanlines in an image the JPEG encoder accepts.
type encodeEngine struct {
	img      image.Image
	put      func(y int, row []byte)
	segments []segment
}

func newEncodeEngine(o EncodeOptions) *encodeEngine {
	r := image.Rect(0, 0, o.Width, o.Height)
	e := &encodeEngine{}
	switch o.ColorSpace {
	case Grayscale:
		m := image.NewGray(r)
		e.img = m
		e.put = func(y int, row []byte) {
			copy(m.Pix[y*m.Stride:], row[:o.Width])
		}
	case YCbCr:
		m := image.NewYCbCr(r, image.YCbCrSubsampleRatio444)
		e.img = m
		e.put = func(y int, row []byte) {
			for x := 0; x < o.Width; x++ {
				m.Y[y*m.YStride+x] = row[3*x]
				m.Cb[y*m.CStride+x] = row[3*x+1]
				m.Cr[y*m.CStride+x] = row[3*x+2]
			}
		}
	default:
		m := image.NewRGBA(r)
		e.img = m
		e.put = func(y int, row []byte) {
			p := m.Pix[y*m.Stride:]
			for x := 0; x < o.Width; x++ {
				p[4*x], p[4*x+1], p[4*x+2], p[4*x+3] = row[3*x], row[3*x+1], row[3*x+2], 0xFF
			}
		}
	}
	openHandles.Add(1)
	return e
}

func (e *encodeEngine) release() {
	e.img = nil
	e.put = nil
	e.segments = nil
	openHandles.Add(-1)
}

// finish compresses the staged image and writes it, with the queued segments
// placed directly after SOI.
func (e *encodeEngine) finish(w *bridge.Writer, quality int) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, e.img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return Wrap(KindEngineFailure, "compress", err)
	}
	data := buf.Bytes()
	if len(data) < 2 {
		return Errorf(KindEngineFailure, "compress", "encoder produced %d bytes", len(data))
	}

	if _, err := w.Write(data[:2]); err != nil {
		return Wrap(KindEngineFailure, "drain", err)
	}
	for _, s := range e.segments {
		n := len(s.payload) + 2
		if _, err := w.Write([]byte{0xFF, s.marker, byte(n >> 8), byte(n)}); err != nil {
			return Wrap(KindEngineFailure, "drain", err)
		}
		if _, err := w.Write(s.payload); err != nil {
			return Wrap(KindEngineFailure, "drain", err)
		}
	}
	if _, err := w.Write(data[2:]); err != nil {
		return Wrap(KindEngineFailure, "drain", err)
	}
	if err := w.Flush(); err != nil {
		return Wrap(KindEngineFailure, "drain", err)
	}
	return nil
}

// EncodeSession compresses scanlines into one JPEG stream.
//
// Segments must be written before the first scanline. The compressed stream is
// pushed through the receiver when Close finalizes it.
type EncodeSession struct {
	mu       sync.Mutex
	state    State
	opts     EncodeOptions
	eng      *encodeEngine
	dst      bridge.DataReceiver
	written  int
	rowBytes int
}

// OpenEncoder validates opts and prepares a stream. Invalid options fail
// before any stream handle is allocated.
func OpenEncoder(dst bridge.DataReceiver, opts EncodeOptions) (*EncodeSession, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, Errorf(KindSourceUnavailable, "open encoder", "no receiver")
	}
	log.WithFields(log.Fields{
		"width":      opts.Width,
		"height":     opts.Height,
		"colorspace": opts.ColorSpace,
		"quality":    opts.Quality,
	}).Debug("jpeg encoder opened")

	return &EncodeSession{
		state:    StateHeaderParsed,
		opts:     opts,
		eng:      newEncodeEngine(opts),
		dst:      dst,
		rowBytes: opts.Width * opts.Components,
	}, nil
}

// State returns the current lifecycle state.
func (s *EncodeSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// WriteSegment queues an APPn or COM segment. It must precede the first
// scanline.
func (s *EncodeSession) WriteSegment(marker byte, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "write segment"
	switch {
	case s.state == StateClosed:
		return Wrap(KindInvalidParameter, op, ErrClosed)
	case s.state != StateHeaderParsed:
		return Errorf(KindEngineFailure, op, "segment 0x%02X after scanlines", marker)
	case !(marker >= MarkerAPP0 && marker <= MarkerAPP15) && marker != MarkerCOM:
		return Errorf(KindInvalidParameter, op, "marker 0x%02X is not APPn or COM", marker)
	case len(payload) > maxSegmentPayload:
		return Errorf(KindInvalidParameter, op, "payload of %d bytes exceeds %d", len(payload), maxSegmentPayload)
	}
	s.eng.segments = append(s.eng.segments, segment{marker: marker, payload: append([]byte(nil), payload...)})
	return nil
}

// WriteScanlines copies lines rows from src, the first at byte offset and
// each following one lineStride bytes later. It returns the rows accepted,
// which is fewer than lines once the declared height is reached.
func (s *EncodeSession) WriteScanlines(src []byte, offset, lines, lineStride int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	const op = "write scanlines"
	switch s.state {
	case StateClosed:
		return 0, Wrap(KindInvalidParameter, op, ErrClosed)
	case StateCanceled, StateFailed:
		return 0, Errorf(KindEngineFailure, op, "session is %s", s.state)
	}
	rb := s.rowBytes
	if lines < 0 || offset < 0 || lineStride < rb {
		return 0, Errorf(KindInvalidParameter, op, "bad request: offset %d, lines %d, stride %d", offset, lines, lineStride)
	}

	n := min(lines, s.opts.Height-s.written)
	if n <= 0 {
		return 0, nil
	}
	if need := offset + (n-1)*lineStride + rb; len(src) < need {
		return 0, Errorf(KindInvalidParameter, op, "buffer holds %d bytes, need %d", len(src), need)
	}

	s.state = StateReading
	for i := 0; i < n; i++ {
		start := offset + i*lineStride
		s.eng.put(s.written+i, src[start:start+rb])
	}
	s.written += n
	if s.written == s.opts.Height {
		s.state = StateCompleted
	}
	return n, nil
}

// Cancel abandons the stream. Close then releases without emitting bytes.
func (s *EncodeSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateCanceled
	}
}

// Abort cancels and closes the session in one step.
func (s *EncodeSession) Abort() {
	s.Cancel()
	s.Close()
}

// Close finalizes the stream and drains it through the receiver, then
// releases the handle. Calls after the first return nil.
func (s *EncodeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	state := s.state
	eng := s.eng
	s.eng = nil
	s.state = StateClosed
	defer eng.release()

	switch {
	case state == StateCanceled:
		return nil
	case s.written < s.opts.Height:
		return Wrap(KindEngineFailure, "close", fmt.Errorf("%w: %d of %d", ErrIncompleteScan, s.written, s.opts.Height))
	}
	return eng.finish(bridge.NewWriter(s.dst, s.opts.BufferSize), s.opts.Quality)
}
