package codec

import (
	"fmt"
	"io"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
)

// State is a session's position in its lifecycle. Sessions only move forward.
type State int

const (
	StateUnopened State = iota
	StateHeaderParsed
	StateReading
	StateCompleted
	StateCanceled
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "Unopened"
	case StateHeaderParsed:
		return "HeaderParsed"
	case StateReading:
		return "Reading"
	case StateCompleted:
		return "Completed"
	case StateCanceled:
		return "Canceled"
	case StateFailed:
		return "Failed"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// DecodeOptions configures OpenDecoder.
type DecodeOptions struct {
	// BufferSize is the chunk size used to pull from the provider.
	// Zero selects bridge.DefaultBufferSize.
	BufferSize int

	// MaxWidth and MaxHeight bound the delivered image. The engine reduces
	// by 1/2, 1/4 or 1/8 to fit. Zero means unconstrained.
	MaxWidth  int
	MaxHeight int
}

// DecodeSession reads one JPEG stream scanline by scanline.
//
// A session owns its stream handle exclusively. Close must be called on every
// path; it is idempotent. All methods are serialized on a per-session lock.
type DecodeSession struct {
	mu    sync.Mutex
	state State
	eng   *decodeEngine
	geom  Geometry
	read  int

	transform int
}

// OpenDecoder pulls the stream from src and parses its header.
func OpenDecoder(src bridge.DataProvider, opts DecodeOptions) (*DecodeSession, error) {
	if opts.MaxWidth < 0 || opts.MaxHeight < 0 {
		return nil, Errorf(KindInvalidParameter, "open", "negative size limit %dx%d", opts.MaxWidth, opts.MaxHeight)
	}

	data, err := io.ReadAll(bridge.NewReader(src, opts.BufferSize))
	if err != nil {
		return nil, Wrap(KindSourceUnavailable, "open", err)
	}

	eng, err := newDecodeEngine(data, opts.MaxWidth, opts.MaxHeight)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"width":      eng.geom.Width,
		"height":     eng.geom.Height,
		"components": eng.geom.Components,
		"colorspace": eng.geom.ColorSpace,
		"scale":      eng.denom,
	}).Debug("jpeg header parsed")

	return &DecodeSession{state: StateHeaderParsed, eng: eng, geom: eng.geom, transform: eng.transform}, nil
}

// OpenDecoderFile opens path and parses its header. The file is fully read
// and closed before OpenDecoderFile returns.
func OpenDecoderFile(path string, opts DecodeOptions) (*DecodeSession, error) {
	p, err := bridge.OpenFileProvider(path)
	if err != nil {
		return nil, Wrap(KindSourceUnavailable, "open", err)
	}
	defer p.Close()
	return OpenDecoder(p, opts)
}

// Geometry returns the header geometry, after any downscaling.
func (s *DecodeSession) Geometry() Geometry {
	return s.geom
}

// MarkerTransform returns the Adobe APP14 transform flag of a 4-component
// stream, or -1 when the stream has none.
func (s *DecodeSession) MarkerTransform() int {
	return s.transform
}

// State returns the current lifecycle state.
func (s *DecodeSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LinesRead returns the number of scanlines delivered so far.
func (s *DecodeSession) LinesRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read
}

// ReadScanlines decodes up to lines rows into dst, starting at row lineOffset
// of dst. It returns the number of rows written. A return of 0 means the
// stream has no more rows, which before Height indicates a truncated stream.
func (s *DecodeSession) ReadScanlines(dst []byte, lineOffset, lines int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return 0, Wrap(KindInvalidParameter, "read scanlines", ErrClosed)
	case StateCompleted, StateCanceled, StateFailed:
		return 0, nil
	}
	if lines <= 0 || lineOffset < 0 {
		return 0, Errorf(KindInvalidParameter, "read scanlines", "bad request: offset %d, lines %d", lineOffset, lines)
	}

	n := min(lines, s.geom.Height-s.read)
	rb := s.geom.RowBytes()
	if need := (lineOffset + n) * rb; len(dst) < need {
		return 0, Errorf(KindInvalidParameter, "read scanlines", "buffer holds %d bytes, need %d", len(dst), need)
	}

	s.state = StateReading
	got, err := s.eng.read(dst[lineOffset*rb:], n)
	if err != nil {
		s.state = StateFailed
		return 0, err
	}
	s.read += got
	if got == 0 || s.read >= s.geom.Height {
		s.state = StateCompleted
	}
	return got, nil
}

// Cancel records that the caller is abandoning the stream. A later Close does
// not complain about unread scanlines.
func (s *DecodeSession) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateCanceled
	}
}

// Close releases the stream handle. If reading began and stopped before the
// stream was exhausted, without Cancel, it reports ErrIncompleteScan; the
// handle is released either way. Calls after the first return nil.
func (s *DecodeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}
	incomplete := s.state == StateReading && !s.eng.exhausted
	s.eng.release()
	s.eng = nil
	s.state = StateClosed

	if incomplete {
		return Wrap(KindEngineFailure, "close", fmt.Errorf("%w: %d of %d", ErrIncompleteScan, s.read, s.geom.Height))
	}
	return nil
}
