// Package markers walks the header segments of a JPEG stream and reports the
// facts callers need before decoding, most importantly whether Adobe APP14 and
// Adobe APP12 ("embed") segments are present.
package markers

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Marker codes used by the scanner.
const (
	SOI   = 0xD8
	EOI   = 0xD9
	SOS   = 0xDA
	APP0  = 0xE0
	APP12 = 0xEC
	APP14 = 0xEE
	APP15 = 0xEF
	COM   = 0xFE
)

// Adobe APP14 colour transform values.
const (
	TransformUnknown = 0
	TransformYCbCr   = 1
	TransformYCCK    = 2
)

// ErrNotJPEG is returned when the stream does not start with SOI.
var ErrNotJPEG = errors.New("markers: missing SOI marker")

var adobeTag = []byte("Adobe")

// Segment describes one header segment.
type Segment struct {
	Marker byte `json:"marker"`
	Length int  `json:"length"`
}

// Info is the result of a header scan.
type Info struct {
	// Adobe is true when an APP14 segment starting with "Adobe" was found.
	Adobe bool `json:"adobe"`

	// AdobeEmbed is true when an APP12 segment starting with "Adobe" was found.
	AdobeEmbed bool `json:"adobe_embed"`

	// AdobeTransform is the APP14 transform flag, or -1 without APP14.
	AdobeTransform int `json:"adobe_transform"`

	// Segments lists header segments in stream order, up to the first SOS.
	Segments []Segment `json:"segments"`
}

// Scan reads header segments from r until the first SOS or EOI.
func Scan(r io.Reader) (*Info, error) {
	br := bufio.NewReader(r)

	var soi [2]byte
	if _, err := io.ReadFull(br, soi[:]); err != nil {
		return nil, fmt.Errorf("markers: read SOI: %w", err)
	}
	if soi[0] != 0xFF || soi[1] != SOI {
		return nil, ErrNotJPEG
	}

	info := &Info{AdobeTransform: -1}
	for {
		m, err := nextMarker(br)
		if err != nil {
			return nil, err
		}
		if m == SOS || m == EOI {
			return info, nil
		}
		if isStandalone(m) {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			return nil, fmt.Errorf("markers: read length of 0x%02X: %w", m, err)
		}
		n := int(binary.BigEndian.Uint16(lenBuf[:])) - 2
		if n < 0 {
			return nil, fmt.Errorf("markers: bad length for 0x%02X", m)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(br, payload); err != nil {
			return nil, fmt.Errorf("markers: read payload of 0x%02X: %w", m, err)
		}

		info.Segments = append(info.Segments, Segment{Marker: m, Length: n})
		switch m {
		case APP14:
			if bytes.HasPrefix(payload, adobeTag) {
				info.Adobe = true
				if len(payload) >= 12 {
					info.AdobeTransform = int(payload[11])
				}
			}
		case APP12:
			if bytes.HasPrefix(payload, adobeTag) {
				info.AdobeEmbed = true
			}
		}
	}
}

// ScanBytes scans an in-memory stream.
func ScanBytes(data []byte) (*Info, error) {
	return Scan(bytes.NewReader(data))
}

// nextMarker skips to the next 0xFF-prefixed marker, ignoring fill bytes.
func nextMarker(br *bufio.Reader) (byte, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("markers: %w", unexpected(err))
	}
	if b != 0xFF {
		return 0, fmt.Errorf("markers: expected 0xFF, found 0x%02X", b)
	}
	for {
		b, err = br.ReadByte()
		if err != nil {
			return 0, fmt.Errorf("markers: %w", unexpected(err))
		}
		if b != 0xFF {
			return b, nil
		}
	}
}

func isStandalone(m byte) bool {
	return m == 0x01 || (m >= 0xD0 && m <= 0xD7)
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}
