package codec

import (
	"fmt"
	"image/color"
)

// ColorSpace tags the colour encoding of a stream or of raw samples.
type ColorSpace int

const (
	Unknown ColorSpace = iota
	Grayscale
	RGB
	YCbCr
	CMYK
	YCCK
)

func (cs ColorSpace) String() string {
	switch cs {
	case Unknown:
		return "Unknown"
	case Grayscale:
		return "Grayscale"
	case RGB:
		return "RGB"
	case YCbCr:
		return "YCbCr"
	case CMYK:
		return "CMYK"
	case YCCK:
		return "YCCK"
	default:
		return fmt.Sprintf("ColorSpace(%d)", int(cs))
	}
}

// ParseColorSpace maps a name, as printed by String, back to its tag.
func ParseColorSpace(s string) (ColorSpace, error) {
	for cs := Unknown; cs <= YCCK; cs++ {
		if cs.String() == s {
			return cs, nil
		}
	}
	return Unknown, fmt.Errorf("unknown colour space %q", s)
}

// ColorSpaceForComponents is the declared colour space implied by a component
// count when the stream does not say otherwise.
func ColorSpaceForComponents(n int) ColorSpace {
	switch {
	case n == 1:
		return Grayscale
	case n == 3:
		return YCbCr
	case n >= 4:
		return CMYK
	default:
		return Unknown
	}
}

// WorkingSpace is the colour space decoded samples are delivered in. The
// engine converts YCbCr to RGB and YCCK to CMYK on its own.
func WorkingSpace(components int) ColorSpace {
	switch components {
	case 1:
		return Grayscale
	case 3:
		return RGB
	default:
		return CMYK
	}
}

// Model returns the color.Model matching samples in this working space.
func (cs ColorSpace) Model() color.Model {
	switch cs {
	case Grayscale:
		return color.GrayModel
	case RGB, YCbCr:
		return color.RGBAModel
	default:
		return color.CMYKModel
	}
}

// Geometry describes a stream once its header is parsed.
type Geometry struct {
	Width      int        `json:"width"`
	Height     int        `json:"height"`
	Components int        `json:"components"`
	ColorSpace ColorSpace `json:"color_space"`
}

// RowBytes is the length of one interleaved scanline.
func (g Geometry) RowBytes() int {
	return g.Width * g.Components
}

// MarshalText encodes the tag by name.
func (cs ColorSpace) MarshalText() ([]byte, error) {
	return []byte(cs.String()), nil
}

// UnmarshalText decodes a tag name.
func (cs *ColorSpace) UnmarshalText(b []byte) error {
	v, err := ParseColorSpace(string(b))
	if err != nil {
		return err
	}
	*cs = v
	return nil
}
