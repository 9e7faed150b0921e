package pipeline

import (
	"fmt"
	"image/color"

	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/progress"
)

// Segment is an APPn or COM segment written ahead of the image data.
type Segment struct {
	Marker  byte
	Payload []byte
}

// RowSource is the surface of a tiled image used by Export.
type RowSource interface {
	Width() int
	Height() int
	Components() int
	ReadRows(y, n int, dst []byte) (int, error)
}

// ScanlineSink is the surface of an encode session used by Export.
type ScanlineSink interface {
	WriteSegment(marker byte, payload []byte) error
	WriteScanlines(src []byte, offset, lines, lineStride int) (int, error)
	Cancel()
	Close() error
}

// ExportOptions configures Export.
type ExportOptions struct {
	// TileHeight is the strip height. Zero selects 512.
	TileHeight int

	// Segments are written before the first scanline, in order.
	Segments []Segment

	// ConvertCMYK converts 4-component rows to RGB before writing.
	ConvertCMYK bool

	// ToYCbCr converts RGB rows to YCbCr before writing, for a sink opened
	// with codec.YCbCr input.
	ToYCbCr bool

	Monitor progress.Monitor
	Cancel  progress.Token
}

// OutputComponents returns the component count Export hands to the sink for
// an image with comps components.
func (o ExportOptions) OutputComponents(comps int) int {
	if comps == 4 && o.ConvertCMYK {
		return 3
	}
	return comps
}

// Export copies every row of src into dst and closes dst. On any failure,
// cancellation included, dst is canceled before it is closed so no partial
// stream is emitted.
func Export(src RowSource, dst ScanlineSink, opts ExportOptions) (err error) {
	th := opts.TileHeight
	if th <= 0 {
		th = 512
	}
	mon := progress.SafeMonitor(opts.Monitor)
	tok := progress.SafeToken(opts.Cancel)

	defer func() {
		if err != nil {
			dst.Cancel()
			dst.Close()
		}
	}()

	for _, s := range opts.Segments {
		if serr := dst.WriteSegment(s.Marker, s.Payload); serr != nil {
			return fmt.Errorf("failed to write segment 0x%02X: %w", s.Marker, serr)
		}
	}

	w, h, comps := src.Width(), src.Height(), src.Components()
	outComps := opts.OutputComponents(comps)
	if opts.ToYCbCr && outComps != 3 {
		return codec.Errorf(codec.KindInvalidParameter, "export", "cannot stage %d-component rows as YCbCr", outComps)
	}
	inRow := w * comps
	outRow := w * outComps
	in := make([]byte, min(th, h)*inRow)
	out := in
	if outRow != inRow {
		out = make([]byte, min(th, h)*outRow)
	}

	for y := 0; y < h; {
		if tok.IsCanceled() {
			return codec.Errorf(codec.KindCanceled, "export", "stopped after %d of %d lines", y, h)
		}

		n, rerr := src.ReadRows(y, min(th, h-y), in)
		if rerr != nil {
			return fmt.Errorf("failed to read rows at %d: %w", y, rerr)
		}
		if n <= 0 {
			return codec.Errorf(codec.KindEngineFailure, "export", "image returned no rows at %d", y)
		}
		if outRow != inRow {
			cmykToRGB(in[:n*inRow], out[:n*outRow])
		}
		if opts.ToYCbCr {
			rgbToYCbCr(out[:n*outRow])
		}

		wrote, werr := dst.WriteScanlines(out, 0, n, outRow)
		if werr != nil {
			return fmt.Errorf("failed to write rows at %d: %w", y, werr)
		}
		if wrote != n {
			return codec.Errorf(codec.KindEngineFailure, "export", "encoder accepted %d of %d rows at %d", wrote, n, y)
		}
		y += n
		mon.IncrementBy(n)
	}

	mon.SetIndeterminate(true)
	return dst.Close()
}

func cmykToRGB(src, dst []byte) {
	for i, j := 0, 0; i+3 < len(src); i, j = i+4, j+3 {
		dst[j], dst[j+1], dst[j+2] = color.CMYKToRGB(src[i], src[i+1], src[i+2], src[i+3])
	}
}

// rgbToYCbCr converts interleaved RGB samples in place.
func rgbToYCbCr(pix []byte) {
	for i := 0; i+2 < len(pix); i += 3 {
		pix[i], pix[i+1], pix[i+2] = color.RGBToYCbCr(pix[i], pix[i+1], pix[i+2])
	}
}
