package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"sync/atomic"

	"github.com/gen2brain/jpegn"
	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/markers"
)

// openHandles counts engine handles that have been allocated and not released.
var openHandles atomic.Int64

// OpenHandles reports how many stream handles are currently live.
func OpenHandles() int64 {
	return openHandles.Load()
}

var scaleDenominators = []int{1, 2, 4, 8}

// decodeEngine is the opaque state behind a decode session. The compressed
// stream is parsed for its header on creation and decoded on the first read.
type decodeEngine struct {
	data      []byte
	native    Geometry
	geom      Geometry
	denom     int
	transform int

	img       image.Image
	next      int
	limit     int
	exhausted bool

	scratch []byte
	acc     []uint32
}

func newDecodeEngine(data []byte, maxWidth, maxHeight int) (*decodeEngine, error) {
	// jpegn only looks at the first 64 KiB, which large APPn segments can
	// fill before SOF. The whole stream is in memory, so image/jpeg gets it.
	cfg, err := jpegn.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		var serr error
		if cfg, serr = jpeg.DecodeConfig(bytes.NewReader(data)); serr == nil {
			err = nil
		}
	}
	if err != nil {
		return nil, Wrap(KindMalformedStream, "read header", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, Errorf(KindMalformedStream, "read header", "empty image %dx%d", cfg.Width, cfg.Height)
	}

	e := &decodeEngine{transform: -1}
	e.native = Geometry{Width: cfg.Width, Height: cfg.Height}
	switch cfg.ColorModel {
	case color.GrayModel:
		e.native.Components, e.native.ColorSpace = 1, Grayscale
	case color.YCbCrModel:
		e.native.Components, e.native.ColorSpace = 3, YCbCr
	case color.RGBAModel:
		e.native.Components, e.native.ColorSpace = 3, RGB
	case color.CMYKModel:
		e.native.Components, e.native.ColorSpace = 4, CMYK
		if info, err := markers.ScanBytes(data); err == nil {
			e.transform = info.AdobeTransform
			if info.AdobeTransform == markers.TransformYCCK {
				e.native.ColorSpace = YCCK
			}
		}
	default:
		return nil, Errorf(KindMalformedStream, "read header", "unsupported colour model %T", cfg.ColorModel)
	}

	e.data = data
	e.denom = scaleDenominator(cfg.Width, cfg.Height, maxWidth, maxHeight)
	e.geom = e.native
	e.geom.Width = ceilDiv(cfg.Width, e.denom)
	e.geom.Height = ceilDiv(cfg.Height, e.denom)
	e.limit = e.geom.Height
	if e.denom > 1 {
		e.scratch = make([]byte, e.native.RowBytes())
		e.acc = make([]uint32, e.geom.RowBytes())
	}
	openHandles.Add(1)
	return e, nil
}

// drop frees the decoded frame and the compressed stream.
func (e *decodeEngine) drop() {
	e.data = nil
	e.img = nil
	e.scratch = nil
	e.acc = nil
}

// release drops the decoded planes and compressed data.
func (e *decodeEngine) release() {
	e.drop()
	openHandles.Add(-1)
}

// decode runs the entropy decoder over the whole stream. A stream that was
// cut short is salvaged: limit is lowered to the rows its bytes fully cover.
func (e *decodeEngine) decode() error {
	var (
		img image.Image
		err error
	)
	complete := hasEOI(e.data)
	if complete {
		img, err = jpegn.Decode(bytes.NewReader(e.data))
	} else {
		// jpegn zero-fills a short scan; image/jpeg reports it.
		img, err = jpeg.Decode(bytes.NewReader(e.data))
	}
	if err != nil {
		if complete && !errors.Is(err, io.ErrUnexpectedEOF) {
			return Wrap(KindEngineFailure, "decode scan", err)
		}
		var rows int
		img, rows = salvage(e.data, e.native)
		e.limit = rows / e.denom
		if rows == e.native.Height {
			e.limit = e.geom.Height
		}
		log.WithFields(log.Fields{
			"rows":   rows,
			"height": e.native.Height,
		}).Debug("salvaged truncated jpeg stream")
		if img == nil {
			e.limit = 0
		}
	} else {
		b := img.Bounds()
		if b.Dx() != e.native.Width || b.Dy() != e.native.Height {
			return Errorf(KindEngineFailure, "decode scan", "decoded %dx%d, header declared %dx%d",
				b.Dx(), b.Dy(), e.native.Width, e.native.Height)
		}
	}
	e.img = img
	e.data = nil
	return nil
}

// read fills dst with up to lines scanlines. It returns 0 once the stream is
// exhausted, including when the stream ended before its declared height.
// The decoded frame is freed as soon as its last row is delivered.
func (e *decodeEngine) read(dst []byte, lines int) (int, error) {
	if e.exhausted {
		return 0, nil
	}
	if e.img == nil && e.limit > 0 {
		if err := e.decode(); err != nil {
			return 0, err
		}
	}

	rb := e.geom.RowBytes()
	n := 0
	for ; n < lines && e.next < e.limit; n++ {
		row := dst[n*rb : (n+1)*rb]
		if e.denom == 1 {
			nativeRow(e.img, e.next, e.native.Components, row)
		} else {
			e.scaledRow(e.next, row)
		}
		e.next++
	}
	if e.next >= e.limit {
		e.exhausted = true
		e.drop()
	}
	return n, nil
}

// scaledRow box-filters a denom×denom neighbourhood of native samples into
// each output sample.
func (e *decodeEngine) scaledRow(y int, dst []byte) {
	d, c := e.denom, e.native.Components
	for i := range e.acc {
		e.acc[i] = 0
	}
	y0 := y * d
	y1 := min(y0+d, e.native.Height)
	for sy := y0; sy < y1; sy++ {
		nativeRow(e.img, sy, c, e.scratch)
		for x := 0; x < e.geom.Width; x++ {
			x1 := min(x*d+d, e.native.Width)
			for sx := x * d; sx < x1; sx++ {
				for k := 0; k < c; k++ {
					e.acc[x*c+k] += uint32(e.scratch[sx*c+k])
				}
			}
		}
	}
	for x := 0; x < e.geom.Width; x++ {
		n := uint32((min(x*d+d, e.native.Width) - x*d) * (y1 - y0))
		for k := 0; k < c; k++ {
			dst[x*c+k] = byte((e.acc[x*c+k] + n/2) / n)
		}
	}
}

// nativeRow writes row y of img as interleaved samples with c components.
// CMYK images from image/jpeg carry Adobe-inverted samples; they are inverted
// back so callers see the values stored in the stream.
func nativeRow(img image.Image, y, c int, dst []byte) {
	b := img.Bounds()
	y += b.Min.Y
	w := b.Dx()
	switch m := img.(type) {
	case *image.Gray:
		i := m.PixOffset(b.Min.X, y)
		copy(dst[:w], m.Pix[i:i+w])
	case *image.YCbCr:
		for x := 0; x < w; x++ {
			yi := m.YOffset(b.Min.X+x, y)
			ci := m.COffset(b.Min.X+x, y)
			dst[3*x], dst[3*x+1], dst[3*x+2] = color.YCbCrToRGB(m.Y[yi], m.Cb[ci], m.Cr[ci])
		}
	case *image.RGBA:
		i := m.PixOffset(b.Min.X, y)
		for x := 0; x < w; x++ {
			copy(dst[3*x:3*x+3], m.Pix[i+4*x:i+4*x+3])
		}
	case *image.CMYK:
		i := m.PixOffset(b.Min.X, y)
		for k, v := range m.Pix[i : i+4*w] {
			dst[k] = 255 - v
		}
	default:
		for x := 0; x < w; x++ {
			px := img.At(b.Min.X+x, y)
			switch c {
			case 1:
				dst[x] = color.GrayModel.Convert(px).(color.Gray).Y
			case 3:
				r, g, bb, _ := px.RGBA()
				dst[3*x], dst[3*x+1], dst[3*x+2] = uint8(r>>8), uint8(g>>8), uint8(bb>>8)
			default:
				k := color.CMYKModel.Convert(px).(color.CMYK)
				dst[4*x], dst[4*x+1], dst[4*x+2], dst[4*x+3] = 255-k.C, 255-k.M, 255-k.Y, 255-k.K
			}
		}
	}
}

// scaleDenominator picks the smallest power-of-two reduction that fits the
// image inside maxWidth×maxHeight. Zero limits are unconstrained.
func scaleDenominator(w, h, maxWidth, maxHeight int) int {
	if maxWidth <= 0 && maxHeight <= 0 {
		return 1
	}
	for _, d := range scaleDenominators {
		if fits(ceilDiv(w, d), maxWidth) && fits(ceilDiv(h, d), maxHeight) {
			return d
		}
	}
	return scaleDenominators[len(scaleDenominators)-1]
}

func fits(v, limit int) bool {
	return limit <= 0 || v <= limit
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// salvageRowAlign is the tallest MCU a baseline stream can use.
const salvageRowAlign = 16

// salvageMargin is how far the second salvage decode is cut back.
const salvageMargin = 16

// salvage decodes what it can of a stream that ends mid-scan. The stream is
// completed twice with zero bits and an EOI: once from its real end and once
// salvageMargin bytes earlier. Rows that decode the same both times came from
// real data; rows below them are filler. The count is rounded down to whole
// MCU rows. It returns the first decode and the number of usable rows, or nil
// when even the padded stream does not decode.
func salvage(data []byte, g Geometry) (image.Image, int) {
	if len(data) <= salvageMargin {
		return nil, 0
	}
	pad := int64(g.Width)*int64(g.Height)*int64(g.Components)/2 + 4096
	full, err := decodePadded(data, pad)
	if err != nil {
		return nil, 0
	}
	early, err := decodePadded(data[:len(data)-salvageMargin], pad)
	if err != nil {
		return full, 0
	}

	a := make([]byte, g.RowBytes())
	b := make([]byte, g.RowBytes())
	rows := 0
	for ; rows < g.Height; rows++ {
		nativeRow(full, rows, g.Components, a)
		nativeRow(early, rows, g.Components, b)
		if !bytes.Equal(a, b) {
			break
		}
	}
	if rows < g.Height {
		rows -= rows % salvageRowAlign
	}
	return full, rows
}

func decodePadded(data []byte, pad int64) (image.Image, error) {
	return jpeg.Decode(io.MultiReader(
		bytes.NewReader(data),
		io.LimitReader(zeros{}, pad),
		bytes.NewReader([]byte{0xFF, markers.EOI}),
	))
}

type zeros struct{}

func (zeros) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

func hasEOI(data []byte) bool {
	return bytes.HasSuffix(bytes.TrimRight(data, "\x00"), []byte{0xFF, 0xD9})
}
