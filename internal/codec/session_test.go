package codec

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
	"github.com/ironsheep/tiled-jpeg/internal/markers"
)

// blockColors is the palette for the flat-block fixtures.
var blockColors = []color.RGBA{
	{200, 40, 40, 255},
	{40, 160, 60, 255},
	{30, 60, 190, 255},
	{230, 230, 230, 255},
}

// flatBlocks builds an image of 16x16 flat colour blocks.
func flatBlocks(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, blockColors[(x/16+y/16)%len(blockColors)])
		}
	}
	return img
}

// encodeFixture encodes img with the standard library encoder.
func encodeFixture(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func openFixture(t *testing.T, data []byte, opts DecodeOptions) *DecodeSession {
	t.Helper()
	s, err := OpenDecoder(bridge.NewBytesProvider(data), opts)
	if err != nil {
		t.Fatalf("OpenDecoder failed: %v", err)
	}
	return s
}

type brokenProvider struct{}

func (brokenProvider) Fill([]byte) (int, error) { return 0, errors.New("network unreachable") }

func within(a, b, tol uint8) bool {
	if a > b {
		return a-b <= tol
	}
	return b-a <= tol
}

func TestOpenDecoder_Geometry(t *testing.T) {
	tests := []struct {
		name  string
		img   image.Image
		comps int
		cs    ColorSpace
	}{
		{"gray", image.NewGray(image.Rect(0, 0, 40, 30)), 1, Grayscale},
		{"color", flatBlocks(64, 48), 3, YCbCr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := openFixture(t, encodeFixture(t, tt.img), DecodeOptions{})
			defer s.Close()

			g := s.Geometry()
			b := tt.img.Bounds()
			if g.Width != b.Dx() || g.Height != b.Dy() {
				t.Errorf("size: got %dx%d, want %dx%d", g.Width, g.Height, b.Dx(), b.Dy())
			}
			if g.Components != tt.comps || g.ColorSpace != tt.cs {
				t.Errorf("got %d comps %v, want %d comps %v", g.Components, g.ColorSpace, tt.comps, tt.cs)
			}
			if s.State() != StateHeaderParsed {
				t.Errorf("state: got %v, want HeaderParsed", s.State())
			}
		})
	}
}

func TestOpenDecoder_Errors(t *testing.T) {
	_, err := OpenDecoder(bridge.NewBytesProvider([]byte("definitely not a jpeg")), DecodeOptions{})
	if !errors.Is(err, ErrMalformedStream) {
		t.Errorf("garbage: got %v, want MalformedStream", err)
	}

	_, err = OpenDecoder(brokenProvider{}, DecodeOptions{})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("broken provider: got %v, want SourceUnavailable", err)
	}

	_, err = OpenDecoderFile("/nonexistent/path/to/image.jpg", DecodeOptions{})
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("missing file: got %v, want SourceUnavailable", err)
	}

	_, err = OpenDecoder(bridge.NewBytesProvider(nil), DecodeOptions{MaxWidth: -1})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("negative limit: got %v, want InvalidParameter", err)
	}
}

func TestReadScanlines_SumEqualsHeight(t *testing.T) {
	s := openFixture(t, encodeFixture(t, flatBlocks(48, 37)), DecodeOptions{BufferSize: 512})
	g := s.Geometry()
	buf := make([]byte, 10*g.RowBytes())

	total := 0
	for total < g.Height {
		n, err := s.ReadScanlines(buf, 0, 10)
		if err != nil {
			t.Fatalf("ReadScanlines failed: %v", err)
		}
		if n <= 0 {
			t.Fatalf("unexpected exhaustion at %d", total)
		}
		total += n
	}
	if total != g.Height {
		t.Errorf("total lines: got %d, want %d", total, g.Height)
	}
	if s.State() != StateCompleted {
		t.Errorf("state: got %v, want Completed", s.State())
	}
	if n, err := s.ReadScanlines(buf, 0, 10); n != 0 || err != nil {
		t.Errorf("read past end: got %d, %v", n, err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestReadScanlines_LineOffset(t *testing.T) {
	s := openFixture(t, encodeFixture(t, image.NewGray(image.Rect(0, 0, 8, 8))), DecodeOptions{})
	defer s.Close()

	buf := bytes.Repeat([]byte{0xEE}, 3*8)
	n, err := s.ReadScanlines(buf, 2, 1)
	if err != nil || n != 1 {
		t.Fatalf("got %d, %v", n, err)
	}
	if buf[0] != 0xEE || buf[15] != 0xEE {
		t.Error("rows before lineOffset were overwritten")
	}
	if buf[16] != 0 {
		t.Errorf("row at lineOffset: got %d, want 0", buf[16])
	}
}

func TestReadScanlines_BadRequests(t *testing.T) {
	s := openFixture(t, encodeFixture(t, flatBlocks(16, 16)), DecodeOptions{})

	if _, err := s.ReadScanlines(make([]byte, 10), 0, 1); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("short buffer: got %v, want InvalidParameter", err)
	}
	if _, err := s.ReadScanlines(make([]byte, 1024), 0, 0); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("zero lines: got %v, want InvalidParameter", err)
	}

	s.Close()
	if _, err := s.ReadScanlines(make([]byte, 1024), 0, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("after close: got %v, want ErrClosed", err)
	}
}

func TestDecodeSession_CloseIdempotent(t *testing.T) {
	before := OpenHandles()
	s := openFixture(t, encodeFixture(t, flatBlocks(16, 16)), DecodeOptions{})
	if OpenHandles() != before+1 {
		t.Fatalf("open handles: got %d, want %d", OpenHandles(), before+1)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if OpenHandles() != before {
		t.Errorf("handle released %d times", before+1-OpenHandles())
	}
	if s.State() != StateClosed {
		t.Errorf("state: got %v, want Closed", s.State())
	}
}

func TestDecodeSession_PartialReadComplains(t *testing.T) {
	s := openFixture(t, encodeFixture(t, flatBlocks(32, 32)), DecodeOptions{})
	buf := make([]byte, 4*s.Geometry().RowBytes())
	if _, err := s.ReadScanlines(buf, 0, 4); err != nil {
		t.Fatalf("ReadScanlines failed: %v", err)
	}

	err := s.Close()
	if !errors.Is(err, ErrIncompleteScan) || !errors.Is(err, ErrEngineFailure) {
		t.Fatalf("got %v, want incomplete scan engine failure", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: got %v, want nil", err)
	}
}

func TestDecodeSession_CancelSuppressesComplaint(t *testing.T) {
	s := openFixture(t, encodeFixture(t, flatBlocks(32, 32)), DecodeOptions{})
	buf := make([]byte, 4*s.Geometry().RowBytes())
	if _, err := s.ReadScanlines(buf, 0, 4); err != nil {
		t.Fatalf("ReadScanlines failed: %v", err)
	}

	s.Cancel()
	if s.State() != StateCanceled {
		t.Errorf("state: got %v, want Canceled", s.State())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after Cancel: got %v, want nil", err)
	}
}

// gradient builds a smooth image whose scan data is spread over every row.
func gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(2 * x), uint8(2 * y), uint8(x + y), 255})
		}
	}
	return img
}

func TestDecodeSession_Truncated(t *testing.T) {
	data := encodeFixture(t, gradient(128, 128))
	intact, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	yc := intact.(*image.YCbCr)

	s := openFixture(t, data[:len(data)*9/10], DecodeOptions{})
	g := s.Geometry()
	rb := g.RowBytes()
	buf := make([]byte, g.Height*rb)

	total := 0
	for total < g.Height {
		n, err := s.ReadScanlines(buf, total, 16)
		if err != nil {
			t.Fatalf("truncated stream must not fail: %v", err)
		}
		if n <= 0 {
			break
		}
		total += n
	}
	if total == 0 || total >= g.Height || total%16 != 0 {
		t.Fatalf("delivered %d of %d rows, want a non-empty whole number of MCU rows", total, g.Height)
	}

	for y := 0; y < total; y++ {
		for x := 0; x < g.Width; x++ {
			r, gg, b := color.YCbCrToRGB(yc.Y[yc.YOffset(x, y)], yc.Cb[yc.COffset(x, y)], yc.Cr[yc.COffset(x, y)])
			p := buf[y*rb+3*x:]
			if p[0] != r || p[1] != gg || p[2] != b {
				t.Fatalf("row %d col %d: got %v, want %v", y, x, p[:3], []byte{r, gg, b})
			}
		}
	}
	if s.State() != StateCompleted {
		t.Errorf("state %v, want Completed", s.State())
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close after exhaustion: %v", err)
	}
}

func TestDecodeSession_TruncatedAfterSOS(t *testing.T) {
	data := encodeFixture(t, gradient(32, 32))
	// Cut right after the SOS header so no entropy-coded data is present.
	sos := bytes.Index(data, []byte{0xFF, 0xDA})
	s := openFixture(t, data[:sos+14], DecodeOptions{})
	defer s.Close()

	n, err := s.ReadScanlines(make([]byte, 32*s.Geometry().RowBytes()), 0, 32)
	if err != nil || n != 0 {
		t.Errorf("got %d rows, %v; want 0, nil", n, err)
	}
}

// appSegment frames payload as a marker segment.
func appSegment(marker byte, payload []byte) []byte {
	n := len(payload) + 2
	return append([]byte{0xFF, marker, byte(n >> 8), byte(n)}, payload...)
}

// afterSOI inserts segments directly after the SOI marker.
func afterSOI(data []byte, segs ...[]byte) []byte {
	out := append([]byte(nil), data[:2]...)
	for _, s := range segs {
		out = append(out, s...)
	}
	return append(out, data[2:]...)
}

func TestOpenDecoder_LargeHeaderSegments(t *testing.T) {
	exif := append([]byte("Exif\x00\x00"), make([]byte, 65533-6)...)
	icc := append([]byte("ICC_PROFILE\x00"), make([]byte, 10000-12)...)
	data := afterSOI(encodeFixture(t, flatBlocks(48, 32)), appSegment(0xE1, exif), appSegment(0xE2, icc))

	s := openFixture(t, data, DecodeOptions{})
	defer s.Close()
	g := s.Geometry()
	if g.Width != 48 || g.Height != 32 || g.Components != 3 {
		t.Fatalf("geometry: %+v", g)
	}

	buf := make([]byte, g.Height*g.RowBytes())
	if n, err := s.ReadScanlines(buf, 0, g.Height); err != nil || n != g.Height {
		t.Fatalf("read %d, %v", n, err)
	}
	want := blockColors[0]
	p := buf[8*g.RowBytes()+3*8:]
	if !within(p[0], want.R, 6) || !within(p[1], want.G, 6) || !within(p[2], want.B, 6) {
		t.Errorf("pixel (8,8): got %v, want %v", p[:3], want)
	}
}

func TestDecodeSession_ReleasesFrameAfterLastRow(t *testing.T) {
	s := openFixture(t, encodeFixture(t, flatBlocks(32, 32)), DecodeOptions{})
	defer s.Close()
	buf := make([]byte, 32*s.Geometry().RowBytes())

	if n, err := s.ReadScanlines(buf, 0, 16); err != nil || n != 16 {
		t.Fatalf("first strip: %d, %v", n, err)
	}
	if s.eng.data != nil || s.eng.img == nil {
		t.Error("compressed stream should be dropped once decoded, frame kept until the last row")
	}
	if n, err := s.ReadScanlines(buf, 16, 16); err != nil || n != 16 {
		t.Fatalf("second strip: %d, %v", n, err)
	}
	if s.eng.img != nil || s.eng.scratch != nil {
		t.Error("decoded frame still held after the last row")
	}
}

func readTestdata(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestDecodeSession_AdobeFourComponent(t *testing.T) {
	tests := []struct {
		file        string
		space       ColorSpace
		transform   int
		topLeft     []byte
		bottomRight []byte
	}{
		// Stored samples come back unchanged.
		{"adobe_cmyk.jpg", CMYK, markers.TransformUnknown, []byte{200, 100, 50, 20}, []byte{0, 255, 30, 90}},
		// YCCK is converted to CMY with K passed through.
		{"adobe_ycck.jpg", YCCK, markers.TransformYCCK, []byte{165, 165, 165, 40}, []byte{55, 55, 55, 250}},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			s := openFixture(t, readTestdata(t, tt.file), DecodeOptions{})
			defer s.Close()

			g := s.Geometry()
			if g.Width != 16 || g.Height != 16 || g.Components != 4 || g.ColorSpace != tt.space {
				t.Fatalf("geometry: %+v", g)
			}
			if got := s.MarkerTransform(); got != tt.transform {
				t.Errorf("transform: got %d, want %d", got, tt.transform)
			}

			rb := g.RowBytes()
			buf := make([]byte, g.Height*rb)
			if n, err := s.ReadScanlines(buf, 0, g.Height); err != nil || n != g.Height {
				t.Fatalf("read %d, %v", n, err)
			}
			if got := buf[2*rb+2*4 : 2*rb+3*4]; !bytes.Equal(got, tt.topLeft) {
				t.Errorf("(2,2): got %v, want %v", got, tt.topLeft)
			}
			if got := buf[12*rb+12*4 : 12*rb+13*4]; !bytes.Equal(got, tt.bottomRight) {
				t.Errorf("(12,12): got %v, want %v", got, tt.bottomRight)
			}
		})
	}
}

func TestDecodeSession_AdobeDownscale(t *testing.T) {
	s := openFixture(t, readTestdata(t, "adobe_cmyk.jpg"), DecodeOptions{MaxWidth: 2})
	defer s.Close()
	g := s.Geometry()
	if g.Width != 2 || g.Height != 2 {
		t.Fatalf("geometry: %+v", g)
	}
	buf := make([]byte, g.Height*g.RowBytes())
	if n, err := s.ReadScanlines(buf, 0, 2); err != nil || n != 2 {
		t.Fatalf("read %d, %v", n, err)
	}
	// Each output sample averages one flat 8x8 block.
	want := []byte{200, 100, 50, 20, 10, 60, 120, 240, 128, 128, 128, 128, 0, 255, 30, 90}
	if !bytes.Equal(buf, want) {
		t.Errorf("got %v, want %v", buf, want)
	}
}

func TestDecodeSession_Downscale(t *testing.T) {
	data := encodeFixture(t, flatBlocks(200, 100))

	tests := []struct {
		maxW, maxH   int
		wantW, wantH int
	}{
		{0, 0, 200, 100},
		{200, 100, 200, 100},
		{100, 0, 100, 50},
		{50, 50, 50, 25},
		{0, 20, 25, 13},
		{10, 10, 25, 13},
	}

	for _, tt := range tests {
		s := openFixture(t, data, DecodeOptions{MaxWidth: tt.maxW, MaxHeight: tt.maxH})
		g := s.Geometry()
		if g.Width != tt.wantW || g.Height != tt.wantH {
			t.Errorf("max %dx%d: got %dx%d, want %dx%d", tt.maxW, tt.maxH, g.Width, g.Height, tt.wantW, tt.wantH)
		}

		buf := make([]byte, g.Height*g.RowBytes())
		n, err := s.ReadScanlines(buf, 0, g.Height)
		if err != nil || n != g.Height {
			t.Errorf("max %dx%d: read %d, %v", tt.maxW, tt.maxH, n, err)
		}
		s.Close()
	}
}

func TestNativeRow_UndoesCMYKInversion(t *testing.T) {
	img := image.NewCMYK(image.Rect(0, 0, 2, 1))
	copy(img.Pix, []byte{0, 10, 20, 30, 255, 245, 235, 225})

	row := make([]byte, 8)
	nativeRow(img, 0, 4, row)
	want := []byte{255, 245, 235, 225, 0, 10, 20, 30}
	if !bytes.Equal(row, want) {
		t.Errorf("got %v, want %v", row, want)
	}
}

func TestOpenEncoder_InvalidQuality(t *testing.T) {
	for _, q := range []int{-1, 101} {
		before := OpenHandles()
		recv := &bridge.BufferReceiver{}
		s, err := OpenEncoder(recv, EncodeOptions{Width: 8, Height: 8, Components: 3, ColorSpace: RGB, Quality: q})
		if !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("quality %d: got %v, want InvalidParameter", q, err)
		}
		if s != nil {
			t.Errorf("quality %d: session returned", q)
		}
		if OpenHandles() != before {
			t.Errorf("quality %d: handle allocated", q)
		}
		if recv.Len() != 0 {
			t.Errorf("quality %d: receiver saw %d bytes", q, recv.Len())
		}
	}
}

func TestOpenEncoder_InvalidLayouts(t *testing.T) {
	tests := []EncodeOptions{
		{Width: 0, Height: 8, Components: 3, ColorSpace: RGB},
		{Width: 8, Height: 8, Components: 4, ColorSpace: CMYK},
		{Width: 8, Height: 8, Components: 3, ColorSpace: Grayscale},
		{Width: 8, Height: 8, Components: 1, ColorSpace: RGB},
	}
	for _, o := range tests {
		if _, err := OpenEncoder(&bridge.BufferReceiver{}, o); !errors.Is(err, ErrInvalidParameter) {
			t.Errorf("%+v: got %v, want InvalidParameter", o, err)
		}
	}
}

// encodeRaw runs the whole encode session over interleaved samples.
func encodeRaw(t *testing.T, pix []byte, o EncodeOptions, segs map[byte][]byte) []byte {
	t.Helper()
	recv := &bridge.BufferReceiver{}
	s, err := OpenEncoder(recv, o)
	if err != nil {
		t.Fatalf("OpenEncoder failed: %v", err)
	}
	for m, p := range segs {
		if err := s.WriteSegment(m, p); err != nil {
			t.Fatalf("WriteSegment failed: %v", err)
		}
	}
	rb := o.Width * o.Components
	for y := 0; y < o.Height; y += 5 {
		n, err := s.WriteScanlines(pix, y*rb, 5, rb)
		if err != nil {
			t.Fatalf("WriteScanlines failed: %v", err)
		}
		if want := min(5, o.Height-y); n != want {
			t.Fatalf("WriteScanlines: got %d, want %d", n, want)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	return recv.Bytes()
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	const w, h = 64, 48
	src := flatBlocks(w, h)
	pix := make([]byte, 0, w*h*3)
	for i := 0; i < len(src.Pix); i += 4 {
		pix = append(pix, src.Pix[i], src.Pix[i+1], src.Pix[i+2])
	}

	for _, cs := range []ColorSpace{RGB, YCbCr} {
		t.Run(cs.String(), func(t *testing.T) {
			in := pix
			if cs == YCbCr {
				in = make([]byte, len(pix))
				for i := 0; i < len(pix); i += 3 {
					in[i], in[i+1], in[i+2] = color.RGBToYCbCr(pix[i], pix[i+1], pix[i+2])
				}
			}
			data := encodeRaw(t, in, EncodeOptions{Width: w, Height: h, Components: 3, ColorSpace: cs, Quality: 100}, nil)

			s := openFixture(t, data, DecodeOptions{})
			defer s.Close()
			g := s.Geometry()
			if g.Width != w || g.Height != h || g.Components != 3 {
				t.Fatalf("geometry: got %+v", g)
			}

			out := make([]byte, len(pix))
			if n, err := s.ReadScanlines(out, 0, h); err != nil || n != h {
				t.Fatalf("ReadScanlines: %d, %v", n, err)
			}
			for i := range pix {
				if !within(out[i], pix[i], 6) {
					t.Fatalf("sample %d: got %d, want %d", i, out[i], pix[i])
				}
			}
		})
	}
}

func TestEncodeDecode_GrayRoundTrip(t *testing.T) {
	const w, h = 24, 16
	pix := make([]byte, w*h)
	for i := range pix {
		if (i%w)/8%2 == 0 {
			pix[i] = 40
		} else {
			pix[i] = 210
		}
	}
	data := encodeRaw(t, pix, EncodeOptions{Width: w, Height: h, Components: 1, ColorSpace: Grayscale, Quality: 100}, nil)

	s := openFixture(t, data, DecodeOptions{})
	defer s.Close()
	if s.Geometry().ColorSpace != Grayscale {
		t.Fatalf("colour space: got %v", s.Geometry().ColorSpace)
	}
	out := make([]byte, len(pix))
	if n, err := s.ReadScanlines(out, 0, h); err != nil || n != h {
		t.Fatalf("ReadScanlines: %d, %v", n, err)
	}
	for i := range pix {
		if !within(out[i], pix[i], 3) {
			t.Fatalf("sample %d: got %d, want %d", i, out[i], pix[i])
		}
	}
}

func TestEncodeSession_Segments(t *testing.T) {
	pix := make([]byte, 8*8)
	data := encodeRaw(t, pix, EncodeOptions{Width: 8, Height: 8, Components: 1, ColorSpace: Grayscale, Quality: 90},
		map[byte][]byte{markers.APP14: []byte("Adobe\x00\x64\x00\x00\x00\x00\x00")})

	info, err := markers.ScanBytes(data)
	if err != nil {
		t.Fatalf("ScanBytes failed: %v", err)
	}
	if !info.Adobe {
		t.Error("APP14 segment missing from output")
	}
	if info.Segments[0].Marker != markers.APP14 {
		t.Errorf("first segment: got 0x%02X, want APP14", info.Segments[0].Marker)
	}
}

func TestEncodeSession_SegmentRules(t *testing.T) {
	s, err := OpenEncoder(&bridge.BufferReceiver{}, EncodeOptions{Width: 4, Height: 2, Components: 1, ColorSpace: Grayscale, Quality: 50})
	if err != nil {
		t.Fatalf("OpenEncoder failed: %v", err)
	}
	defer s.Close()

	if err := s.WriteSegment(0xC0, nil); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("SOF marker: got %v, want InvalidParameter", err)
	}
	if err := s.WriteSegment(MarkerCOM, make([]byte, 70000)); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("oversized payload: got %v, want InvalidParameter", err)
	}
	if _, err := s.WriteScanlines(make([]byte, 4), 0, 1, 4); err != nil {
		t.Fatalf("WriteScanlines failed: %v", err)
	}
	if err := s.WriteSegment(MarkerCOM, []byte("late")); !errors.Is(err, ErrEngineFailure) {
		t.Errorf("segment after scanlines: got %v, want EngineFailure", err)
	}
}

func TestEncodeSession_IncompleteAndCancel(t *testing.T) {
	o := EncodeOptions{Width: 4, Height: 4, Components: 1, ColorSpace: Grayscale, Quality: 50}

	recv := &bridge.BufferReceiver{}
	s, _ := OpenEncoder(recv, o)
	s.WriteScanlines(make([]byte, 8), 0, 2, 4)
	if err := s.Close(); !errors.Is(err, ErrIncompleteScan) {
		t.Errorf("incomplete: got %v, want ErrIncompleteScan", err)
	}
	if recv.Len() != 0 {
		t.Errorf("incomplete stream emitted %d bytes", recv.Len())
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: got %v", err)
	}

	before := OpenHandles()
	recv = &bridge.BufferReceiver{}
	s, _ = OpenEncoder(recv, o)
	s.WriteScanlines(make([]byte, 8), 0, 2, 4)
	s.Cancel()
	if err := s.Close(); err != nil {
		t.Errorf("Close after Cancel: got %v", err)
	}
	if recv.Len() != 0 || OpenHandles() != before {
		t.Errorf("cancel: %d bytes emitted, %d handles leaked", recv.Len(), OpenHandles()-before)
	}
}

func TestEncodeSession_ShortSource(t *testing.T) {
	s, _ := OpenEncoder(&bridge.BufferReceiver{}, EncodeOptions{Width: 4, Height: 4, Components: 3, ColorSpace: RGB, Quality: 50})
	defer s.Cancel()
	if _, err := s.WriteScanlines(make([]byte, 20), 0, 2, 12); !errors.Is(err, ErrInvalidParameter) {
		t.Errorf("got %v, want InvalidParameter", err)
	}
}

func TestDecodeSession_MarkerTransform(t *testing.T) {
	s := openFixture(t, encodeFixture(t, flatBlocks(16, 16)), DecodeOptions{})
	defer s.Close()
	if got := s.MarkerTransform(); got != -1 {
		t.Errorf("got %d, want -1 for a 3-component stream", got)
	}
}

func TestEncodeSession_Abort(t *testing.T) {
	before := OpenHandles()
	recv := &bridge.BufferReceiver{}
	s, err := OpenEncoder(recv, EncodeOptions{Width: 4, Height: 4, Components: 1, ColorSpace: Grayscale, Quality: 50})
	if err != nil {
		t.Fatalf("OpenEncoder failed: %v", err)
	}
	s.Abort()
	if s.State() != StateClosed || recv.Len() != 0 || OpenHandles() != before {
		t.Errorf("state %v, %d bytes, %d handles leaked", s.State(), recv.Len(), OpenHandles()-before)
	}
}
