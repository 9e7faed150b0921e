package imaging

import (
	"encoding/base64"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/transform"
	"github.com/disintegration/imaging"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// CropResult contains the cropped image data
type CropResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// Crop extracts a rectangular region from an image and returns it as a
// base64 JPEG at the given quality. A scale other than 1 resizes the region
// with bilinear filtering.
func Crop(img image.Image, x1, y1, x2, y2 int, scale float64, quality int) (*CropResult, error) {
	bounds := img.Bounds()

	// Validate coordinates
	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			x1, y1, x2, y2, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	r := image.Rect(x1, y1, x2, y2)
	var cropped image.Image
	if t, ok := img.(*tiles.Image); ok {
		// Only the tiles under r are touched.
		sub, err := t.Materialize(r)
		if err != nil {
			return nil, fmt.Errorf("failed to read crop region: %w", err)
		}
		cropped = sub
	} else {
		cropped = imaging.Crop(img, r)
	}

	if scale != 1.0 && scale > 0 {
		newWidth := max(int(float64(r.Dx())*scale), 1)
		newHeight := max(int(float64(r.Dy())*scale), 1)
		cropped = transform.Resize(cropped, newWidth, newHeight, transform.Linear)
	}

	data, err := EncodeJPEG(cropped, quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	return &CropResult{
		Width:       cropped.Bounds().Dx(),
		Height:      cropped.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MimeType:    "image/jpeg",
	}, nil
}

// CropQuadrant extracts a named region from an image
func CropQuadrant(img image.Image, region string, scale float64, quality int) (*CropResult, error) {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	midX := w / 2
	midY := h / 2

	var x1, y1, x2, y2 int

	switch region {
	case "top-left":
		x1, y1, x2, y2 = 0, 0, midX, midY
	case "top-right":
		x1, y1, x2, y2 = midX, 0, w, midY
	case "bottom-left":
		x1, y1, x2, y2 = 0, midY, midX, h
	case "bottom-right":
		x1, y1, x2, y2 = midX, midY, w, h
	case "top-half":
		x1, y1, x2, y2 = 0, 0, w, midY
	case "bottom-half":
		x1, y1, x2, y2 = 0, midY, w, h
	case "left-half":
		x1, y1, x2, y2 = 0, 0, midX, h
	case "right-half":
		x1, y1, x2, y2 = midX, 0, w, h
	case "center":
		// Center 50% of the image
		qW := w / 4
		qH := h / 4
		x1, y1, x2, y2 = qW, qH, w-qW, h-qH
	default:
		return nil, fmt.Errorf("unknown region: %s", region)
	}

	return Crop(img, bounds.Min.X+x1, bounds.Min.Y+y1, bounds.Min.X+x2, bounds.Min.Y+y2, scale, quality)
}

// EncodeJPEG compresses img through an encode session. Gray images are
// written as 1-component streams; everything else is flattened to RGB.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var rows []byte
	opts := codec.EncodeOptions{Width: w, Height: h, Quality: quality}
	if g, ok := img.(*image.Gray); ok {
		opts.Components, opts.ColorSpace = 1, codec.Grayscale
		rows = make([]byte, w*h)
		for y := 0; y < h; y++ {
			copy(rows[y*w:(y+1)*w], g.Pix[g.PixOffset(b.Min.X, b.Min.Y+y):])
		}
	} else {
		opts.Components, opts.ColorSpace = 3, codec.RGB
		nrgba := imaging.Clone(img)
		rows = make([]byte, w*h*3)
		for i, j := 0, 0; j < len(rows); i, j = i+4, j+3 {
			copy(rows[j:j+3], nrgba.Pix[i:i+3])
		}
	}

	var out bridge.BufferReceiver
	enc, err := codec.OpenEncoder(&out, opts)
	if err != nil {
		return nil, err
	}
	stride := w * opts.Components
	if _, err := enc.WriteScanlines(rows, 0, h, stride); err != nil {
		enc.Abort()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
