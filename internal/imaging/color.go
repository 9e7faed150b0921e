package imaging

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// RGBColor is an 8-bit RGB triple.
type RGBColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

// RGBAColor is RGBColor plus alpha, which is 255 for decoded JPEGs.
type RGBAColor struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
	A uint8 `json:"a"`
}

// HSLColor holds hue in degrees (0-360) and saturation and lightness as
// percentages (0-100).
type HSLColor struct {
	H int `json:"h"`
	S int `json:"s"`
	L int `json:"l"`
}

// CMYKColor holds the ink samples of a pixel from a 4-component image.
type CMYKColor struct {
	C uint8 `json:"c"`
	M uint8 `json:"m"`
	Y uint8 `json:"y"`
	K uint8 `json:"k"`
}

// ColorResult is one sampled colour in every form the tools report.
type ColorResult struct {
	Hex  string     `json:"hex"` // "#RRGGBB"
	RGB  RGBColor   `json:"rgb"`
	RGBA RGBAColor  `json:"rgba"`
	HSL  HSLColor   `json:"hsl"`
	CMYK *CMYKColor `json:"cmyk,omitempty"` // 4-component images only
}

// SampleColor returns the colour at (x, y). Colours go through go-colorful for
// the hex and HSL forms; CMYK pixels also report their ink samples.
func SampleColor(img image.Image, x, y int) (*ColorResult, error) {
	if !image.Pt(x, y).In(img.Bounds()) {
		return nil, fmt.Errorf("coordinates (%d,%d) outside image bounds", x, y)
	}

	native := img.At(x, y)
	_, _, _, a := native.RGBA()
	c, _ := colorful.MakeColor(native)
	r8, g8, b8 := c.RGB255()

	res := &ColorResult{
		Hex:  strings.ToUpper(c.Hex()),
		RGB:  RGBColor{R: r8, G: g8, B: b8},
		RGBA: RGBAColor{R: r8, G: g8, B: b8, A: uint8(a >> 8)},
		HSL:  hslOf(c),
	}
	if k, ok := native.(color.CMYK); ok {
		res.CMYK = &CMYKColor{C: k.C, M: k.M, Y: k.Y, K: k.K}
	}
	return res, nil
}

// LabeledPoint is a coordinate to sample, with an optional caller label.
type LabeledPoint struct {
	X     int
	Y     int
	Label string
}

// LabeledColorResult is one sample of SampleColorsMulti.
type LabeledColorResult struct {
	Label string      `json:"label,omitempty"`
	X     int         `json:"x"`
	Y     int         `json:"y"`
	Color ColorResult `json:"color"`
}

// MultiColorResult holds samples in the order the points were given.
type MultiColorResult struct {
	Samples []LabeledColorResult `json:"samples"`
}

// SampleColorsMulti samples every point. All points are checked against the
// bounds first, so an out-of-range point fails the call before any tile is
// touched.
func SampleColorsMulti(img image.Image, points []LabeledPoint) (*MultiColorResult, error) {
	bounds := img.Bounds()
	for _, p := range points {
		if !image.Pt(p.X, p.Y).In(bounds) {
			return nil, fmt.Errorf("failed to sample point (%d,%d): outside image bounds", p.X, p.Y)
		}
	}

	results := make([]LabeledColorResult, 0, len(points))
	for _, p := range points {
		c, err := SampleColor(img, p.X, p.Y)
		if err != nil {
			return nil, fmt.Errorf("failed to sample point (%d,%d): %w", p.X, p.Y, err)
		}
		results = append(results, LabeledColorResult{Label: p.Label, X: p.X, Y: p.Y, Color: *c})
	}
	return &MultiColorResult{Samples: results}, nil
}

// Region is a rectangle with an inclusive top-left and exclusive bottom-right.
type Region struct {
	X1 int
	Y1 int
	X2 int
	Y2 int
}

// ColorFrequency is one entry of DominantColors.
type ColorFrequency struct {
	Hex        string   `json:"hex"`
	Percentage float64  `json:"percentage"`
	RGB        RGBColor `json:"rgb"`
}

// DominantColorsResult lists colours by descending frequency.
type DominantColorsResult struct {
	Colors []ColorFrequency `json:"colors"`
}

// quantStep groups colours: each channel is floored to a multiple of it.
const quantStep = 16

// packQuantized keys a colour by its quantized channels.
func packQuantized(r, g, b uint8) uint32 {
	return uint32(r/quantStep*quantStep)<<16 | uint32(g/quantStep*quantStep)<<8 | uint32(b/quantStep*quantStep)
}

// DominantColors returns up to count of the most common quantized colours in
// region, or in the whole image when region is nil. Ties are broken by hex
// value so results are stable.
//
// A *tiles.Image is read in full-width strips of one tile row, so each tile
// is fetched once; other images are walked pixel by pixel.
func DominantColors(img image.Image, count int, region *Region) (*DominantColorsResult, error) {
	bounds := img.Bounds()
	if region != nil {
		bounds = image.Rect(region.X1, region.Y1, region.X2, region.Y2).Intersect(bounds)
	}
	if bounds.Empty() {
		return nil, fmt.Errorf("region is empty or outside the image")
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}

	var (
		counts map[uint32]int
		err    error
	)
	if t, ok := img.(*tiles.Image); ok {
		counts, err = countTiled(t, bounds)
		if err != nil {
			return nil, err
		}
	} else {
		counts = countPixels(img, bounds)
	}

	keys := make([]uint32, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > count {
		keys = keys[:count]
	}

	total := float64(bounds.Dx() * bounds.Dy())
	colors := make([]ColorFrequency, 0, len(keys))
	for _, k := range keys {
		r, g, b := uint8(k>>16), uint8(k>>8), uint8(k)
		colors = append(colors, ColorFrequency{
			Hex:        fmt.Sprintf("#%02X%02X%02X", r, g, b),
			Percentage: float64(counts[k]) / total * 100,
			RGB:        RGBColor{R: r, G: g, B: b},
		})
	}
	return &DominantColorsResult{Colors: colors}, nil
}

func countPixels(img image.Image, bounds image.Rectangle) map[uint32]int {
	counts := make(map[uint32]int)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			counts[packQuantized(uint8(r>>8), uint8(g>>8), uint8(b>>8))]++
		}
	}
	return counts
}

// countTiled quantizes raw samples strip by strip. Samples are read the
// way At reports them: gray is replicated and CMYK goes through color.CMYK.
func countTiled(img *tiles.Image, bounds image.Rectangle) (map[uint32]int, error) {
	l := img.Layout()
	comps := l.Components
	rowBytes := l.Width * comps
	strip := max(1, l.TileHeight)
	buf := make([]byte, min(strip, bounds.Dy())*rowBytes)

	counts := make(map[uint32]int)
	for y := bounds.Min.Y; y < bounds.Max.Y; {
		// Align strips to tile rows so no tile is decompressed twice.
		n := min(strip-y%strip, bounds.Max.Y-y)
		got, err := img.ReadRows(y, n, buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read rows at %d: %w", y, err)
		}
		if got <= 0 {
			return nil, fmt.Errorf("image returned no rows at %d", y)
		}
		for i := 0; i < got; i++ {
			row := buf[i*rowBytes+bounds.Min.X*comps : i*rowBytes+bounds.Max.X*comps]
			switch comps {
			case 1:
				for _, v := range row {
					counts[packQuantized(v, v, v)]++
				}
			case 3:
				for j := 0; j+2 < len(row); j += 3 {
					counts[packQuantized(row[j], row[j+1], row[j+2])]++
				}
			default:
				for j := 0; j+3 < len(row); j += 4 {
					r, g, b, _ := color.CMYK{C: row[j], M: row[j+1], Y: row[j+2], K: row[j+3]}.RGBA()
					counts[packQuantized(uint8(r>>8), uint8(g>>8), uint8(b>>8))]++
				}
			}
		}
		y += got
	}
	return counts, nil
}

// hslOf converts a colour to integer HSL. Achromatic colours get hue 0.
func hslOf(c colorful.Color) HSLColor {
	h, s, l := c.Hsl()
	if math.IsNaN(h) {
		h = 0
	}
	return HSLColor{
		H: int(h),
		S: int(s * 100),
		L: int(l * 100),
	}
}
