// Package tiles stores decoded rasters as a grid of fixed-size tiles.
//
// An Image never holds the whole raster in one contiguous buffer. Callers
// commit rectangles of interleaved samples through the Store interface; the
// image splits them across the tiles they touch and hands each tile to a
// Backend, which may keep it as-is (Memory) or compressed (Zstd).
//
// Image implements image.Image, so analysis code can read it like any other
// Go image. Materialize copies a region into a contiguous image when a
// library needs one.
package tiles

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/ironsheep/tiled-jpeg/internal/codec"
)

// DefaultTileSize is the tile edge used when a Layout leaves it at zero.
const DefaultTileSize = 512

// ErrClosed is returned by operations on a closed Image.
var ErrClosed = errors.New("tiles: image is closed")

// Store receives rectangles of interleaved samples. pix holds r.Dy() rows
// of r.Dx()*components bytes each, stride bytes apart.
type Store interface {
	Commit(r image.Rectangle, pix []byte, stride int) error
}

// Layout describes the raster and tile geometry of an Image.
type Layout struct {
	Width      int `json:"width"`
	Height     int `json:"height"`
	TileWidth  int `json:"tile_width"`
	TileHeight int `json:"tile_height"`
	Components int `json:"components"`

	// ColorSpace is the working space of the samples.
	ColorSpace codec.ColorSpace `json:"color_space"`
}

// LayoutFor derives a layout from decoded geometry. Samples are stored in
// the working space for the component count.
func LayoutFor(g codec.Geometry, tileWidth, tileHeight int) Layout {
	return Layout{
		Width:      g.Width,
		Height:     g.Height,
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
		Components: g.Components,
		ColorSpace: codec.WorkingSpace(g.Components),
	}
}

// Columns is the number of tiles across.
func (l Layout) Columns() int { return (l.Width + l.TileWidth - 1) / l.TileWidth }

// Rows is the number of tiles down.
func (l Layout) Rows() int { return (l.Height + l.TileHeight - 1) / l.TileHeight }

// TileBounds returns the raster rectangle covered by tile (col, row),
// clipped to the image.
func (l Layout) TileBounds(col, row int) image.Rectangle {
	r := image.Rect(col*l.TileWidth, row*l.TileHeight, (col+1)*l.TileWidth, (row+1)*l.TileHeight)
	return r.Intersect(image.Rect(0, 0, l.Width, l.Height))
}

func (l Layout) tileStride() int { return l.TileWidth * l.Components }

func (l Layout) tileBytes() int { return l.tileStride() * l.TileHeight }

func (l *Layout) normalize() error {
	if l.TileWidth == 0 {
		l.TileWidth = DefaultTileSize
	}
	if l.TileHeight == 0 {
		l.TileHeight = DefaultTileSize
	}
	switch {
	case l.Width <= 0 || l.Height <= 0:
		return fmt.Errorf("tiles: bad image size %dx%d", l.Width, l.Height)
	case l.TileWidth < 0 || l.TileHeight < 0:
		return fmt.Errorf("tiles: bad tile size %dx%d", l.TileWidth, l.TileHeight)
	case l.Components != 1 && l.Components != 3 && l.Components != 4:
		return fmt.Errorf("tiles: unsupported component count %d", l.Components)
	}
	if l.ColorSpace == codec.Unknown {
		l.ColorSpace = codec.WorkingSpace(l.Components)
	}
	return nil
}

// Image is a tiled raster. It is safe for concurrent readers alongside a
// single committing writer.
type Image struct {
	mu      sync.RWMutex
	layout  Layout
	backend Backend
	rows    int
	commits int
	closed  bool
}

// New creates an empty image with the given layout over backend. Zero tile
// sizes select DefaultTileSize.
func New(l Layout, backend Backend) (*Image, error) {
	if err := l.normalize(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errors.New("tiles: nil backend")
	}
	return &Image{layout: l, backend: backend}, nil
}

// NewWithKind creates an empty image backed by a new backend of kind.
func NewWithKind(l Layout, kind BackendKind) (*Image, error) {
	b, err := NewBackend(kind)
	if err != nil {
		return nil, err
	}
	img, err := New(l, b)
	if err != nil {
		b.Close()
		return nil, err
	}
	return img, nil
}

// Layout returns the image layout.
func (m *Image) Layout() Layout { return m.layout }

// Width returns the raster width.
func (m *Image) Width() int { return m.layout.Width }

// Height returns the raster height.
func (m *Image) Height() int { return m.layout.Height }

// Components returns the samples per pixel.
func (m *Image) Components() int { return m.layout.Components }

// Commit copies a rectangle of samples into the tiles it overlaps.
func (m *Image) Commit(r image.Rectangle, pix []byte, stride int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	l := m.layout
	if r.Empty() || !r.In(image.Rect(0, 0, l.Width, l.Height)) {
		return fmt.Errorf("tiles: commit %v outside %dx%d", r, l.Width, l.Height)
	}
	rowBytes := r.Dx() * l.Components
	if stride < rowBytes || len(pix) < (r.Dy()-1)*stride+rowBytes {
		return fmt.Errorf("tiles: commit %v: %d bytes at stride %d is too short", r, len(pix), stride)
	}

	ts := l.tileStride()
	for row := r.Min.Y / l.TileHeight; row <= (r.Max.Y-1)/l.TileHeight; row++ {
		for col := r.Min.X / l.TileWidth; col <= (r.Max.X-1)/l.TileWidth; col++ {
			tb := l.TileBounds(col, row)
			part := tb.Intersect(r)
			idx := row*l.Columns() + col

			buf := make([]byte, l.tileBytes())
			if part != tb {
				old, err := m.backend.Get(idx)
				if err != nil {
					return err
				}
				copy(buf, old)
			}

			n := part.Dx() * l.Components
			for y := part.Min.Y; y < part.Max.Y; y++ {
				src := (y-r.Min.Y)*stride + (part.Min.X-r.Min.X)*l.Components
				dst := (y-tb.Min.Y)*ts + (part.Min.X-tb.Min.X)*l.Components
				copy(buf[dst:dst+n], pix[src:src+n])
			}
			if err := m.backend.Put(idx, buf); err != nil {
				return fmt.Errorf("tiles: store tile %d: %w", idx, err)
			}
		}
	}

	m.commits++
	if r.Min.X == 0 && r.Max.X == l.Width && r.Min.Y <= m.rows && r.Max.Y > m.rows {
		m.rows = r.Max.Y
	}
	return nil
}

// CommittedRows returns how many rows from the top have been fully
// committed by full-width commits.
func (m *Image) CommittedRows() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows
}

// Commits returns the number of successful Commit calls.
func (m *Image) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// StoredBytes reports the bytes held by the backend.
func (m *Image) StoredBytes() int64 {
	return m.backend.Bytes()
}

// ReadRows copies n full-width rows starting at y into dst, packed at
// Width*Components bytes per row. It returns the rows copied, which is fewer
// than n at the bottom edge.
func (m *Image) ReadRows(y, n int, dst []byte) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	l := m.layout
	if y < 0 || y > l.Height || n < 0 {
		return 0, fmt.Errorf("tiles: read rows %d+%d outside height %d", y, n, l.Height)
	}
	n = min(n, l.Height-y)
	if n == 0 {
		return 0, nil
	}
	rowBytes := l.Width * l.Components
	if len(dst) < n*rowBytes {
		return 0, fmt.Errorf("tiles: read buffer holds %d bytes, need %d", len(dst), n*rowBytes)
	}
	if err := m.copyOut(image.Rect(0, y, l.Width, y+n), dst, rowBytes); err != nil {
		return 0, err
	}
	return n, nil
}

// copyOut copies r into dst at the given stride. Missing tiles read as zero.
func (m *Image) copyOut(r image.Rectangle, dst []byte, stride int) error {
	l := m.layout
	ts := l.tileStride()
	for row := r.Min.Y / l.TileHeight; row <= (r.Max.Y-1)/l.TileHeight; row++ {
		for col := r.Min.X / l.TileWidth; col <= (r.Max.X-1)/l.TileWidth; col++ {
			tb := l.TileBounds(col, row)
			part := tb.Intersect(r)
			data, err := m.backend.Get(row*l.Columns() + col)
			if err != nil {
				return err
			}
			n := part.Dx() * l.Components
			for y := part.Min.Y; y < part.Max.Y; y++ {
				out := dst[(y-r.Min.Y)*stride+(part.Min.X-r.Min.X)*l.Components:][:n]
				if data == nil {
					clear(out)
					continue
				}
				copy(out, data[(y-tb.Min.Y)*ts+(part.Min.X-tb.Min.X)*l.Components:])
			}
		}
	}
	return nil
}

// Materialize copies r into a contiguous *image.Gray, *image.RGBA or
// *image.CMYK whose bounds equal r clipped to the image.
func (m *Image) Materialize(r image.Rectangle) (image.Image, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	l := m.layout
	r = r.Intersect(image.Rect(0, 0, l.Width, l.Height))
	if r.Empty() {
		return nil, fmt.Errorf("tiles: empty region")
	}

	switch l.Components {
	case 1:
		out := image.NewGray(r)
		return out, m.copyOut(r, out.Pix, out.Stride)
	case 4:
		out := image.NewCMYK(r)
		return out, m.copyOut(r, out.Pix, out.Stride)
	}

	packed := make([]byte, r.Dx()*r.Dy()*3)
	if err := m.copyOut(r, packed, r.Dx()*3); err != nil {
		return nil, err
	}
	out := image.NewRGBA(r)
	for i, j := 0, 0; i < len(packed); i, j = i+3, j+4 {
		out.Pix[j], out.Pix[j+1], out.Pix[j+2], out.Pix[j+3] = packed[i], packed[i+1], packed[i+2], 0xFF
	}
	return out, nil
}

// ColorModel implements image.Image.
func (m *Image) ColorModel() color.Model { return m.layout.ColorSpace.Model() }

// Bounds implements image.Image.
func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.layout.Width, m.layout.Height)
}

// At implements image.Image. Pixels outside the image, in tiles that were
// never committed, or in tiles the backend fails to return read as zero.
func (m *Image) At(x, y int) color.Color {
	l := m.layout
	var px [4]byte
	if image.Pt(x, y).In(m.Bounds()) {
		m.mu.RLock()
		if !m.closed {
			col, row := x/l.TileWidth, y/l.TileHeight
			if data, err := m.backend.Get(row*l.Columns() + col); err == nil && data != nil {
				off := (y-row*l.TileHeight)*l.tileStride() + (x-col*l.TileWidth)*l.Components
				copy(px[:l.Components], data[off:])
			}
		}
		m.mu.RUnlock()
	}

	switch l.Components {
	case 1:
		return color.Gray{Y: px[0]}
	case 3:
		return color.RGBA{R: px[0], G: px[1], B: px[2], A: 0xFF}
	default:
		return color.CMYK{C: px[0], M: px[1], Y: px[2], K: px[3]}
	}
}

// Close releases the backend. Calls after the first return nil.
func (m *Image) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.backend.Close()
}
