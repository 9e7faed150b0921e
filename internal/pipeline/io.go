package pipeline

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/markers"
	"github.com/ironsheep/tiled-jpeg/internal/progress"
	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// ReadOptions configures Read and ReadFile.
type ReadOptions struct {
	BufferSize int
	MaxWidth   int
	MaxHeight  int

	TileWidth  int
	TileHeight int
	Store      tiles.BackendKind

	// ScanMarkers scans the header for Adobe segments before decoding. It
	// needs a source that can rewind; otherwise Markers is used as given.
	ScanMarkers bool
	Markers     codec.MarkerFacts

	Strict  bool
	Monitor progress.Monitor
	Cancel  progress.Token
}

// Result is a decoded tiled image together with how it was produced.
type Result struct {
	Image  *tiles.Image
	Report *Report

	// Info is the header scan, when one was made.
	Info *markers.Info
}

// Close releases the image.
func (r *Result) Close() error {
	if r == nil || r.Image == nil {
		return nil
	}
	return r.Image.Close()
}

// seekable is implemented by providers that expose random access to their
// underlying bytes, such as bridge.FileProvider.
type seekable interface {
	Seeker() io.ReadSeeker
}

// Read decodes the stream from src into a new tiled image.
//
// On failure the image is released and Result carries only the report, if
// assembly had started. A canceled read returns the partial report with an
// error matching codec.ErrCanceled.
func Read(src bridge.DataProvider, opts ReadOptions) (*Result, error) {
	res := &Result{}
	facts := opts.Markers
	if opts.ScanMarkers {
		if s, ok := src.(seekable); ok {
			info, err := scanAndRewind(s.Seeker())
			if err != nil {
				return nil, err
			}
			res.Info = info
			facts = codec.MarkerFacts{Adobe: info.Adobe, AdobeEmbed: info.AdobeEmbed}
		} else {
			log.Debug("source cannot rewind, using supplied marker facts")
		}
	}

	sess, err := codec.OpenDecoder(src, codec.DecodeOptions{
		BufferSize: opts.BufferSize,
		MaxWidth:   opts.MaxWidth,
		MaxHeight:  opts.MaxHeight,
	})
	if err != nil {
		return nil, err
	}

	img, err := tiles.NewWithKind(tiles.LayoutFor(sess.Geometry(), opts.TileWidth, opts.TileHeight), opts.Store)
	if err != nil {
		sess.Close()
		return nil, codec.Wrap(codec.KindInvalidParameter, "allocate image", err)
	}

	rep, err := Assemble(sess, img, AssembleOptions{
		TileHeight: img.Layout().TileHeight,
		Markers:    facts,
		Strict:     opts.Strict,
		Monitor:    opts.Monitor,
		Cancel:     opts.Cancel,
	})
	res.Report = rep
	if err != nil {
		img.Close()
		return res, err
	}
	res.Image = img
	return res, nil
}

// ReadFile decodes the JPEG file at path. ScanMarkers is honoured because
// files can rewind.
func ReadFile(path string, opts ReadOptions) (*Result, error) {
	p, err := bridge.OpenFileProvider(path)
	if err != nil {
		return nil, codec.Wrap(codec.KindSourceUnavailable, "open", err)
	}
	defer p.Close()
	return Read(p, opts)
}

func scanAndRewind(rs io.ReadSeeker) (*markers.Info, error) {
	start, err := rs.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, codec.Wrap(codec.KindSourceUnavailable, "scan markers", err)
	}
	info, scanErr := markers.Scan(rs)
	if _, err := rs.Seek(start, io.SeekStart); err != nil {
		return nil, codec.Wrap(codec.KindSourceUnavailable, "scan markers", err)
	}
	if scanErr != nil {
		return nil, codec.Wrap(codec.KindMalformedStream, "scan markers", scanErr)
	}
	return info, nil
}

// WriteOptions configures Write and WriteFile.
type WriteOptions struct {
	BufferSize int

	// Quality is 0-100 and is passed to the encoder unchanged.
	Quality int

	// ColorSpace selects the staging space for 3-component output: RGB or
	// YCbCr. Zero selects RGB.
	ColorSpace codec.ColorSpace

	Segments    []Segment
	TileHeight  int
	ConvertCMYK bool

	Monitor progress.Monitor
	Cancel  progress.Token
}

// Write encodes img into dst.
func Write(img *tiles.Image, dst bridge.DataReceiver, opts WriteOptions) error {
	eo := ExportOptions{
		TileHeight:  opts.TileHeight,
		Segments:    opts.Segments,
		ConvertCMYK: opts.ConvertCMYK,
		Monitor:     opts.Monitor,
		Cancel:      opts.Cancel,
	}
	comps := eo.OutputComponents(img.Components())
	cs := codec.WorkingSpace(comps)
	if comps == 3 && opts.ColorSpace == codec.YCbCr {
		cs = codec.YCbCr
		eo.ToYCbCr = true
	}

	enc, err := codec.OpenEncoder(dst, codec.EncodeOptions{
		BufferSize: opts.BufferSize,
		Width:      img.Width(),
		Height:     img.Height(),
		Components: comps,
		ColorSpace: cs,
		Quality:    opts.Quality,
	})
	if err != nil {
		return err
	}
	return Export(img, enc, eo)
}

// WriteFile encodes img into a new file at path. The file is removed if the
// encode fails.
func WriteFile(img *tiles.Image, path string, opts WriteOptions) (err error) {
	r, err := bridge.CreateFileReceiver(path)
	if err != nil {
		return codec.Wrap(codec.KindSourceUnavailable, "create", err)
	}
	defer func() {
		if cerr := r.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
		if err != nil {
			if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				log.WithError(rerr).Warn("failed to remove partial output")
			}
		}
	}()
	return Write(img, r, opts)
}
