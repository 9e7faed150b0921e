// Package pipeline moves scanlines between codec sessions and tiled images.
//
// Assemble drives a decode session strip by strip into a tiles.Store,
// applying the CMYK policy, polling for cancellation, and reporting progress.
// Export drives the reverse direction into an encode session. Read, ReadFile,
// Write and WriteFile wrap both loops with session and image setup.
package pipeline

import (
	"fmt"
	"image"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/progress"
	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// ScanlineSource is the surface of a decode session used by Assemble.
type ScanlineSource interface {
	Geometry() codec.Geometry
	ReadScanlines(dst []byte, lineOffset, lines int) (int, error)
	Cancel()
	Close() error
}

// AssembleOptions configures Assemble.
type AssembleOptions struct {
	// TileHeight is the strip height. Zero selects tiles.DefaultTileSize.
	TileHeight int

	// Markers are the caller's Adobe marker facts for the CMYK policy.
	Markers codec.MarkerFacts

	// Strict turns a truncated stream into an ErrTruncated failure.
	Strict bool

	Monitor progress.Monitor
	Cancel  progress.Token
}

// Report summarizes an assembly run.
type Report struct {
	Geometry  codec.Geometry `json:"geometry"`
	Strips    int            `json:"strips"`
	LinesRead int            `json:"lines_read"`
	Truncated bool           `json:"truncated"`
	Inverted  bool           `json:"inverted"`
}

// Assemble reads every scanline of src into store, one strip of at most
// TileHeight rows at a time. Strip i lands at row LinesRead, which is
// i*TileHeight while every read is full.
//
// Assemble owns src and closes it on every path. On cancellation it returns
// the partial report with an error matching codec.ErrCanceled. A stream that
// ends early is logged and reported as Truncated, or fails with
// codec.ErrTruncated in strict mode.
func Assemble(src ScanlineSource, store tiles.Store, opts AssembleOptions) (rep *Report, err error) {
	g := src.Geometry()
	th := opts.TileHeight
	if th <= 0 {
		th = tiles.DefaultTileSize
	}
	mon := progress.SafeMonitor(opts.Monitor)
	tok := progress.SafeToken(opts.Cancel)

	policy := codec.NewCMYKPolicy(g.Components, opts.Markers)
	rep = &Report{Geometry: g, Inverted: policy.Active()}

	canceled := false
	defer func() {
		cerr := src.Close()
		switch {
		case cerr == nil || canceled:
		case err == nil:
			err = fmt.Errorf("failed to close decoder: %w", cerr)
		default:
			log.WithError(cerr).Debug("decoder close after failure")
		}
	}()

	rb := g.RowBytes()
	strip := make([]byte, min(th, g.Height)*rb)

	for rep.LinesRead < g.Height {
		if tok.IsCanceled() {
			canceled = true
			src.Cancel()
			return rep, codec.Errorf(codec.KindCanceled, "assemble", "stopped after %d of %d lines", rep.LinesRead, g.Height)
		}

		h := min(th, g.Height-rep.LinesRead)
		n, rerr := src.ReadScanlines(strip, 0, h)
		if rerr != nil {
			return rep, fmt.Errorf("failed to read strip %d: %w", rep.Strips, rerr)
		}
		if n <= 0 {
			rep.Truncated = true
			log.WithFields(log.Fields{
				"lines":  rep.LinesRead,
				"height": g.Height,
			}).Warn("jpeg stream ended early, image is truncated")
			if opts.Strict {
				return rep, codec.Errorf(codec.KindTruncated, "assemble", "%d of %d lines", rep.LinesRead, g.Height)
			}
			break
		}

		pix := strip[:n*rb]
		policy.Apply(pix)
		if cerr := store.Commit(image.Rect(0, rep.LinesRead, g.Width, rep.LinesRead+n), pix, rb); cerr != nil {
			return rep, codec.Wrap(codec.KindEngineFailure, "commit strip", cerr)
		}
		rep.LinesRead += n
		rep.Strips++
		mon.IncrementBy(n)
	}

	mon.SetIndeterminate(true)
	return rep, nil
}
