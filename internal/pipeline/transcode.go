package pipeline

import (
	"context"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/markers"
	"github.com/ironsheep/tiled-jpeg/internal/progress"
)

// TranscodeOptions configures Transcode. Cancel and Monitor set on the inner
// options are replaced by ctx and a LogMonitor when nil.
type TranscodeOptions struct {
	Read  ReadOptions
	Write WriteOptions

	// Comment, when set, is written as a COM segment.
	Comment string
}

// TranscodeResult describes a finished transcode.
type TranscodeResult struct {
	Input       string  `json:"input"`
	Output      string  `json:"output"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Components  int     `json:"components"`
	Report      *Report `json:"report"`
	OutputBytes int64   `json:"output_bytes"`
}

// Transcode decodes in through a tiled image and encodes it to out.
// Cancellation of ctx stops either loop at the next strip boundary, and no
// output file is left behind.
func Transcode(ctx context.Context, in, out string, opts TranscodeOptions) (*TranscodeResult, error) {
	tok := progress.FromContext(ctx)

	ro := opts.Read
	if ro.Cancel == nil {
		ro.Cancel = tok
	}
	if ro.Monitor == nil {
		ro.Monitor = progress.NewLogMonitor("decode "+in, 0)
	}

	res, err := ReadFile(in, ro)
	if err != nil {
		return nil, err
	}
	defer res.Close()

	img := res.Image

	wo := opts.Write
	if wo.Cancel == nil {
		wo.Cancel = tok
	}
	if wo.Monitor == nil {
		wo.Monitor = progress.NewLogMonitor("encode "+out, img.Height())
	}
	if wo.TileHeight == 0 {
		wo.TileHeight = img.Layout().TileHeight
	}
	if opts.Comment != "" {
		wo.Segments = append(append([]Segment(nil), wo.Segments...), Segment{Marker: markers.COM, Payload: []byte(opts.Comment)})
	}

	if err := WriteFile(img, out, wo); err != nil {
		return nil, err
	}

	tr := &TranscodeResult{
		Input:      in,
		Output:     out,
		Width:      img.Width(),
		Height:     img.Height(),
		Components: wo.outputComponents(img.Components()),
		Report:     res.Report,
	}
	if st, err := os.Stat(out); err == nil {
		tr.OutputBytes = st.Size()
	}
	log.WithFields(log.Fields{
		"input":  in,
		"output": out,
		"bytes":  tr.OutputBytes,
	}).Info("transcode complete")
	return tr, nil
}

func (o WriteOptions) outputComponents(comps int) int {
	return ExportOptions{ConvertCMYK: o.ConvertCMYK}.OutputComponents(comps)
}
