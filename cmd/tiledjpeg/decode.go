package main

import (
	"encoding/json"
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironsheep/tiled-jpeg/internal/pipeline"
	"github.com/ironsheep/tiled-jpeg/internal/progress"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode a JPEG into tiles and report what the decoder saw",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	decodeCmd.Flags().String("png", "", "Also write the decoded image as PNG to this path")
	decodeCmd.Flags().Int("max-width", 0, "Maximum decoded width (0 = full size)")
	decodeCmd.Flags().Int("max-height", 0, "Maximum decoded height (0 = full size)")
	decodeCmd.Flags().Bool("strict", false, "Fail on truncated streams instead of keeping the rows read")
	decodeCmd.Flags().Bool("json", false, "Print the report as JSON")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	path := args[0]
	pngPath, _ := cmd.Flags().GetString("png")
	maxW, _ := cmd.Flags().GetInt("max-width")
	maxH, _ := cmd.Flags().GetInt("max-height")
	strict, _ := cmd.Flags().GetBool("strict")
	asJSON, _ := cmd.Flags().GetBool("json")

	mon := progress.NewLogMonitor("decode "+path, 0)
	opts := readOptions()
	opts.MaxWidth, opts.MaxHeight = maxW, maxH
	opts.Strict = strict
	opts.Monitor = mon
	opts.Cancel = progress.FromContext(cmd.Context())

	res, err := pipeline.ReadFile(path, opts)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	defer res.Close()

	if pngPath != "" {
		// The whole image is materialized here; PNG has no strip writer.
		img, err := res.Image.Materialize(res.Image.Bounds())
		if err != nil {
			return fmt.Errorf("reading tiles: %w", err)
		}
		f, err := os.Create(pngPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", pngPath, err)
		}
		if err := png.Encode(f, img); err != nil {
			f.Close()
			os.Remove(pngPath)
			return fmt.Errorf("writing %s: %w", pngPath, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("writing %s: %w", pngPath, err)
		}
	}

	out := cmd.OutOrStdout()
	rep := res.Report
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			File        string           `json:"file"`
			Report      *pipeline.Report `json:"report"`
			TileStore   string           `json:"tile_store"`
			StoredBytes int64            `json:"stored_bytes"`
			PNG         string           `json:"png,omitempty"`
		}{path, rep, string(cfg.TileStore), res.Image.StoredBytes(), pngPath})
	}

	g := rep.Geometry
	l := res.Image.Layout()
	fmt.Fprintf(out, "Decoded %s: %dx%d, %d components (%s)\n", path, g.Width, g.Height, g.Components, g.ColorSpace)
	fmt.Fprintf(out, "Lines:   %d in %d strips\n", rep.LinesRead, rep.Strips)
	if rep.Truncated {
		fmt.Fprintf(out, "Warning: stream truncated after %d of %d lines\n", rep.LinesRead, g.Height)
	}
	if rep.Inverted {
		fmt.Fprintln(out, "CMYK:    samples inverted (Adobe APP14 without APP12)")
	}
	fmt.Fprintf(out, "Tiles:   %dx%d grid of %dx%d, %s store, %d bytes\n",
		l.Columns(), l.Rows(), l.TileWidth, l.TileHeight, cfg.TileStore, res.Image.StoredBytes())
	if pngPath != "" {
		fmt.Fprintf(out, "PNG:     %s\n", pngPath)
	}
	return nil
}
