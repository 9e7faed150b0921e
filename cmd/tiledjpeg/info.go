package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/markers"
)

var infoCmd = &cobra.Command{
	Use:   "info [file]",
	Short: "Show JPEG geometry, colour space and header segments without decoding",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().Bool("json", false, "Print the result as JSON")
	rootCmd.AddCommand(infoCmd)
}

type fileInfo struct {
	File      string         `json:"file"`
	Size      int64          `json:"size"`
	Geometry  codec.Geometry `json:"geometry"`
	Markers   *markers.Info  `json:"markers"`
	Transform int            `json:"transform"`
	Inverts   bool           `json:"inverts_cmyk"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	path := args[0]
	asJSON, _ := cmd.Flags().GetBool("json")

	p, err := bridge.OpenFileProvider(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer p.Close()

	mk, err := markers.Scan(p.Seeker())
	if err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	if _, err := p.Seeker().Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding %s: %w", path, err)
	}

	sess, err := codec.OpenDecoder(p, codec.DecodeOptions{BufferSize: cfg.BufferSize})
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	// Header only; nothing is read, so Close has nothing to complain about.
	defer sess.Close()

	st, err := os.Stat(path)
	if err != nil {
		return err
	}

	g := sess.Geometry()
	info := fileInfo{
		File:      path,
		Size:      st.Size(),
		Geometry:  g,
		Markers:   mk,
		Transform: sess.MarkerTransform(),
		Inverts:   codec.NewCMYKPolicy(g.Components, codec.MarkerFacts{Adobe: mk.Adobe, AdobeEmbed: mk.AdobeEmbed}).Active(),
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}

	fmt.Fprintf(out, "File:        %s\n", info.File)
	fmt.Fprintf(out, "Dimensions:  %d x %d\n", g.Width, g.Height)
	fmt.Fprintf(out, "Components:  %d\n", g.Components)
	fmt.Fprintf(out, "Color space: %s\n", g.ColorSpace)
	fmt.Fprintf(out, "File size:   %d bytes (%.1f MB)\n", info.Size, float64(info.Size)/(1024*1024))
	fmt.Fprintf(out, "Adobe:       APP14=%v APP12=%v transform=%d\n", mk.Adobe, mk.AdobeEmbed, info.Transform)
	if g.Components == 4 {
		fmt.Fprintf(out, "CMYK invert: %v\n", info.Inverts)
	}
	fmt.Fprintf(out, "Segments:    %d\n", len(mk.Segments))
	for _, s := range mk.Segments {
		fmt.Fprintf(out, "  0xFF%02X  %6d bytes\n", s.Marker, s.Length)
	}
	return nil
}
