package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/config"
	"github.com/ironsheep/tiled-jpeg/internal/pipeline"
)

var transcodeCmd = &cobra.Command{
	Use:   "transcode",
	Short: "Re-encode a JPEG strip by strip, optionally downscaled",
	RunE:  runTranscode,
}

func init() {
	transcodeCmd.Flags().StringP("input", "i", "", "Input JPEG file")
	transcodeCmd.Flags().StringP("output", "o", "", "Output JPEG file")
	transcodeCmd.Flags().IntP("quality", "q", config.DefaultQuality, "JPEG quality (0-100, env "+config.EnvQuality+")")
	transcodeCmd.Flags().Int("max-width", 0, "Maximum output width (0 = full size)")
	transcodeCmd.Flags().Int("max-height", 0, "Maximum output height (0 = full size)")
	transcodeCmd.Flags().String("colorspace", "RGB", "Staging colour space for 3-component output: RGB or YCbCr")
	transcodeCmd.Flags().String("comment", "", "Text to write as a COM segment")
	transcodeCmd.Flags().Bool("strict", false, "Fail on truncated input")
	transcodeCmd.Flags().Duration("timeout", 0, "Cancel the transcode after this long (0 = no limit)")
	transcodeCmd.MarkFlagRequired("input")
	transcodeCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(transcodeCmd)
}

func runTranscode(cmd *cobra.Command, args []string) error {
	inputPath, _ := cmd.Flags().GetString("input")
	outputPath, _ := cmd.Flags().GetString("output")
	maxW, _ := cmd.Flags().GetInt("max-width")
	maxH, _ := cmd.Flags().GetInt("max-height")
	csName, _ := cmd.Flags().GetString("colorspace")
	comment, _ := cmd.Flags().GetString("comment")
	strict, _ := cmd.Flags().GetBool("strict")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	quality := cfg.Quality
	if cmd.Flags().Changed("quality") {
		quality, _ = cmd.Flags().GetInt("quality")
	}

	cs, err := codec.ParseColorSpace(csName)
	if err != nil {
		return err
	}
	if cs != codec.RGB && cs != codec.YCbCr {
		return fmt.Errorf("colorspace must be RGB or YCbCr, got %s", cs)
	}
	if inputPath == outputPath {
		return fmt.Errorf("output must differ from input")
	}

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ro := readOptions()
	ro.MaxWidth, ro.MaxHeight = maxW, maxH
	ro.Strict = strict

	start := time.Now()
	res, err := pipeline.Transcode(ctx, inputPath, outputPath, pipeline.TranscodeOptions{
		Read: ro,
		Write: pipeline.WriteOptions{
			BufferSize:  cfg.BufferSize,
			Quality:     quality,
			ColorSpace:  cs,
			ConvertCMYK: true,
		},
		Comment: comment,
	})
	if err != nil {
		return fmt.Errorf("transcoding: %w", err)
	}

	out := cmd.OutOrStdout()
	g := res.Report.Geometry
	fmt.Fprintf(out, "Transcoded %dx%d %s → %dx%d, %d components, quality %d\n",
		g.Width, g.Height, g.ColorSpace, res.Width, res.Height, res.Components, quality)
	if res.Report.Truncated {
		fmt.Fprintf(out, "Warning: input truncated after %d lines\n", res.Report.LinesRead)
	}
	fmt.Fprintf(out, "Input:  %s\n", inputPath)
	fmt.Fprintf(out, "Output: %s (%d bytes) in %s\n", outputPath, res.OutputBytes, time.Since(start).Round(time.Millisecond))
	return nil
}
