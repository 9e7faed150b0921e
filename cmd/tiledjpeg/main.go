package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/ironsheep/tiled-jpeg/internal/config"
	"github.com/ironsheep/tiled-jpeg/internal/pipeline"
	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// Version information - set by ldflags during build
var Version = "dev"

// cfg is loaded from the environment before any command runs. Flags the
// user set explicitly take precedence.
var cfg = config.Default()

var rootCmd = &cobra.Command{
	Use:               "tiledjpeg",
	Short:             "Decode and encode JPEG files strip by strip through a tiled image",
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	defaults := config.Default()
	rootCmd.PersistentFlags().Int("buffer-size", defaults.BufferSize, "I/O buffer size in bytes (env "+config.EnvBufferSize+")")
	rootCmd.PersistentFlags().Int("tile-size", defaults.TileSize, "Tile width and height in pixels (env "+config.EnvTileSize+")")
	rootCmd.PersistentFlags().String("tile-store", string(defaults.TileStore), "Tile store: memory or zstd (env "+config.EnvTileStore+")")
	rootCmd.PersistentFlags().String("log-level", defaults.LogLevel.String(), "Log level (env "+config.EnvLogLevel+")")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("buffer-size") {
		c.BufferSize, _ = flags.GetInt("buffer-size")
	}
	if flags.Changed("tile-size") {
		c.TileSize, _ = flags.GetInt("tile-size")
	}
	if flags.Changed("tile-store") {
		s, _ := flags.GetString("tile-store")
		if c.TileStore, err = tiles.ParseBackendKind(s); err != nil {
			return err
		}
	}
	if flags.Changed("log-level") {
		s, _ := flags.GetString("log-level")
		if err := c.SetLogLevel(s); err != nil {
			return err
		}
	}

	cfg = c
	cfg.ConfigureLogging()
	return nil
}

// readOptions returns decode options for the loaded configuration.
func readOptions() pipeline.ReadOptions {
	return pipeline.ReadOptions{
		BufferSize:  cfg.BufferSize,
		TileWidth:   cfg.TileSize,
		TileHeight:  cfg.TileSize,
		Store:       cfg.TileStore,
		ScanMarkers: true,
	}
}

func main() {
	// Interrupts cancel the running decode or encode at its next strip.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
