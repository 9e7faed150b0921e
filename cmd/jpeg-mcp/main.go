package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/config"
	"github.com/ironsheep/tiled-jpeg/internal/server"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Handle --version and -v flags
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "--version", "-v", "version":
			fmt.Printf("tiled-jpeg-mcp %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
			return
		case "--help", "-h", "help":
			fmt.Println("tiled-jpeg-mcp - MCP server for tiled JPEG decoding and encoding")
			fmt.Println()
			fmt.Println("Usage: tiled-jpeg-mcp [options]")
			fmt.Println()
			fmt.Println("Options:")
			fmt.Println("  --version, -v    Print version information")
			fmt.Println("  --help, -h       Print this help message")
			fmt.Println()
			fmt.Println("Environment variables:")
			fmt.Printf("  %s=debug      Log level (default info)\n", config.EnvLogLevel)
			fmt.Printf("  %s=32768    I/O buffer size in bytes\n", config.EnvBufferSize)
			fmt.Printf("  %s=512        Tile width and height in pixels\n", config.EnvTileSize)
			fmt.Printf("  %s=memory    Tile store: memory or zstd\n", config.EnvTileStore)
			fmt.Printf("  %s=90           Default JPEG quality\n", config.EnvQuality)
			fmt.Println()
			fmt.Println("This server communicates via MCP protocol over stdin/stdout.")
			fmt.Println("Configure it in your MCP client.")
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	// Logging goes to stderr; stdout is for MCP protocol
	cfg.ConfigureLogging()

	log.WithFields(log.Fields{
		"version":    Version,
		"built":      BuildTime,
		"commit":     GitCommit,
		"tile_size":  cfg.TileSize,
		"tile_store": cfg.TileStore,
	}).Debug("tiled JPEG MCP server starting")

	srv := server.New(cfg)
	defer srv.Close()
	if err := srv.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
