// Package config reads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/bridge"
	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// Environment variables read by Load.
const (
	EnvLogLevel   = "TILEDJPEG_LOG_LEVEL"
	EnvBufferSize = "TILEDJPEG_BUFFER_SIZE"
	EnvTileSize   = "TILEDJPEG_TILE_SIZE"
	EnvTileStore  = "TILEDJPEG_TILE_STORE"
	EnvQuality    = "TILEDJPEG_QUALITY"
)

// DefaultQuality is the encode quality when none is configured.
const DefaultQuality = 90

// Config holds process-wide settings.
type Config struct {
	LogLevel   log.Level
	BufferSize int
	TileSize   int
	TileStore  tiles.BackendKind
	Quality    int
}

// Default returns the settings used when no variable is set.
func Default() Config {
	return Config{
		LogLevel:   log.InfoLevel,
		BufferSize: bridge.DefaultBufferSize,
		TileSize:   tiles.DefaultTileSize,
		TileStore:  tiles.Memory,
		Quality:    DefaultQuality,
	}
}

// Load reads the environment over the defaults. Unset variables keep their
// default; malformed ones are an error.
func Load() (Config, error) {
	return load(os.Getenv)
}

func load(getenv func(string) string) (Config, error) {
	c := Default()

	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		if err := c.SetLogLevel(v); err != nil {
			return c, fmt.Errorf("%s: %w", EnvLogLevel, err)
		}
	}

	var err error
	if c.BufferSize, err = positiveInt(getenv, EnvBufferSize, c.BufferSize); err != nil {
		return c, err
	}
	if c.TileSize, err = positiveInt(getenv, EnvTileSize, c.TileSize); err != nil {
		return c, err
	}

	if v := getenv(EnvTileStore); v != "" {
		kind, err := tiles.ParseBackendKind(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", EnvTileStore, err)
		}
		c.TileStore = kind
	}

	if v := strings.TrimSpace(getenv(EnvQuality)); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil || q < 0 || q > 100 {
			return c, fmt.Errorf("%s: %q is not a quality between 0 and 100", EnvQuality, v)
		}
		c.Quality = q
	}
	return c, nil
}

// SetLogLevel parses a logrus level name such as "debug" or "warn".
func (c *Config) SetLogLevel(name string) error {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return err
	}
	c.LogLevel = lvl
	return nil
}

func positiveInt(getenv func(string) string, name string, def int) (int, error) {
	v := strings.TrimSpace(getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def, fmt.Errorf("%s: %q is not a positive integer", name, v)
	}
	return n, nil
}

// ConfigureLogging sends logrus output to stderr at the configured level.
// Stdout is reserved for protocol traffic.
func (c Config) ConfigureLogging() {
	log.SetOutput(os.Stderr)
	log.SetLevel(c.LogLevel)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
