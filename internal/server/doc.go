// Package server implements the MCP (Model Context Protocol) server for the
// tiled JPEG tools.
//
// This package provides a JSON-RPC 2.0 server that exposes the strip decoder,
// the tiled image store and the strip encoder through the MCP protocol, so a
// client can inspect and re-encode JPEG files larger than it would want to
// hold as one raster.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Basic Image Information:
//   - jpeg_load: Decode into the tile cache and report geometry, markers and truncation
//   - jpeg_dimensions: Get width and height
//   - jpeg_evict: Drop a cached image
//
// Region Operations:
//   - jpeg_crop: Extract a rectangular region as JPEG
//   - jpeg_crop_quadrant: Extract a named region (top-left, center, etc.)
//
// Color Operations:
//   - jpeg_sample_color: Get color at pixel
//   - jpeg_sample_colors_multi: Sample multiple points
//   - jpeg_dominant_colors: Extract color palette
//
// Codec Operations:
//   - jpeg_transcode: Decode and re-encode to a new file, optionally downscaled
//
// # Image Caching
//
// Decoded images are held as tiles in an imaging.ImageCache keyed by path.
// Tile size and the tile store (plain memory or zstd-compressed) come from
// config.Config. jpeg_transcode bypasses the cache.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: Additional error details (typically the Go error string)
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	srv := server.New(cfg)
//	defer srv.Close()
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
