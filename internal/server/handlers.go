package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ironsheep/tiled-jpeg/internal/imaging"
	"github.com/ironsheep/tiled-jpeg/internal/pipeline"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "jpeg_load", "jpeg_crop").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Loads tiled images from cache as needed
//  4. Calls the appropriate imaging or pipeline function
//  5. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Basic Image Information
	case "jpeg_load":
		return s.handleJPEGLoad(args)
	case "jpeg_dimensions":
		return s.handleJPEGDimensions(args)
	case "jpeg_evict":
		return s.handleJPEGEvict(args)

	// Region Operations
	case "jpeg_crop":
		return s.handleJPEGCrop(args)
	case "jpeg_crop_quadrant":
		return s.handleJPEGCropQuadrant(args)

	// Color Operations
	case "jpeg_sample_color":
		return s.handleJPEGSampleColor(args)
	case "jpeg_sample_colors_multi":
		return s.handleJPEGSampleColorsMulti(args)
	case "jpeg_dominant_colors":
		return s.handleJPEGDominantColors(args)

	// Codec Operations
	case "jpeg_transcode":
		return s.handleJPEGTranscode(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// quality resolves an optional quality argument against the configured default.
func (s *Server) quality(q *int) int {
	if q == nil {
		return s.cfg.Quality
	}
	return *q
}

// === Basic Image Information Handlers ===

type jpegPathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleJPEGLoad(args json.RawMessage) (interface{}, error) {
	var a jpegPathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return imaging.LoadImageInfo(s.cache, a.Path)
}

func (s *Server) handleJPEGDimensions(args json.RawMessage) (interface{}, error) {
	var a jpegPathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return imaging.GetDimensions(s.cache, a.Path)
}

func (s *Server) handleJPEGEvict(args json.RawMessage) (interface{}, error) {
	var a jpegPathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	s.cache.Evict(a.Path)
	return map[string]interface{}{"evicted": a.Path, "cached": s.cache.Len()}, nil
}

// === Region Operation Handlers ===

type jpegCropArgs struct {
	Path    string  `json:"path"`
	X1      int     `json:"x1"`
	Y1      int     `json:"y1"`
	X2      int     `json:"x2"`
	Y2      int     `json:"y2"`
	Scale   float64 `json:"scale"`
	Quality *int    `json:"quality"`
}

func (s *Server) handleJPEGCrop(args json.RawMessage) (interface{}, error) {
	var a jpegCropArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, release, err := s.cache.Acquire(a.Path)
	if err != nil {
		return nil, err
	}
	defer release()
	return imaging.Crop(img, a.X1, a.Y1, a.X2, a.Y2, a.Scale, s.quality(a.Quality))
}

type jpegCropQuadrantArgs struct {
	Path    string  `json:"path"`
	Region  string  `json:"region"`
	Scale   float64 `json:"scale"`
	Quality *int    `json:"quality"`
}

func (s *Server) handleJPEGCropQuadrant(args json.RawMessage) (interface{}, error) {
	var a jpegCropQuadrantArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, release, err := s.cache.Acquire(a.Path)
	if err != nil {
		return nil, err
	}
	defer release()
	return imaging.CropQuadrant(img, a.Region, a.Scale, s.quality(a.Quality))
}

// === Color Operation Handlers ===

type jpegSampleColorArgs struct {
	Path string `json:"path"`
	X    int    `json:"x"`
	Y    int    `json:"y"`
}

func (s *Server) handleJPEGSampleColor(args json.RawMessage) (interface{}, error) {
	var a jpegSampleColorArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, release, err := s.cache.Acquire(a.Path)
	if err != nil {
		return nil, err
	}
	defer release()
	return imaging.SampleColor(img, a.X, a.Y)
}

type jpegSampleColorsMultiArgs struct {
	Path   string `json:"path"`
	Points []struct {
		X     int    `json:"x"`
		Y     int    `json:"y"`
		Label string `json:"label,omitempty"`
	} `json:"points"`
}

func (s *Server) handleJPEGSampleColorsMulti(args json.RawMessage) (interface{}, error) {
	var a jpegSampleColorsMultiArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, release, err := s.cache.Acquire(a.Path)
	if err != nil {
		return nil, err
	}
	defer release()

	points := make([]imaging.LabeledPoint, len(a.Points))
	for i, p := range a.Points {
		points[i] = imaging.LabeledPoint{X: p.X, Y: p.Y, Label: p.Label}
	}
	return imaging.SampleColorsMulti(img, points)
}

type jpegDominantColorsArgs struct {
	Path   string `json:"path"`
	Count  int    `json:"count"`
	Region *struct {
		X1 int `json:"x1"`
		Y1 int `json:"y1"`
		X2 int `json:"x2"`
		Y2 int `json:"y2"`
	} `json:"region,omitempty"`
}

func (s *Server) handleJPEGDominantColors(args json.RawMessage) (interface{}, error) {
	var a jpegDominantColorsArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Count == 0 {
		a.Count = 5
	}
	img, release, err := s.cache.Acquire(a.Path)
	if err != nil {
		return nil, err
	}
	defer release()

	var region *imaging.Region
	if a.Region != nil {
		region = &imaging.Region{X1: a.Region.X1, Y1: a.Region.Y1, X2: a.Region.X2, Y2: a.Region.Y2}
	}
	return imaging.DominantColors(img, a.Count, region)
}

// === Codec Operation Handlers ===

type jpegTranscodeArgs struct {
	Input     string `json:"input"`
	Output    string `json:"output"`
	Quality   *int   `json:"quality"`
	MaxWidth  int    `json:"max_width"`
	MaxHeight int    `json:"max_height"`
	Comment   string `json:"comment"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (s *Server) handleJPEGTranscode(args json.RawMessage) (interface{}, error) {
	var a jpegTranscodeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Input == "" || a.Output == "" {
		return nil, fmt.Errorf("input and output are required")
	}
	if a.Input == a.Output {
		return nil, fmt.Errorf("output must differ from input")
	}

	ctx := context.Background()
	if a.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	ro := s.readOptions()
	ro.MaxWidth, ro.MaxHeight = a.MaxWidth, a.MaxHeight
	return pipeline.Transcode(ctx, a.Input, a.Output, pipeline.TranscodeOptions{
		Read: ro,
		Write: pipeline.WriteOptions{
			BufferSize:  s.cfg.BufferSize,
			Quality:     s.quality(a.Quality),
			ConvertCMYK: true,
		},
		Comment: a.Comment,
	})
}
