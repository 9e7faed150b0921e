// Package imaging provides the image operations behind the MCP tools.
//
// It holds the path-keyed ImageCache of decoded tiled images, reports what a
// decode found (LoadImageInfo, GetDimensions), samples colours, extracts
// dominant colours, and crops regions back out as JPEG. Every operation
// accepts a plain image.Image; *tiles.Image gets a fast path in Crop, which
// materializes only the tiles under the region.
//
// # Coordinate System
//
// All pixel coordinates in this package are 0-based:
//   - X: horizontal position (0 = leftmost pixel)
//   - Y: vertical position (0 = topmost pixel)
//   - For regions, (x1,y1) is inclusive (top-left), (x2,y2) is exclusive (bottom-right)
//
// # Thread Safety
//
// The ImageCache type is safe for concurrent use, and so are the tiled
// images it holds. The remaining functions are stateless.
//
// # Color Representation
//
// Colors are returned in multiple formats for flexibility:
//   - Hex: 6-character format "#RRGGBB"
//   - RGB: 8-bit components (0-255)
//   - RGBA: 8-bit components with alpha (0-255)
//   - HSL: Hue (0-360), Saturation (0-100), Lightness (0-100)
//   - CMYK: the stored ink samples, for 4-component images only
//
// # Memory
//
// Cached images stay resident until Evict or Clear. A cache built with the
// zstd tile store keeps tiles compressed and decompresses them on access.
package imaging
