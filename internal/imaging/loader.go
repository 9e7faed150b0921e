package imaging

import (
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/ironsheep/tiled-jpeg/internal/codec"
	"github.com/ironsheep/tiled-jpeg/internal/markers"
	"github.com/ironsheep/tiled-jpeg/internal/pipeline"
	"github.com/ironsheep/tiled-jpeg/internal/tiles"
)

// ImageCache holds decoded JPEG files keyed by the exact path string.
//
// Cached images stay in memory until Evict or Clear removes them. Callers
// that read an image while other goroutines may evict it should use Acquire;
// the tile storage of a removed image is released only after its last
// holder calls release. Choosing the zstd tile store in the read options
// keeps large images compressed while cached.
//
//	cache := imaging.NewImageCache(pipeline.ReadOptions{Store: tiles.Zstd})
//	img, release, err := cache.Acquire("/path/to/photo.jpg")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer release()
type ImageCache struct {
	mu      sync.Mutex
	opts    pipeline.ReadOptions
	entries map[string]*Entry
}

// Entry is one decoded file held by the cache.
type Entry struct {
	Image  *tiles.Image
	Report *pipeline.Report
	Info   *markers.Info

	// guarded by ImageCache.mu
	refs    int
	removed bool
}

// NewImageCache creates and initializes a new empty image cache. Every file
// is decoded with opts; marker scanning is always enabled.
func NewImageCache(opts pipeline.ReadOptions) *ImageCache {
	opts.ScanMarkers = true
	return &ImageCache{
		opts:    opts,
		entries: make(map[string]*Entry),
	}
}

// Load retrieves an image from the cache or decodes it from disk if not
// cached. The image is not pinned: a concurrent Evict may close it.
func (c *ImageCache) Load(path string) (*tiles.Image, error) {
	e, err := c.lookup(path, false)
	if err != nil {
		return nil, err
	}
	return e.Image, nil
}

// Acquire is like Load but pins the image until release is called. Evict
// and Clear drop a pinned entry from the cache at once and close its image
// when the last holder releases it. release is safe to call more than once.
func (c *ImageCache) Acquire(path string) (*tiles.Image, func(), error) {
	e, release, err := c.AcquireEntry(path)
	if err != nil {
		return nil, nil, err
	}
	return e.Image, release, nil
}

// AcquireEntry is like Acquire but also returns the decode report and
// header scan.
func (c *ImageCache) AcquireEntry(path string) (*Entry, func(), error) {
	e, err := c.lookup(path, true)
	if err != nil {
		return nil, nil, err
	}
	var once sync.Once
	return e, func() { once.Do(func() { c.unpin(e) }) }, nil
}

func (c *ImageCache) lookup(path string, pin bool) (*Entry, error) {
	c.mu.Lock()
	if e, ok := c.entries[path]; ok {
		if pin {
			e.refs++
		}
		c.mu.Unlock()
		return e, nil
	}
	c.mu.Unlock()

	res, err := pipeline.ReadFile(path, c.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	e := &Entry{Image: res.Image, Report: res.Report, Info: res.Info}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[path]; ok {
		// Another goroutine decoded the same path first.
		e.Image.Close()
		e = prev
	} else {
		c.entries[path] = e
		log.WithFields(log.Fields{
			"path":   path,
			"width":  e.Report.Geometry.Width,
			"height": e.Report.Geometry.Height,
		}).Debug("image cached")
	}
	if pin {
		e.refs++
	}
	return e, nil
}

func (c *ImageCache) unpin(e *Entry) {
	c.mu.Lock()
	e.refs--
	done := e.removed && e.refs == 0
	c.mu.Unlock()

	if done {
		e.Image.Close()
	}
}

// remove marks e as gone and reports whether it can be closed now.
// The caller holds c.mu.
func (c *ImageCache) remove(e *Entry) bool {
	e.removed = true
	return e.refs == 0
}

// Clear removes all images from the cache. Images nobody holds are closed
// immediately; the rest close on their last release.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	var idle []*Entry
	for _, e := range c.entries {
		if c.remove(e) {
			idle = append(idle, e)
		}
	}
	c.entries = make(map[string]*Entry)
	c.mu.Unlock()

	for _, e := range idle {
		e.Image.Close()
	}
}

// Evict removes a specific image from the cache by its path. Unknown paths
// are ignored. After eviction the next lookup for this path decodes from disk.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	e, ok := c.entries[path]
	idle, holders := false, 0
	if ok {
		delete(c.entries, path)
		idle, holders = c.remove(e), e.refs
	}
	c.mu.Unlock()

	if idle {
		e.Image.Close()
		log.WithField("path", path).Debug("image evicted")
	} else if ok {
		log.WithFields(log.Fields{"path": path, "holders": holders}).Debug("image evicted, close deferred")
	}
}

// Len returns the number of cached images.
func (c *ImageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ImageInfo contains metadata about a decoded JPEG file.
type ImageInfo struct {
	// Width and Height are the delivered size in pixels, after any
	// downscaling configured on the cache.
	Width  int `json:"width"`
	Height int `json:"height"`

	// Components is the number of samples per pixel in the stream.
	Components int `json:"components"`

	// ColorSpace is the stream colour space: Grayscale, YCbCr, RGB, CMYK or YCCK.
	ColorSpace codec.ColorSpace `json:"color_space"`

	// WorkingSpace is the space the decoded samples are stored in.
	WorkingSpace codec.ColorSpace `json:"working_space"`

	// Adobe and AdobeEmbed report the APP14 and APP12 Adobe segments.
	Adobe      bool `json:"adobe"`
	AdobeEmbed bool `json:"adobe_embed"`

	// Inverted is true when CMYK samples were inverted on decode.
	Inverted bool `json:"inverted"`

	// Truncated is true when the stream ended before its declared height.
	Truncated bool `json:"truncated"`
	LinesRead int  `json:"lines_read"`

	// Segments is the number of header segments before the first scan.
	Segments int `json:"segments"`

	TileWidth   int               `json:"tile_width"`
	TileHeight  int               `json:"tile_height"`
	TileStore   tiles.BackendKind `json:"tile_store"`
	StoredBytes int64             `json:"stored_bytes"`

	// FileSizeBytes is the size of the JPEG file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo decodes a JPEG file into the cache (if not already cached)
// and reports what the decode found.
//
// Parameters:
//   - cache: The image cache to use for loading. Must not be nil.
//   - path: Path to the JPEG file.
//
// Returns:
//   - *ImageInfo: Geometry, colour and marker facts, and tile storage details.
//   - error: Non-nil if the file cannot be decoded or cannot be stat'd.
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	e, release, err := cache.AcquireEntry(path)
	if err != nil {
		return nil, err
	}
	defer release()

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	g := e.Report.Geometry
	l := e.Image.Layout()
	info := &ImageInfo{
		Width:         g.Width,
		Height:        g.Height,
		Components:    g.Components,
		ColorSpace:    g.ColorSpace,
		WorkingSpace:  l.ColorSpace,
		Inverted:      e.Report.Inverted,
		Truncated:     e.Report.Truncated,
		LinesRead:     e.Report.LinesRead,
		TileWidth:     l.TileWidth,
		TileHeight:    l.TileHeight,
		TileStore:     cache.opts.Store,
		StoredBytes:   e.Image.StoredBytes(),
		FileSizeBytes: stat.Size(),
	}
	if info.TileStore == "" {
		info.TileStore = tiles.Memory
	}
	if e.Info != nil {
		info.Adobe = e.Info.Adobe
		info.AdobeEmbed = e.Info.AdobeEmbed
		info.Segments = len(e.Info.Segments)
	}
	return info, nil
}

// DimensionsResult contains the width and height of an image.
//
// This is a lightweight result type for when only dimensions are needed,
// without the additional metadata provided by ImageInfo.
type DimensionsResult struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`
}

// GetDimensions returns the dimensions of an image without additional metadata.
//
// The image is decoded into the cache if not already present.
func GetDimensions(cache *ImageCache, path string) (*DimensionsResult, error) {
	img, release, err := cache.Acquire(path)
	if err != nil {
		return nil, err
	}
	defer release()

	return &DimensionsResult{
		Width:  img.Width(),
		Height: img.Height(),
	}, nil
}
