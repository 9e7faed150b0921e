package tiles

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// BackendKind names a tile storage backend.
type BackendKind string

// Supported backends.
const (
	Memory BackendKind = "memory"
	Zstd   BackendKind = "zstd"
)

// ParseBackendKind parses a backend name, case-insensitively. The empty string
// selects Memory.
func ParseBackendKind(s string) (BackendKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Memory):
		return Memory, nil
	case string(Zstd):
		return Zstd, nil
	default:
		return "", fmt.Errorf("unknown tile store %q (want memory or zstd)", s)
	}
}

// Backend holds the sample bytes of individual tiles.
//
// Get returns nil for a tile that was never stored. The returned slice must
// not be modified. Put takes ownership of data.
type Backend interface {
	Get(index int) ([]byte, error)
	Put(index int, data []byte) error
	// Bytes reports the number of bytes currently held.
	Bytes() int64
	Close() error
}

// NewBackend returns an empty backend of the given kind.
func NewBackend(kind BackendKind) (Backend, error) {
	switch kind {
	case Memory, "":
		return newMemoryBackend(), nil
	case Zstd:
		return newZstdBackend()
	default:
		return nil, fmt.Errorf("unknown tile store %q", kind)
	}
}

type memoryBackend struct {
	mu    sync.RWMutex
	tiles map[int][]byte
	size  int64
}

func newMemoryBackend() *memoryBackend {
	return &memoryBackend{tiles: make(map[int][]byte)}
}

func (b *memoryBackend) Get(index int) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tiles[index], nil
}

func (b *memoryBackend) Put(index int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.size += int64(len(data) - len(b.tiles[index]))
	b.tiles[index] = data
	return nil
}

func (b *memoryBackend) Bytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

func (b *memoryBackend) Close() error {
	b.mu.Lock()
	b.tiles = make(map[int][]byte)
	b.size = 0
	b.mu.Unlock()
	return nil
}

// zstdBackend keeps every tile zstd-compressed and remembers the most
// recently decompressed one.
type zstdBackend struct {
	mu    sync.Mutex
	enc   *zstd.Encoder
	dec   *zstd.Decoder
	tiles map[int][]byte
	size  int64

	hot     int
	hotData []byte
}

func newZstdBackend() (*zstdBackend, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderLevel(zstd.SpeedFastest),
		zstd.WithLowerEncoderMem(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderLowmem(true),
	)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdBackend{enc: enc, dec: dec, tiles: make(map[int][]byte), hot: -1}, nil
}

func (b *zstdBackend) Get(index int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if index == b.hot {
		return b.hotData, nil
	}
	packed, ok := b.tiles[index]
	if !ok {
		return nil, nil
	}
	data, err := b.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress tile %d: %w", index, err)
	}
	// A fresh slice per miss keeps earlier results valid for their holders.
	b.hot, b.hotData = index, data
	return data, nil
}

func (b *zstdBackend) Put(index int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	packed := b.enc.EncodeAll(data, make([]byte, 0, len(data)/4))
	b.size += int64(len(packed) - len(b.tiles[index]))
	b.tiles[index] = packed
	if index == b.hot {
		b.hot, b.hotData = index, data
	}
	return nil
}

func (b *zstdBackend) Bytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *zstdBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.enc == nil {
		return nil
	}
	err := b.enc.Close()
	b.dec.Close()
	b.enc, b.dec = nil, nil
	b.tiles, b.hot, b.hotData, b.size = nil, -1, nil, 0
	return err
}
