// Package wsi provides a tiled multi-resolution image with a bounded tile
// cache.
package wsi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
	"golang.org/x/sync/singleflight"

	"github.com/AustinTapp/FAST"
)

const (
	// DefaultMaxMemory is the default tile cache budget in bytes.
	DefaultMaxMemory int64 = 1 << 30
	// DefaultCounters is the default number of cache admission counters.
	DefaultCounters int64 = 1e5

	bufferItems = 64
)

// ErrTileOutOfRange is returned for tiles outside of the pyramid.
var ErrTileOutOfRange = errors.New("tile out of range")

type (
	// Level is one resolution of the pyramid.
	Level struct {
		Width  int
		Height int
		TilesX int
		TilesY int
	}

	// Tile is a decoded region of a level. Data must not be modified.
	Tile struct {
		Data    []byte
		Width   int
		Height  int
		OffsetX int
		OffsetY int
	}

	// TileReader decodes tiles from the underlying file.
	TileReader interface {
		ReadTile(ctx context.Context, level, x, y int) (*Tile, error)
	}

	// CacheStats reports the tile cache usage.
	CacheStats struct {
		Hits   uint64
		Misses uint64
		Memory int64
	}

	// Option configures the image.
	Option func(*Image)
)

// Tiles returns the number of tiles of the level.
func (l Level) Tiles() int {
	return l.TilesX * l.TilesY
}

// Image is a whole-slide image. Tiles are decoded on demand through the
// reader and kept in the cache until evicted or freed.
type Image struct {
	fast.Base
	levels    []Level
	reader    TileReader
	maxMemory int64
	counters  int64

	mu     sync.Mutex
	cache  *tileCache
	group  singleflight.Group
	hits   atomic.Uint64
	misses atomic.Uint64
}

// tileCache is one generation of the cache. Evictions reported after a
// clear update the dropped generation only.
type tileCache struct {
	*ristretto.Cache
	memory atomic.Int64
}

// WithMaxMemory sets the tile cache budget in bytes.
func WithMaxMemory(bytes int64) Option {
	return func(i *Image) {
		i.maxMemory = bytes
	}
}

// WithCounters sets the number of cache admission counters. Ten times the
// expected number of cached tiles is a good value.
func WithCounters(n int64) Option {
	return func(i *Image) {
		i.counters = n
	}
}

// New returns an image of the levels. Level 0 is the full resolution.
func New(levels []Level, reader TileReader, options ...Option) (*Image, error) {
	if len(levels) == 0 {
		return nil, fast.Configurationf("", "image has no levels")
	}
	if reader == nil {
		return nil, fast.Configurationf("", "image has no tile reader")
	}
	for n, l := range levels {
		if l.Width <= 0 || l.Height <= 0 || l.TilesX <= 0 || l.TilesY <= 0 {
			return nil, fast.Configurationf("", "invalid level %d: %+v", n, l)
		}
	}
	i := &Image{
		levels:    append([]Level(nil), levels...),
		reader:    reader,
		maxMemory: DefaultMaxMemory,
		counters:  DefaultCounters,
	}
	for _, option := range options {
		option(i)
	}
	if i.maxMemory <= 0 || i.counters <= 0 {
		return nil, fast.Configurationf("", "invalid cache size: memory %d counters %d", i.maxMemory, i.counters)
	}
	i.SetResident(fast.Host)
	return i, nil
}

// NumberOfLevels returns the number of pyramid levels.
func (i *Image) NumberOfLevels() int {
	return len(i.levels)
}

// Level returns the level description.
func (i *Image) Level(level int) (Level, error) {
	if level < 0 || level >= len(i.levels) {
		return Level{}, fmt.Errorf("%w: level %d of %d", ErrTileOutOfRange, level, len(i.levels))
	}
	return i.levels[level], nil
}

// FullWidth returns the width of level 0.
func (i *Image) FullWidth() int {
	return i.levels[0].Width
}

// FullHeight returns the height of level 0.
func (i *Image) FullHeight() int {
	return i.levels[0].Height
}

// TileByKey returns the tile addressed by "level_x_y".
func (i *Image) TileByKey(ctx context.Context, key string) (*Tile, error) {
	parts := strings.Split(key, "_")
	if len(parts) != 3 {
		return nil, fmt.Errorf("invalid tile key %q", key)
	}
	var coords [3]int
	for n, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid tile key %q: %w", key, err)
		}
		coords[n] = v
	}
	return i.Tile(ctx, coords[0], coords[1], coords[2])
}

// Tile returns the tile from the cache, decoding it on a miss. Concurrent
// misses of the same tile decode it once.
func (i *Image) Tile(ctx context.Context, level, x, y int) (*Tile, error) {
	l, err := i.Level(level)
	if err != nil {
		return nil, err
	}
	if x < 0 || x >= l.TilesX || y < 0 || y >= l.TilesY {
		return nil, fmt.Errorf("%w: tile %d,%d of level %d", ErrTileOutOfRange, x, y, level)
	}
	c := i.tiles()
	key := tileKey(level, x, y)
	if v, ok := c.Get(key); ok {
		i.hits.Add(1)
		return v.(*Tile), nil
	}
	v, err, _ := i.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		i.misses.Add(1)
		t, err := i.reader.ReadTile(ctx, level, x, y)
		if err != nil {
			return nil, fmt.Errorf("reading tile %s: %w", key, err)
		}
		i.store(c, key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Tile), nil
}

// store adds the tile unless the cache was cleared during the read.
func (i *Image) store(c *tileCache, key string, t *Tile) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cache != c {
		return
	}
	cost := int64(len(t.Data))
	if c.Set(key, t, cost) {
		c.memory.Add(cost)
	}
	c.Wait()
}

// CacheMemoryUsage returns the approximate number of cached bytes.
func (i *Image) CacheMemoryUsage() int64 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cache == nil {
		return 0
	}
	return i.cache.memory.Load()
}

// CacheStats returns the cache counters.
func (i *Image) CacheStats() CacheStats {
	return CacheStats{
		Hits:   i.hits.Load(),
		Misses: i.misses.Load(),
		Memory: i.CacheMemoryUsage(),
	}
}

// Free clears the tile cache when the host copy is dropped.
func (i *Image) Free(d fast.Device) {
	if d.DeviceID() == fast.Host.DeviceID() {
		i.clear()
	}
	i.Base.Free(d)
}

// FreeAll clears the tile cache. Tiles are decoded again on the next
// access.
func (i *Image) FreeAll() {
	i.clear()
	i.Base.FreeAll()
}

// tiles returns the cache, creating it after a clear.
func (i *Image) tiles() *tileCache {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cache != nil {
		return i.cache
	}
	tc := &tileCache{}
	evicted := func(item *ristretto.Item) {
		tc.memory.Add(-item.Cost)
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        i.counters,
		MaxCost:            i.maxMemory,
		BufferItems:        bufferItems,
		IgnoreInternalCost: true,
		OnEvict:            evicted,
		OnReject:           evicted,
	})
	if err != nil {
		// only invalid sizes fail and New rejects them
		panic(fmt.Sprintf("tile cache: %v", err))
	}
	tc.Cache = c
	i.cache = tc
	return tc
}

func (i *Image) clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cache == nil {
		return
	}
	i.cache.Close()
	i.cache = nil
}

func tileKey(level, x, y int) string {
	return fmt.Sprintf("%d_%d_%d", level, x, y)
}
