package wsi_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AustinTapp/FAST"
	"github.com/AustinTapp/FAST/wsi"
)

const tileSize = 16

var (
	errRead = errors.New("read error")

	levels = []wsi.Level{
		{Width: 64, Height: 32, TilesX: 4, TilesY: 2},
		{Width: 32, Height: 16, TilesX: 2, TilesY: 1},
	}
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// reader decodes tiles filled with the level number.
type reader struct {
	mu    sync.Mutex
	reads int
	err   error
	gate  chan struct{}
}

func (r *reader) ReadTile(ctx context.Context, level, x, y int) (*wsi.Tile, error) {
	if r.gate != nil {
		select {
		case <-r.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.err != nil {
		return nil, r.err
	}
	data := make([]byte, tileSize*tileSize)
	for i := range data {
		data[i] = byte(level)
	}
	return &wsi.Tile{
		Data:    data,
		Width:   tileSize,
		Height:  tileSize,
		OffsetX: x * tileSize,
		OffsetY: y * tileSize,
	}, nil
}

func (r *reader) Reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reads
}

func newImage(t *testing.T, r *reader, options ...wsi.Option) *wsi.Image {
	t.Helper()
	img, err := wsi.New(levels, r, options...)
	require.NoError(t, err)
	t.Cleanup(img.FreeAll)
	return img
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		levels  []wsi.Level
		reader  wsi.TileReader
		options []wsi.Option
	}{
		{
			name:   "no levels",
			reader: &reader{},
		},
		{
			name:   "no reader",
			levels: levels,
		},
		{
			name:   "empty level",
			levels: []wsi.Level{{Width: 10, Height: 10}},
			reader: &reader{},
		},
		{
			name:    "no memory",
			levels:  levels,
			reader:  &reader{},
			options: []wsi.Option{wsi.WithMaxMemory(0)},
		},
		{
			name:    "no counters",
			levels:  levels,
			reader:  &reader{},
			options: []wsi.Option{wsi.WithCounters(-1)},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := wsi.New(test.levels, test.reader, test.options...)
			var cfgErr *fast.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestLevels(t *testing.T) {
	img := newImage(t, &reader{})
	assert.Equal(t, 2, img.NumberOfLevels())
	assert.Equal(t, 64, img.FullWidth())
	assert.Equal(t, 32, img.FullHeight())

	l, err := img.Level(1)
	require.NoError(t, err)
	assert.Equal(t, 2, l.Tiles())
	_, err = img.Level(2)
	assert.ErrorIs(t, err, wsi.ErrTileOutOfRange)
	assert.True(t, img.IsResident(fast.Host))
}

func TestTileCache(t *testing.T) {
	ctx := context.Background()
	r := &reader{}
	img := newImage(t, r)

	first, err := img.Tile(ctx, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, tileSize, first.OffsetX)
	assert.Equal(t, byte(1), first.Data[0])

	second, err := img.Tile(ctx, 1, 1, 0)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, r.Reads())

	stats := img.CacheStats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, int64(tileSize*tileSize), img.CacheMemoryUsage())
}

func TestTileByKey(t *testing.T) {
	ctx := context.Background()
	r := &reader{}
	img := newImage(t, r)

	tile, err := img.TileByKey(ctx, "0_3_1")
	require.NoError(t, err)
	assert.Equal(t, 3*tileSize, tile.OffsetX)
	assert.Equal(t, tileSize, tile.OffsetY)

	same, err := img.Tile(ctx, 0, 3, 1)
	require.NoError(t, err)
	assert.Same(t, tile, same)

	for _, key := range []string{"", "0_1", "0_1_2_3", "a_0_0", "0_0_x"} {
		_, err := img.TileByKey(ctx, key)
		assert.Error(t, err, key)
	}
	assert.Equal(t, 1, r.Reads())
}

func TestTileOutOfRange(t *testing.T) {
	ctx := context.Background()
	img := newImage(t, &reader{})
	tests := []struct {
		name        string
		level, x, y int
	}{
		{name: "negative level", level: -1},
		{name: "level", level: 2},
		{name: "column", level: 1, x: 2},
		{name: "row", level: 0, y: 2},
		{name: "negative column", x: -1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := img.Tile(ctx, test.level, test.x, test.y)
			assert.ErrorIs(t, err, wsi.ErrTileOutOfRange)
		})
	}
}

func TestConcurrentMiss(t *testing.T) {
	ctx := context.Background()
	r := &reader{gate: make(chan struct{})}
	img := newImage(t, r)

	const n = 8
	var wg sync.WaitGroup
	tiles := make([]*wsi.Tile, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tiles[i], errs[i] = img.Tile(ctx, 0, 1, 1)
		}(i)
	}
	close(r.gate)
	wg.Wait()

	assert.Equal(t, 1, r.Reads())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, tiles[0], tiles[i])
	}
}

func TestReadError(t *testing.T) {
	ctx := context.Background()
	r := &reader{err: errRead}
	img := newImage(t, r)

	_, err := img.Tile(ctx, 0, 0, 0)
	assert.ErrorIs(t, err, errRead)
	_, err = img.Tile(ctx, 0, 0, 0)
	assert.ErrorIs(t, err, errRead)
	assert.Equal(t, 2, r.Reads())
	assert.Zero(t, img.CacheMemoryUsage())
}

func TestFree(t *testing.T) {
	ctx := context.Background()
	r := &reader{}
	img := newImage(t, r)

	_, err := img.Tile(ctx, 0, 0, 0)
	require.NoError(t, err)
	img.Free(gpu{})
	assert.NotZero(t, img.CacheMemoryUsage())

	img.Free(fast.Host)
	assert.Zero(t, img.CacheMemoryUsage())
	assert.False(t, img.IsResident(fast.Host))

	_, err = img.Tile(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Reads())

	img.FreeAll()
	assert.Zero(t, img.CacheMemoryUsage())
	img.FreeAll()
}

func TestFreeDuringMiss(t *testing.T) {
	ctx := context.Background()
	r := &reader{gate: make(chan struct{})}
	img := newImage(t, r)

	done := make(chan error, 1)
	go func() {
		_, err := img.Tile(ctx, 0, 2, 0)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return img.CacheStats().Misses == 1
	}, time.Second, time.Millisecond)

	img.FreeAll()
	close(r.gate)
	require.NoError(t, <-done)
	assert.Zero(t, img.CacheMemoryUsage())

	_, err := img.Tile(ctx, 0, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Reads())
	assert.Equal(t, int64(tileSize*tileSize), img.CacheMemoryUsage())
}

func TestRelease(t *testing.T) {
	r := &reader{}
	img, err := wsi.New(levels, r)
	require.NoError(t, err)
	_, err = img.Tile(context.Background(), 1, 0, 0)
	require.NoError(t, err)

	fast.Retain(img)
	fast.Release(img)
	assert.NotZero(t, img.CacheMemoryUsage())
	fast.Release(img)
	assert.Zero(t, img.CacheMemoryUsage())
}

func TestExtractor(t *testing.T) {
	ctx := context.Background()
	img, err := wsi.New(levels, &reader{})
	require.NoError(t, err)

	e := wsi.NewExtractor("extractor", fast.WithStreamingMode(fast.StoreAllFrames))
	defer e.Close()
	c := e.OutputPort(0).Subscribe()
	defer c.Close()
	require.NoError(t, e.SetInputData(0, img))
	require.NoError(t, e.SetAttributes(map[string]interface{}{
		wsi.LevelAttribute: 1,
		wsi.TileAttribute:  "1 0",
	}))

	require.NoError(t, e.Update(ctx))
	tile, err := fast.NextFrame[*wsi.TileData](ctx, c)
	require.NoError(t, err)
	defer fast.Release(tile)
	assert.Equal(t, 1, tile.Level)
	assert.Equal(t, 1, tile.X)
	assert.Equal(t, tileSize, tile.OffsetX)

	require.NoError(t, e.SetAttribute(wsi.TileAttribute, []int{1}))
	err = e.Update(ctx)
	var cfgErr *fast.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	require.NoError(t, e.SetAttribute(wsi.TileAttribute, []int{5, 5}))
	err = e.Update(ctx)
	assert.ErrorIs(t, err, wsi.ErrTileOutOfRange)
	assert.ErrorIs(t, err, fast.ErrDomainComputation)
}

type gpu struct{}

func (gpu) DeviceID() string { return "gpu" }
