package wsi

import (
	"context"

	"github.com/AustinTapp/FAST"
)

// Attribute ids of the extractor.
const (
	LevelAttribute = "level"
	TileAttribute  = "tile"
)

var (
	// ImageType is the port type of images.
	ImageType = fast.TypeOf[*Image]()
	// TileDataType is the port type of extracted tiles.
	TileDataType = fast.TypeOf[*TileData]()
)

// TileData is a tile published as a data object.
type TileData struct {
	fast.Base
	*Tile
	Level int
	X     int
	Y     int
}

// Extractor publishes one tile of the input image on every execution.
type Extractor struct {
	*fast.ProcessObject
}

// NewExtractor returns an extractor of tile 0,0 of level 0.
func NewExtractor(name string, options ...fast.Option) *Extractor {
	e := &Extractor{}
	e.ProcessObject = fast.NewProcessObject(name, e, options...)
	e.AddInputPort(0, ImageType)
	e.AddOutputPort(0, TileDataType)
	e.CreateIntegerAttribute(LevelAttribute, "Level", "Pyramid level of the tile", 0)
	e.CreateIntegerListAttribute(TileAttribute, "Tile", "Tile column and row", []int{0, 0})
	return e
}

// Execute implements fast.Executable.
func (e *Extractor) Execute(ctx context.Context) error {
	img, err := fast.Input[*Image](ctx, e.ProcessObject, 0)
	if err != nil {
		return err
	}
	level, err := e.IntegerAttribute(LevelAttribute)
	if err != nil {
		return err
	}
	pos, err := e.IntegerListAttribute(TileAttribute)
	if err != nil {
		return err
	}
	if len(pos) != 2 {
		return fast.Configurationf(e.Name(), "tile needs a column and a row, got %v", pos)
	}
	t, err := img.Tile(ctx, level, pos[0], pos[1])
	if err != nil {
		return err
	}
	return e.AddOutputData(ctx, 0, &TileData{Tile: t, Level: level, X: pos[0], Y: pos[1]})
}
