// Package assemble places fetched tiles into a single panorama raster.
// Placement is a pure function of the tile coordinate, so the final pixels
// are identical regardless of fetch completion order.
package assemble

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sort"
	"strings"

	"streetview-dl/internal/grid"
)

// placeholderColor fills the block for a tile that could not be fetched: a
// flat neutral gray that is obvious in output without aborting the run.
var placeholderColor = color.RGBA{R: 96, G: 96, B: 96, A: 255}

// IncompletePanoramaError is returned by Finalize in strict mode when one or
// more tiles are missing.
type IncompletePanoramaError struct {
	Missing []grid.TileCoordinate
}

func (e *IncompletePanoramaError) Error() string {
	coords := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		coords[i] = c.String()
	}
	return fmt.Sprintf("panorama incomplete: %d tiles missing: %s", len(e.Missing), strings.Join(coords, " "))
}

// Panorama is the raster buffer under construction. The assembler owns it
// exclusively while tiles arrive; after Finalize it is read-only for the
// rest of the pipeline.
type Panorama struct {
	Img  *image.RGBA
	Grid grid.TileGrid

	placed map[grid.TileCoordinate]bool
	failed []grid.TileCoordinate
}

// New allocates the full-size buffer for a grid.
func New(g grid.TileGrid) *Panorama {
	return &Panorama{
		Img:    image.NewRGBA(image.Rect(0, 0, g.WidthPx(), g.HeightPx())),
		Grid:   g,
		placed: make(map[grid.TileCoordinate]bool, g.TileCount()),
	}
}

// regionFor maps a coordinate to its fixed pixel rectangle.
func (p *Panorama) regionFor(c grid.TileCoordinate) image.Rectangle {
	ts := p.Grid.TileSizePx
	x := c.Col * ts
	y := c.Row * ts
	return image.Rect(x, y, x+ts, y+ts)
}

// Place copies a fetched tile into its slot. Each slot is filled at most
// once; a duplicate is ignored so no retry path can overwrite good pixels.
func (p *Panorama) Place(c grid.TileCoordinate, tile image.Image) {
	if !p.Grid.Contains(c) || p.placed[c] {
		return
	}
	p.placed[c] = true
	draw.Draw(p.Img, p.regionFor(c), tile, tile.Bounds().Min, draw.Src)
}

// PlaceFailure renders the placeholder block for an unfetchable tile and
// records the coordinate.
func (p *Panorama) PlaceFailure(c grid.TileCoordinate) {
	if !p.Grid.Contains(c) || p.placed[c] {
		return
	}
	p.placed[c] = true
	p.failed = append(p.failed, c)
	draw.Draw(p.Img, p.regionFor(c), &image.Uniform{C: placeholderColor}, image.Point{}, draw.Src)
}

// Failed returns the coordinates rendered as placeholders, in row-major
// order.
func (p *Panorama) Failed() []grid.TileCoordinate {
	out := make([]grid.TileCoordinate, len(p.failed))
	copy(out, p.failed)
	sortCoords(out)
	return out
}

// Finalize checks completeness. In strict mode any failed or unfilled slot
// is fatal; otherwise placeholders stand in and the run continues.
func (p *Panorama) Finalize(strict bool) error {
	missing := append([]grid.TileCoordinate(nil), p.failed...)
	for _, c := range p.Grid.Coordinates() {
		if !p.placed[c] {
			missing = append(missing, c)
		}
	}
	if strict && len(missing) > 0 {
		sortCoords(missing)
		return &IncompletePanoramaError{Missing: missing}
	}
	return nil
}

func sortCoords(coords []grid.TileCoordinate) {
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].Row != coords[j].Row {
			return coords[i].Row < coords[j].Row
		}
		return coords[i].Col < coords[j].Col
	})
}
