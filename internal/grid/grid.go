package grid

import (
	"fmt"
	"runtime"
)

// Tier is a named resolution preset for a panorama download.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// Tile pixel size is fixed by the Map Tiles API; tiles are always 512x512
// regardless of zoom level.
const TileSizePx = 512

// MaxWorkers caps auto-tuned concurrency so a dense grid cannot exhaust the
// host or trip the upstream rate limit.
const MaxWorkers = 32

// ParseTier converts a user-supplied quality string to a Tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierLow, TierMedium, TierHigh:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown quality tier: %q (expected low, medium or high)", s)
}

// TileGrid describes the tile layout of a panorama at a given tier.
// Equirectangular panoramas are 2:1, so Rows is always Cols/2.
type TileGrid struct {
	Tier       Tier
	Zoom       int
	Cols       int
	Rows       int
	TileSizePx int
}

// TileCoordinate addresses a single tile within a grid. Each coordinate maps
// to exactly one network request.
type TileCoordinate struct {
	Col int
	Row int
}

func (c TileCoordinate) String() string {
	return fmt.Sprintf("(%d,%d)", c.Col, c.Row)
}

// Plan maps a tier to its fixed grid geometry. The mapping is total and pure:
// low/medium/high produce 32, 128 and 512 tiles respectively.
func Plan(tier Tier) TileGrid {
	zoom := 5
	switch tier {
	case TierLow:
		zoom = 3
	case TierMedium:
		zoom = 4
	case TierHigh:
		zoom = 5
	}

	cols := 1 << zoom
	return TileGrid{
		Tier:       tier,
		Zoom:       zoom,
		Cols:       cols,
		Rows:       cols / 2,
		TileSizePx: TileSizePx,
	}
}

// TileCount returns the total number of tiles in the grid.
func (g TileGrid) TileCount() int {
	return g.Cols * g.Rows
}

// WidthPx returns the pixel width of the assembled panorama.
func (g TileGrid) WidthPx() int {
	return g.Cols * g.TileSizePx
}

// HeightPx returns the pixel height of the assembled panorama.
func (g TileGrid) HeightPx() int {
	return g.Rows * g.TileSizePx
}

// Coordinates enumerates every tile coordinate in row-major order.
func (g TileGrid) Coordinates() []TileCoordinate {
	coords := make([]TileCoordinate, 0, g.TileCount())
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Cols; col++ {
			coords = append(coords, TileCoordinate{Col: col, Row: row})
		}
	}
	return coords
}

// Contains reports whether a coordinate lies inside the grid.
func (g TileGrid) Contains(c TileCoordinate) bool {
	return c.Col >= 0 && c.Col < g.Cols && c.Row >= 0 && c.Row < g.Rows
}

// AutoWorkers derives a worker count from available parallelism and grid
// density. Denser tiers get more workers; the result never exceeds the tile
// count or MaxWorkers.
func AutoWorkers(g TileGrid) int {
	workers := runtime.NumCPU() * 2
	switch g.Tier {
	case TierLow:
		workers = runtime.NumCPU()
	case TierHigh:
		workers = runtime.NumCPU() * 4
	}

	if workers > MaxWorkers {
		workers = MaxWorkers
	}
	if workers > g.TileCount() {
		workers = g.TileCount()
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}
