package client

import (
	"context"
	"fmt"

	"streetview-dl/internal/grid"
)

// TileRequester binds a client to one panorama and grid, satisfying the
// fetch layer's Requester interface.
type TileRequester struct {
	client *Client
	panoID string
	grid   grid.TileGrid
}

// Requester returns a tile requester for a panorama at the given grid.
func (c *Client) Requester(panoID string, g grid.TileGrid) *TileRequester {
	return &TileRequester{client: c, panoID: panoID, grid: g}
}

// FetchTile downloads the tile image bytes for one coordinate.
func (r *TileRequester) FetchTile(ctx context.Context, coord grid.TileCoordinate) ([]byte, error) {
	return r.client.FetchTileBytes(ctx, r.panoID, r.grid.Zoom, coord.Col, coord.Row)
}

// CacheKey uniquely addresses a tile across panoramas and zoom levels.
func (r *TileRequester) CacheKey(coord grid.TileCoordinate) string {
	return fmt.Sprintf("%s/%d/%d/%d", r.panoID, r.grid.Zoom, coord.Col, coord.Row)
}
