// Package cache keeps recently fetched tiles in memory so no retry path or
// repeat run within a batch re-downloads a tile it already has.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEntries is sized to hold a full high-tier grid (512 tiles) with
// headroom for a second panorama in batch runs.
const DefaultEntries = 1024

// TileCache is a bounded LRU of raw tile bytes keyed by
// pano/zoom/col/row.
type TileCache struct {
	lru *lru.Cache[string, []byte]
}

// New creates a cache bounded to the given entry count; non-positive counts
// fall back to DefaultEntries.
func New(entries int) (*TileCache, error) {
	if entries <= 0 {
		entries = DefaultEntries
	}
	inner, err := lru.New[string, []byte](entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}
	return &TileCache{lru: inner}, nil
}

// Get returns the cached tile bytes for a key.
func (c *TileCache) Get(key string) ([]byte, bool) {
	return c.lru.Get(key)
}

// Add stores tile bytes, evicting the least recently used entry when full.
func (c *TileCache) Add(key string, data []byte) {
	c.lru.Add(key, data)
}

// Len returns the number of cached tiles.
func (c *TileCache) Len() int {
	return c.lru.Len()
}
