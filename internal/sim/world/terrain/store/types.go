package store

import (
	"sync"

	"tilestream.ai/internal/sim/world/terrain"
)

// TerrainStore is the authoritative tile map. It is independent of the chunk
// cache and is the only terrain source physics and pathfinding may read.
//
// Safe for concurrent use; chunk generation for different clients may run in
// parallel within a tick.
type TerrainStore struct {
	mu    sync.RWMutex
	tiles map[terrain.Loc]terrain.Tile
}

func NewTerrainStore() *TerrainStore {
	return &TerrainStore{tiles: map[terrain.Loc]terrain.Tile{}}
}
