package gen

import (
	"time"

	"tilestream.ai/internal/sim/world/logic/mathx"
	"tilestream.ai/internal/sim/world/terrain"
)

// TileStore is the part of the authoritative store generation needs.
type TileStore interface {
	Get(loc terrain.Loc) (terrain.Tile, bool)
	InsertIfAbsent(loc terrain.Loc, t terrain.Tile) bool
}

type Generator struct {
	grid   terrain.Grid
	seed   int64
	height HeightFunc
	now    func() time.Time
}

func New(grid terrain.Grid, seed int64, height HeightFunc) *Generator {
	if height == nil {
		height = NewLayeredPerlin(seed)
	}
	return &Generator{grid: grid, seed: seed, height: height, now: time.Now}
}

// WithClock replaces the generation timestamp source.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (g *Generator) Grid() terrain.Grid { return g.grid }

// Generate builds chunk id. Tiles already in st are used as-is; every other
// tile is derived from the height function and recorded in st. Identical
// store contents and seed give identical cells.
func (g *Generator) Generate(id terrain.ChunkID, st TileStore) *terrain.Chunk {
	size := g.grid.ChunkSize
	cells := make([]terrain.Cell, 0, size*size)
	for or := 0; or < size; or++ {
		for oq := 0; oq < size; oq++ {
			loc := g.grid.ChunkToTile(id, terrain.Offset{Q: oq, R: or})
			t, ok := st.Get(loc)
			if !ok {
				t = g.TileAt(loc)
				if !st.InsertIfAbsent(loc, t) {
					// Lost a race with a concurrent generation or an edit; keep the stored tile.
					t, _ = st.Get(loc)
				}
			}
			cells = append(cells, terrain.Cell{Loc: loc, Tile: t})
		}
	}
	return terrain.NewChunk(id, cells, g.now())
}

// TileAt is the purely procedural tile for loc, ignoring any stored edits.
func (g *Generator) TileAt(loc terrain.Loc) terrain.Tile {
	z := g.height.Height(loc.Q, loc.R)
	return terrain.Tile{
		Z:       z,
		Kind:    kindForHeight(z),
		Variant: uint8(mathx.Hash2(g.seed+101, loc.Q, loc.R) % 4),
	}
}

func kindForHeight(z int16) terrain.TileKind {
	switch {
	case z < -6:
		return terrain.TileWater
	case z < -2:
		return terrain.TileSand
	case z < 6:
		return terrain.TileGrass
	case z < 12:
		return terrain.TileDirt
	case z < 20:
		return terrain.TileStone
	default:
		return terrain.TileSnow
	}
}
