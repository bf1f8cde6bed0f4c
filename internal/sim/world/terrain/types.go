package terrain

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// ChunkID is a chunk position in chunk space (not tile space).
type ChunkID struct {
	Q int16
	R int16
}

func (c ChunkID) String() string { return fmt.Sprintf("%d,%d", c.Q, c.R) }

// Less orders chunk ids by Q, then R.
func (c ChunkID) Less(o ChunkID) bool {
	if c.Q != o.Q {
		return c.Q < o.Q
	}
	return c.R < o.R
}

// Loc is a tile column in tile space.
type Loc struct {
	Q int
	R int
}

// Offset is a tile position local to its chunk, 0 <= Q,R < chunk size.
type Offset struct {
	Q int
	R int
}

type TileKind uint8

const (
	TileVoid TileKind = iota
	TileWater
	TileSand
	TileGrass
	TileDirt
	TileStone
	TileSnow
)

var tileKindNames = [...]string{"VOID", "WATER", "SAND", "GRASS", "DIRT", "STONE", "SNOW"}

func (k TileKind) String() string {
	if int(k) < len(tileKindNames) {
		return tileKindNames[k]
	}
	return fmt.Sprintf("TILE_%d", uint8(k))
}

// Solid reports whether physics treats the tile as blocking.
func (k TileKind) Solid() bool {
	return k == TileWater || k == TileStone
}

// Tile is the authoritative content of one tile column.
type Tile struct {
	Z       int16
	Kind    TileKind
	Variant uint8
}

// Cell is one (location, tile) pair of a chunk.
type Cell struct {
	Loc  Loc
	Tile Tile
}

// Chunk is an immutable batch of cells. Share it by pointer; never mutate Cells.
type Chunk struct {
	ID          ChunkID
	Cells       []Cell // len = chunk size squared, offset order (q fastest)
	GeneratedAt time.Time

	digest [32]byte
}

// NewChunk takes ownership of cells.
func NewChunk(id ChunkID, cells []Cell, at time.Time) *Chunk {
	ch := &Chunk{ID: id, Cells: cells, GeneratedAt: at}
	ch.digest = digestCells(cells)
	return ch
}

// Digest hashes the cells only, so two generations of the same chunk compare equal.
func (c *Chunk) Digest() [32]byte { return c.digest }

func digestCells(cells []Cell) [32]byte {
	h := sha256.New()
	var tmp [12]byte
	for _, c := range cells {
		binary.LittleEndian.PutUint32(tmp[0:], uint32(int32(c.Loc.Q)))
		binary.LittleEndian.PutUint32(tmp[4:], uint32(int32(c.Loc.R)))
		binary.LittleEndian.PutUint16(tmp[8:], uint16(c.Tile.Z))
		tmp[10] = byte(c.Tile.Kind)
		tmp[11] = c.Tile.Variant
		h.Write(tmp[:])
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
