package terrain

import (
	"math"
	"sort"

	"tilestream.ai/internal/sim/world/logic/mathx"
)

// Grid maps between tile space and chunk space for a fixed chunk edge length.
type Grid struct {
	ChunkSize int
}

func (g Grid) TilesPerChunk() int { return g.ChunkSize * g.ChunkSize }

// LocToChunk uses floor division so negative tiles land in negative chunks.
// Callers keep loc inside the configured world boundary so the result fits int16.
func (g Grid) LocToChunk(loc Loc) ChunkID {
	return ChunkID{
		Q: int16(mathx.FloorDiv(loc.Q, g.ChunkSize)),
		R: int16(mathx.FloorDiv(loc.R, g.ChunkSize)),
	}
}

// LocalOffset is the position of loc inside its chunk.
func (g Grid) LocalOffset(loc Loc) Offset {
	return Offset{Q: mathx.Mod(loc.Q, g.ChunkSize), R: mathx.Mod(loc.R, g.ChunkSize)}
}

// ChunkToTile is the inverse of LocToChunk for 0 <= off.Q, off.R < ChunkSize.
func (g Grid) ChunkToTile(id ChunkID, off Offset) Loc {
	return Loc{
		Q: int(id.Q)*g.ChunkSize + off.Q,
		R: int(id.R)*g.ChunkSize + off.R,
	}
}

// Center is the middle tile of a chunk.
func (g Grid) Center(id ChunkID) Loc {
	half := g.ChunkSize / 2
	return g.ChunkToTile(id, Offset{Q: half, R: half})
}

// ChunkSet is an unordered set of chunk ids.
type ChunkSet map[ChunkID]struct{}

func (s ChunkSet) Has(id ChunkID) bool {
	_, ok := s[id]
	return ok
}

func (s ChunkSet) Add(id ChunkID) { s[id] = struct{}{} }

// Sorted returns the members in ChunkID order.
func (s ChunkSet) Sorted() []ChunkID {
	out := make([]ChunkID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// VisibleChunks is the square of chunks within Chebyshev distance radius of center,
// center included. A negative radius yields an empty set. Ids past the int16
// range are left out rather than wrapped to the far side of the world.
func VisibleChunks(center ChunkID, radius int) ChunkSet {
	if radius < 0 {
		return ChunkSet{}
	}
	side := 2*radius + 1
	out := make(ChunkSet, side*side)
	for q := int(center.Q) - radius; q <= int(center.Q)+radius; q++ {
		if q < math.MinInt16 || q > math.MaxInt16 {
			continue
		}
		for r := int(center.R) - radius; r <= int(center.R)+radius; r++ {
			if r < math.MinInt16 || r > math.MaxInt16 {
				continue
			}
			out[ChunkID{Q: int16(q), R: int16(r)}] = struct{}{}
		}
	}
	return out
}

// InBoundary reports whether loc lies in the square world of half-width r.
func InBoundary(loc Loc, r int) bool {
	return loc.Q >= -r && loc.Q <= r && loc.R >= -r && loc.R <= r
}

// MaxChunkExtent is the largest |chunk coordinate| a client inside a square
// world of half-width boundaryR can reach, plus margin rings around it.
func MaxChunkExtent(boundaryR, chunkSize, margin int) int {
	return boundaryR/chunkSize + 1 + margin
}

// InRadius reports whether id is a member of VisibleChunks(center, radius).
func InRadius(center, id ChunkID, radius int) bool {
	return mathx.Chebyshev(int(center.Q), int(center.R), int(id.Q), int(id.R)) <= radius
}
