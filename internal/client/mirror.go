// Package client holds the client side of chunk streaming: the loaded-chunk
// set with its tile map, and a websocket connection to the server.
package client

import (
	"errors"
	"fmt"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/io/chunkcodec"
	"tilestream.ai/internal/sim/world/terrain"
	"tilestream.ai/internal/sim/world/terrain/mirror"
)

// ErrOutOfBounds is returned for a position the server would reject. The
// server keeps the previous position in that case, so the client does too.
var ErrOutOfBounds = errors.New("position outside world boundary")

// Mirror is the client's view of streamed terrain. It is not safe for
// concurrent use; the owning loop applies payloads and ticks it.
type Mirror struct {
	grid      terrain.Grid
	params    mirror.Params
	boundaryR int

	// Tiles are read straight out of the loaded chunks.
	loaded map[terrain.ChunkID]*terrain.Chunk

	pos    terrain.Loc
	hasPos bool
}

// NewMirror builds a mirror from the parameters the server sent in WELCOME.
func NewMirror(sp protocol.StreamParams) (*Mirror, error) {
	if sp.ChunkSize < 1 {
		return nil, fmt.Errorf("stream params: chunk_size must be >= 1, got %d", sp.ChunkSize)
	}
	p := mirror.Params{FOVChunkRadius: sp.FOVChunkRadius, EvictionBuffer: sp.EvictionBuffer}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("stream params: %w", err)
	}
	if sp.WorldBoundaryR < 1 {
		return nil, fmt.Errorf("stream params: world_boundary_r must be >= 1, got %d", sp.WorldBoundaryR)
	}
	return &Mirror{
		grid:      terrain.Grid{ChunkSize: sp.ChunkSize},
		params:    p,
		boundaryR: sp.WorldBoundaryR,
		loaded:    map[terrain.ChunkID]*terrain.Chunk{},
	}, nil
}

func (m *Mirror) Params() mirror.Params { return m.params }
func (m *Mirror) Grid() terrain.Grid    { return m.grid }

// Apply decodes a CHUNK_DATA payload and marks the chunk loaded. A chunk
// that is already loaded keeps its first copy; chunk contents never change
// while loaded.
func (m *Mirror) Apply(msg protocol.ChunkDataMsg) (terrain.ChunkID, error) {
	ch, err := chunkcodec.DecodeChunkData(msg, m.grid)
	if err != nil {
		return terrain.ChunkID{}, err
	}
	if _, ok := m.loaded[ch.ID]; !ok {
		m.loaded[ch.ID] = ch
	}
	return ch.ID, nil
}

// InBounds reports whether the server would accept loc as a position.
func (m *Mirror) InBounds(loc terrain.Loc) bool {
	return terrain.InBoundary(loc, m.boundaryR)
}

// SetPosition records loc as the position Tick prunes around. An
// out-of-bounds loc is refused with ErrOutOfBounds and the previous
// position stays in effect.
func (m *Mirror) SetPosition(loc terrain.Loc) error {
	if !m.InBounds(loc) {
		return fmt.Errorf("%w: %v (boundary %d)", ErrOutOfBounds, [2]int{loc.Q, loc.R}, m.boundaryR)
	}
	m.pos = loc
	m.hasPos = true
	return nil
}

// Tick forgets every loaded chunk outside FOV plus buffer around the current
// position and returns the evicted ids.
func (m *Mirror) Tick() []terrain.ChunkID {
	if !m.hasPos {
		return nil
	}
	return mirror.Prune(m.loaded, m.grid.LocToChunk(m.pos), m.params)
}

func (m *Mirror) Has(id terrain.ChunkID) bool {
	_, ok := m.loaded[id]
	return ok
}

func (m *Mirror) Len() int { return len(m.loaded) }

func (m *Mirror) Loaded() terrain.ChunkSet {
	out := make(terrain.ChunkSet, len(m.loaded))
	for id := range m.loaded {
		out.Add(id)
	}
	return out
}

func (m *Mirror) TileAt(loc terrain.Loc) (terrain.Tile, bool) {
	ch, ok := m.loaded[m.grid.LocToChunk(loc)]
	if !ok {
		return terrain.Tile{}, false
	}
	off := m.grid.LocalOffset(loc)
	if i := off.Q + off.R*m.grid.ChunkSize; i < len(ch.Cells) && ch.Cells[i].Loc == loc {
		return ch.Cells[i].Tile, true
	}
	for _, c := range ch.Cells {
		if c.Loc == loc {
			return c.Tile, true
		}
	}
	return terrain.Tile{}, false
}

func (m *Mirror) TileCount() int { return len(m.loaded) * m.grid.TilesPerChunk() }
