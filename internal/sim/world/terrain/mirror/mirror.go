// Package mirror holds the retention rule shared by the server's per-client
// bookkeeping and the client's loaded-chunk set. Both sides call Prune with the
// same Params, so a chunk the client still holds is never forgotten by the
// server and a chunk the server forgets is already gone on the client.
package mirror

import (
	"fmt"
	"math"
	"sort"

	"tilestream.ai/internal/sim/world/terrain"
)

// DefaultEvictionBuffer is the hysteresis ring kept beyond the field of view.
const DefaultEvictionBuffer = 1

type Params struct {
	FOVChunkRadius int `json:"fov_chunk_radius"`
	EvictionBuffer int `json:"eviction_buffer"`
}

// RetentionRadius is FOV plus buffer, in chunks.
func (p Params) RetentionRadius() int { return p.FOVChunkRadius + p.EvictionBuffer }

func (p Params) Validate() error {
	if p.FOVChunkRadius < 0 {
		return fmt.Errorf("fov_chunk_radius must be >= 0, got %d", p.FOVChunkRadius)
	}
	if p.EvictionBuffer < 1 {
		return fmt.Errorf("eviction_buffer must be >= 1, got %d", p.EvictionBuffer)
	}
	return nil
}

// ValidateExtent checks that every chunk retained around a client inside a
// square world of half-width boundaryR tiles still has an int16 id.
func (p Params) ValidateExtent(boundaryR, chunkSize int) error {
	if chunkSize < 1 {
		return fmt.Errorf("chunk_size must be >= 1, got %d", chunkSize)
	}
	if ext := terrain.MaxChunkExtent(boundaryR, chunkSize, p.RetentionRadius()); ext > math.MaxInt16 {
		return fmt.Errorf("world_boundary_r %d with chunk_size %d reaches chunk %d past the int16 range (fov %d, eviction_buffer %d)",
			boundaryR, chunkSize, ext, p.FOVChunkRadius, p.EvictionBuffer)
	}
	return nil
}

// Retained is the set of chunks kept around center.
func Retained(center terrain.ChunkID, p Params) terrain.ChunkSet {
	return terrain.VisibleChunks(center, p.RetentionRadius())
}

// Prune deletes every entry of held outside the retention square around
// center and returns the removed ids in ChunkID order.
func Prune[V any](held map[terrain.ChunkID]V, center terrain.ChunkID, p Params) []terrain.ChunkID {
	r := p.RetentionRadius()
	var out []terrain.ChunkID
	for id := range held {
		if terrain.InRadius(center, id, r) {
			continue
		}
		out = append(out, id)
	}
	for _, id := range out {
		delete(held, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
