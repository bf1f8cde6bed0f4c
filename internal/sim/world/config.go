package world

import (
	"fmt"

	"tilestream.ai/internal/sim/tuning"
	"tilestream.ai/internal/sim/world/terrain/mirror"
)

type WorldConfig struct {
	ID         string
	TickRateHz int
	Seed       int64
	BoundaryR  int

	ChunkSize      int
	FOVChunkRadius int
	EvictionBuffer int

	MaxCachedChunks  int
	DedupeGeneration bool
	ResolveWorkers   int
	// MaxClientQueue caps buffered outbound payloads per connection.
	MaxClientQueue int
}

func ConfigFromTuning(id string, s tuning.Streaming) WorldConfig {
	return WorldConfig{
		ID:               id,
		TickRateHz:       s.TickRateHz,
		Seed:             s.Seed,
		BoundaryR:        s.WorldBoundaryR,
		ChunkSize:        s.ChunkSize,
		FOVChunkRadius:   s.FOVChunkRadius,
		EvictionBuffer:   s.EvictionBuffer,
		MaxCachedChunks:  s.MaxCachedChunks,
		DedupeGeneration: s.DedupeGeneration,
		ResolveWorkers:   s.ResolveWorkers,
		MaxClientQueue:   s.MaxClientQueue,
	}
}

func (c WorldConfig) mirrorParams() mirror.Params {
	return mirror.Params{FOVChunkRadius: c.FOVChunkRadius, EvictionBuffer: c.EvictionBuffer}
}

func (c WorldConfig) validate() error {
	if c.ID == "" {
		return fmt.Errorf("world id must not be empty")
	}
	if c.TickRateHz < 1 {
		return fmt.Errorf("world %s tick_rate_hz must be >= 1", c.ID)
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("world %s chunk_size must be >= 1", c.ID)
	}
	if c.BoundaryR <= 0 {
		return fmt.Errorf("world %s boundary_r must be > 0", c.ID)
	}
	if c.MaxCachedChunks < 1 {
		return fmt.Errorf("world %s max_cached_chunks must be >= 1", c.ID)
	}
	if err := c.mirrorParams().Validate(); err != nil {
		return fmt.Errorf("world %s: %w", c.ID, err)
	}
	if err := c.mirrorParams().ValidateExtent(c.BoundaryR, c.ChunkSize); err != nil {
		return fmt.Errorf("world %s: %w", c.ID, err)
	}
	return nil
}
