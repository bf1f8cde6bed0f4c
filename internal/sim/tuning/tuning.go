package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tilestream.ai/internal/sim/world/terrain/mirror"
)

// Streaming holds the chunk streaming parameters shared by server and client.
type Streaming struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int   `yaml:"tick_rate_hz"`
	Seed       int64 `yaml:"seed"`

	ChunkSize      int `yaml:"chunk_size"`
	FOVChunkRadius int `yaml:"fov_chunk_radius"`
	EvictionBuffer int `yaml:"eviction_buffer"`
	WorldBoundaryR int `yaml:"world_boundary_r"`

	MaxCachedChunks  int  `yaml:"max_cached_chunks"`
	DedupeGeneration bool `yaml:"dedupe_generation"`
	ResolveWorkers   int  `yaml:"resolve_workers"`
	MaxClientQueue   int  `yaml:"max_client_queue"`
}

func Defaults() Streaming {
	return Streaming{
		ProtocolVersion:  "1.0",
		TickRateHz:       20,
		Seed:             1337,
		ChunkSize:        16,
		FOVChunkRadius:   2,
		EvictionBuffer:   mirror.DefaultEvictionBuffer,
		WorldBoundaryR:   65536,
		MaxCachedChunks:  100_000,
		DedupeGeneration: false,
		ResolveWorkers:   1,
		MaxClientQueue:   256,
	}
}

// Load reads a streaming.yaml. Keys absent from the file keep their defaults;
// an empty path yields the defaults.
func Load(path string) (Streaming, error) {
	s := Defaults()
	if strings.TrimSpace(path) == "" {
		s.Normalize()
		return s, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("streaming.yaml: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("streaming.yaml: %w", err)
	}
	return s, nil
}

func (s *Streaming) Normalize() {
	if s == nil {
		return
	}
	s.ProtocolVersion = strings.TrimSpace(s.ProtocolVersion)
	if s.ProtocolVersion == "" {
		s.ProtocolVersion = "1.0"
	}
	if s.ResolveWorkers <= 0 {
		s.ResolveWorkers = 1
	}
	if s.MaxClientQueue <= 0 {
		s.MaxClientQueue = 256
	}
}

func (s Streaming) Validate() error {
	if s.TickRateHz < 1 {
		return fmt.Errorf("tick_rate_hz must be >= 1")
	}
	if s.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be >= 1")
	}
	if err := s.MirrorParams().Validate(); err != nil {
		return err
	}
	if s.MaxCachedChunks < 1 {
		return fmt.Errorf("max_cached_chunks must be >= 1")
	}
	if s.WorldBoundaryR <= 0 {
		return fmt.Errorf("world_boundary_r must be > 0")
	}
	// Chunk ids are int16 on the wire, including the retention rings around
	// a client standing on the boundary.
	return s.MirrorParams().ValidateExtent(s.WorldBoundaryR, s.ChunkSize)
}

func (s Streaming) MirrorParams() mirror.Params {
	return mirror.Params{FOVChunkRadius: s.FOVChunkRadius, EvictionBuffer: s.EvictionBuffer}
}

func (s Streaming) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRateHz)
}
