package discovery

import "tilestream.ai/internal/sim/world/terrain"

type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseDiscovering
)

// PlayerState is the per-connection discovery bookkeeping. It is owned by one
// session and only mutated by the engine acting for that session.
type PlayerState struct {
	ClientID string
	// Seen holds every chunk already transmitted and not yet mirror-evicted.
	Seen  terrain.ChunkSet
	Phase Phase

	last    terrain.ChunkID
	hasLast bool
}

func NewPlayerState(clientID string) *PlayerState {
	return &PlayerState{ClientID: clientID, Seen: terrain.ChunkSet{}}
}

// LastChunk is the chunk of the last processed position update.
func (s *PlayerState) LastChunk() (terrain.ChunkID, bool) {
	return s.last, s.hasLast
}

func (s *PlayerState) setLast(id terrain.ChunkID) {
	s.last = id
	s.hasLast = true
}
