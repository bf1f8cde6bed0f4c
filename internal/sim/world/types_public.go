package world

import (
	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/feature/discovery"
	"tilestream.ai/internal/sim/world/terrain"
)

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

// MoveEnvelope carries one MOVE from a session into the world loop.
type MoveEnvelope struct {
	ClientID string
	Seq      uint64
	Pos      terrain.Loc
}

type RecordedJoin struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

type TickLogger interface {
	WriteTick(entry TickLogEntry) error
}

// TickLogEntry summarizes one tick that had discovery or session activity.
type TickLogEntry struct {
	Tick       uint64              `json:"tick"`
	Joins      []RecordedJoin      `json:"joins,omitempty"`
	Leaves     []string            `json:"leaves,omitempty"`
	Discovery  discovery.StepStats `json:"discovery"`
	Rejected   int                 `json:"rejected_moves,omitempty"`
	CacheSize  int                 `json:"cache_size"`
	StoreTiles int                 `json:"store_tiles"`
}

// Active reports whether the tick is worth persisting.
func (e TickLogEntry) Active() bool {
	return len(e.Joins) > 0 || len(e.Leaves) > 0 || e.Discovery.Crossings > 0 || e.Rejected > 0
}
