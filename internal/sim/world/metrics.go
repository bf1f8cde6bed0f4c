package world

import (
	"sort"
	"time"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/feature/discovery"
	"tilestream.ai/internal/sim/world/terrain/cache"
)

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Clients    int         `json:"clients"`
	JoinTotal  uint64      `json:"join_total"`
	LeaveTotal uint64      `json:"leave_total"`
	SendDrops  uint64      `json:"send_drops_total"`
	Cache      cache.Stats `json:"cache"`
	StoreTiles int         `json:"store_tiles"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS   float64             `json:"step_ms"`
	LastStep discovery.StepStats `json:"last_step"`
	Totals   discovery.StepStats `json:"totals"`

	StreamParams protocol.StreamParams `json:"stream_params"`
	Sessions     []SessionMetrics      `json:"sessions,omitempty"`
}

type QueueDepths struct {
	Inbox int `json:"inbox"`
	Join  int `json:"join"`
	Leave int `json:"leave"`
}

type SessionMetrics struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
	Pos      [2]int `json:"pos"`
	Chunk    [2]int `json:"chunk"`
	Seen     int    `json:"seen_chunks"`
	Queue    int    `json:"queue"`
}

func (w *World) publishMetrics(stepDur time.Duration, last discovery.StepStats) {
	sessions := make([]SessionMetrics, 0, len(w.clients))
	for _, c := range w.clients {
		id := w.grid.LocToChunk(c.Pos)
		sessions = append(sessions, SessionMetrics{
			ClientID: c.ID,
			Name:     c.Name,
			Pos:      [2]int{c.Pos.Q, c.Pos.R},
			Chunk:    [2]int{int(id.Q), int(id.R)},
			Seen:     len(c.State.Seen),
			Queue:    len(c.Out),
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ClientID < sessions[j].ClientID })

	w.metrics.Store(WorldMetrics{
		Tick:       w.tick.Load(),
		Clients:    len(w.clients),
		JoinTotal:  w.joinTotal,
		LeaveTotal: w.leaveTotal,
		SendDrops:  w.sendDrops.Load(),
		Cache:      w.cache.Stats(),
		StoreTiles: w.store.Len(),
		QueueDepths: QueueDepths{
			Inbox: len(w.inbox),
			Join:  len(w.join),
			Leave: len(w.leave),
		},
		StepMS:       float64(stepDur.Microseconds()) / 1000.0,
		LastStep:     last,
		Totals:       w.totals,
		StreamParams: w.StreamParams(),
		Sessions:     sessions,
	})
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}
