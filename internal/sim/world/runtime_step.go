package world

import (
	"time"

	"tilestream.ai/internal/protocol"
	"tilestream.ai/internal/sim/world/feature/discovery"
)

func (w *World) stepInternal(joins []JoinRequest, leaves []string, moves []MoveEnvelope) TickLogEntry {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	w.payloads.reset(nowTick)

	entry := TickLogEntry{Tick: nowTick}

	// Leaves first, so moves queued by a departed session become stale below.
	for _, id := range leaves {
		if _, ok := w.clients[id]; ok {
			w.handleLeave(id)
			entry.Leaves = append(entry.Leaves, id)
		}
	}

	updates := make([]discovery.PositionUpdate, 0, len(joins)+len(moves))
	for _, req := range joins {
		c := w.joinClient(req)
		entry.Joins = append(entry.Joins, RecordedJoin{ClientID: c.ID, Name: c.Name})
		// Stream the spawn surroundings without waiting for a first MOVE.
		updates = append(updates, discovery.PositionUpdate{ClientID: c.ID, Loc: c.Pos})
	}

	// Moves in inbox order. Unknown clients pass through and are counted stale.
	for _, mv := range moves {
		c := w.clients[mv.ClientID]
		if c != nil {
			if mv.Seq != 0 && mv.Seq <= c.LastSeq {
				continue
			}
			if !w.inBounds(mv.Pos) {
				entry.Rejected++
				w.sendError(c, protocol.ErrOutOfBounds, "position outside world boundary")
				continue
			}
			c.Pos = mv.Pos
			c.LastSeq = mv.Seq
		}
		updates = append(updates, discovery.PositionUpdate{ClientID: mv.ClientID, Loc: mv.Pos})
	}

	entry.Discovery = w.engine.Step(w.lookupState, updates)
	w.totals.Merge(entry.Discovery)
	entry.CacheSize = w.cache.Len()
	entry.StoreTiles = w.store.Len()

	if w.tickLogger != nil && entry.Active() {
		_ = w.tickLogger.WriteTick(entry)
	}

	w.tick.Add(1)
	w.publishMetrics(time.Since(stepStart), entry.Discovery)
	return entry
}

func (w *World) lookupState(id string) *discovery.PlayerState {
	if c := w.clients[id]; c != nil {
		return c.State
	}
	return nil
}
