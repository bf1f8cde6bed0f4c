package world

import (
	"context"
	"time"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []string
	var pendingMoves []MoveEnvelope

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case mv := <-w.inbox:
			pendingMoves = append(pendingMoves, mv)
		case <-ticker.C:
			w.stepInternal(pendingJoins, pendingLeaves, pendingMoves)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingMoves = pendingMoves[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the world by a single tick using the same ordering
// semantics as Run. It must not be called while Run is active.
func (w *World) StepOnce(joins []JoinRequest, leaves []string, moves []MoveEnvelope) (tick uint64, entry TickLogEntry) {
	tick = w.tick.Load()
	return tick, w.stepInternal(joins, leaves, moves)
}
