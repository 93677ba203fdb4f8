package correlation

import (
	"context"
	"time"
)

// Sweeper periodically closes groups whose windows have ended. It never
// closes a group while an append is in flight on the same key; a contended
// entry is simply picked up on the next tick.
type Sweeper struct {
	engine *Engine
}

// NewSweeper builds a sweeper over the engine's open-group table.
func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{engine: engine}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.engine.cfg().SweepInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.engine.log.InfoContext(ctx, "correlation sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.engine.log.InfoContext(ctx, "correlation sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep closes every open group whose window end has passed and hands each
// one off exactly once.
func (s *Sweeper) Sweep(ctx context.Context) int {
	e := s.engine
	now := e.now()

	e.mu.Lock()
	entries := make(map[string]*entry, len(e.groups))
	for k, v := range e.groups {
		entries[k] = v
	}
	e.mu.Unlock()

	swept := 0
	for key, ent := range entries {
		if !ent.mu.TryLock() {
			continue
		}
		if ent.group == nil || !now.After(ent.group.WindowEnd) {
			ent.mu.Unlock()
			continue
		}
		g := e.detach(key, ent, closeReasonExpired)
		// Hand off before releasing the entry lock, same as the burst path:
		// Shutdown blocks on this lock, so the send can never race the
		// channel close.
		e.handOff(g)
		ent.mu.Unlock()

		e.log.DebugContext(ctx, "correlation group window ended",
			"group_id", g.ID, "key_class", g.KeyClass, "members", len(g.MemberAlertIDs))
		swept++
	}
	return swept
}
