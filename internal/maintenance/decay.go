package maintenance

import (
	"context"
	"time"

	"github.com/ajitpratap0/openclaw-brain/internal/metrics"
	"github.com/ajitpratap0/openclaw-brain/internal/store"
)

// Decay lowers by DecayRate, down to DecayFloor, the importance of every live memory
// not accessed within DecayAfter. It never raises importance and never touches a
// record accessed since the cutoff, even one accessed while the pass runs.
func (e *Engine) Decay(ctx context.Context, dryRun bool) (*PassReport, error) {
	rep := &PassReport{Pass: "decay", DryRun: dryRun}
	if e.opts.DecayRate <= 0 {
		return rep, nil
	}
	cutoff := time.Now().UTC().Add(-e.opts.DecayAfter)

	unlock, err := e.lock(ctx, "decay")
	if err != nil {
		return nil, err
	}
	defer unlock()

	floor := e.opts.DecayFloor + 1
	candidates, err := e.store.ListMemories(ctx, store.ListFilter{
		LastAccessedBefore: cutoff,
		MinImportance:      &floor,
	})
	if err != nil {
		return nil, err
	}
	wctx := context.WithoutCancel(ctx)

	for i := range candidates {
		if ctx.Err() != nil {
			rep.Stopped = true
			break
		}
		m := &candidates[i]
		rep.Examined++
		next := max(e.opts.DecayFloor, m.Importance-e.opts.DecayRate)
		if next >= m.Importance {
			continue
		}
		if dryRun {
			e.logger.Info("decay: would lower importance", "id", m.ID, "from", m.Importance, "to", next)
			rep.Changed++
			continue
		}
		ok, err := e.store.ApplyDecay(wctx, m.ID, m.Version, cutoff, next)
		if err != nil {
			e.logger.Error("decay: update failed", "id", m.ID, "error", err)
			rep.skip(m.ID, err.Error())
			continue
		}
		if !ok {
			rep.skip(m.ID, ReasonModified)
			continue
		}
		e.logger.Debug("decay: lowered importance", "id", m.ID, "from", m.Importance, "to", next)
		rep.Changed++
	}
	if !dryRun {
		metrics.Add(metrics.DecayedTotal, rep.Changed)
	}
	e.logger.Info("decay complete", "examined", rep.Examined, "decayed", rep.Changed, "skipped", len(rep.Skipped))
	return rep, nil
}
