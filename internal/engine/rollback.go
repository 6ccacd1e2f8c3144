package engine

import (
	"context"
	"slices"
)

// RollbackRules undoes every rule applied by the latest batch, most
// recently completed first, and clears the list. Rules with nothing to undo
// are skipped. A failed rollback is logged and counted and does not stop
// the sweep, so the return value is always true.
func (e *Engine) RollbackRules(ctx context.Context) bool {
	e.mu.Lock()
	applied := e.applied
	e.applied = nil
	e.mu.Unlock()

	if len(applied) == 0 {
		return true
	}

	failed := 0
	for _, r := range slices.Backward(applied) {
		log := e.logger.WithRule(r.Name())
		if !r.Rollbackable() {
			log.Debug("rule not rollbackable, skipping", "state", r.State().String())
			e.metrics.rollback(outcomeSkipped)
			continue
		}
		if err := r.Rollback(ctx); err != nil {
			failed++
			log.Warn("rule rollback failed", "error", err.Error())
			e.metrics.rollback(outcomeFailed)
			continue
		}
		log.Debug("rule rolled back")
		e.metrics.rollback("rolled_back")
	}

	e.logger.Info("rollback finished", "rules", len(applied), "failed", failed)
	return true
}
