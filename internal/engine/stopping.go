package engine

import (
	"math"
	"time"

	"github.com/adaptest/backend/internal/models"
)

// StopDecision is the stopping rule's verdict after a recorded response.
type StopDecision struct {
	Stop   bool
	Reason models.StopReason
}

// evaluateStop applies the completion criteria in precedence order: item and
// time caps fire regardless of precision; the SEM threshold only counts once
// the minimum item count is met. Pool exhaustion and external aborts are
// handled by the orchestrator, not here.
func (e *Engine) evaluateStop(itemCount int, sem float64, elapsed time.Duration) StopDecision {
	if itemCount >= e.cfg.MaxItems {
		return StopDecision{Stop: true, Reason: models.StopReasonMaxItems}
	}
	if e.cfg.MaxDuration > 0 && elapsed >= e.cfg.MaxDuration {
		return StopDecision{Stop: true, Reason: models.StopReasonTimeLimit}
	}
	if itemCount >= e.cfg.MinItems && !math.IsInf(sem, 1) && !math.IsNaN(sem) && sem <= e.cfg.TargetSEM {
		return StopDecision{Stop: true, Reason: models.StopReasonSEMThreshold}
	}
	return StopDecision{Stop: false, Reason: models.StopReasonNone}
}
