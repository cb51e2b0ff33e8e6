// Package risk derives the urgency tier of a task deadline.
package risk

import (
	"time"

	"github.com/PabloGalante/farum-tasks/internal/domain"
)

// AmberWindow is how close a deadline must be to count as at risk.
const AmberWindow = 3 * 24 * time.Hour

// Classify maps a deadline to a tier relative to now. A nil deadline is green.
func Classify(deadline *time.Time, now time.Time) domain.RiskTier {
	if deadline == nil {
		return domain.RiskGreen
	}
	if deadline.Before(now) {
		return domain.RiskRed
	}
	if deadline.Sub(now) <= AmberWindow {
		return domain.RiskAmber
	}
	return domain.RiskGreen
}

// ClassifyTask is Classify over a task's deadline.
func ClassifyTask(t domain.Task, now time.Time) domain.RiskTier {
	return Classify(t.Deadline, now)
}
