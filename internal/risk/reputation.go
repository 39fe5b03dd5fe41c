package risk

import (
	"time"

	"FundGuard/internal/domain/models"
)

// reputationHorizon is how long a slash keeps weighing on a manager's reputation.
const reputationHorizon = 180 * 24 * time.Hour

// ReputationScore recomputes a manager's 0-100 reputation from its slashing
// history. Every slash subtracts half its fault index, decaying linearly to
// nothing over the horizon. Banned managers score 0.
func ReputationScore(m *models.FundManager, history []models.SlashingEvent, now time.Time) int {
	if m.Banned {
		return 0
	}
	penalty := 0.0
	for _, ev := range history {
		if ev.Input.ManagerID != m.ID {
			continue
		}
		age := now.Sub(ev.ExecutedAt)
		if age < 0 {
			age = 0
		}
		if age >= reputationHorizon {
			continue
		}
		decay := 1 - float64(age)/float64(reputationHorizon)
		penalty += float64(ev.Input.FaultIndex) / 2 * decay
	}
	return ClampScore(MaxScore - penalty)
}
