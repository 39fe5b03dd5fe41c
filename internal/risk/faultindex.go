// Package risk holds the pure fault index and slashing calculations. Nothing in
// here performs I/O; identical inputs always produce identical outputs.
package risk

import (
	"fmt"
	"math"

	"FundGuard/internal/domain/models"
)

// MaxScore is the upper bound of every component and of the fault index.
const MaxScore = 100

// ComputeFI is the weighted fault index of a single domain:
// floor((L*wL + B*wB + D*wD + I*wI) / 100). Weights must sum to 100 and every
// component must be in [0,100], which keeps the result in [0,100].
func ComputeFI(c models.ScoreComponents, w models.Weights) (int, error) {
	if w.L < 0 || w.B < 0 || w.D < 0 || w.I < 0 {
		return 0, &models.PreconditionError{Field: "weights", Reason: "negative weight"}
	}
	if sum := w.Sum(); sum != 100 {
		return 0, &models.PreconditionError{Field: "weights", Reason: fmt.Sprintf("weights sum to %d, want 100", sum)}
	}
	for _, comp := range []struct {
		name  string
		value int
	}{{"L", c.L}, {"B", c.B}, {"D", c.D}, {"I", c.I}} {
		if comp.value < 0 || comp.value > MaxScore {
			return 0, &models.PreconditionError{Field: comp.name, Reason: fmt.Sprintf("component %d outside [0,100]", comp.value)}
		}
	}
	return (c.L*w.L + c.B*w.B + c.D*w.D + c.I*w.I) / 100, nil
}

// CombineDomainFI is the cross-domain fault index: the maximum of the domain
// indices. It is deliberately not a weighted blend.
func CombineDomainFI(verdicts []models.DomainVerdict) int {
	combined := 0
	for _, v := range verdicts {
		if v.FaultIndex > combined {
			combined = v.FaultIndex
		}
	}
	return combined
}

// ClampScore truncates a raw score into [0,100].
func ClampScore(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= MaxScore {
		return MaxScore
	}
	return int(v)
}

type Severity int

const (
	SeverityClean Severity = iota
	SeverityWarning
	SeveritySlashable
	SeverityBannable
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeveritySlashable:
		return "slashable"
	case SeverityBannable:
		return "bannable"
	default:
		return "clean"
	}
}

// Classify maps a fault index onto the bands of the given config.
func Classify(fi int, cfg models.RiskConfig) Severity {
	switch {
	case fi >= cfg.BanThresholdFI:
		return SeverityBannable
	case fi >= cfg.MinSlashingFI:
		return SeveritySlashable
	case fi >= cfg.WarningFI && cfg.WarningFI > 0:
		return SeverityWarning
	default:
		return SeverityClean
	}
}
