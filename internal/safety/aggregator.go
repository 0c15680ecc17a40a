package safety

import (
	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
)

// Aggregate combines findings into an overall level.
//
// Rules (applied in order):
//  1. escalated (violation counter at its maximum) → UNSAFE
//  2. no findings → SAFE
//  3. highest finding risk is HIGH → UNSAFE
//  4. otherwise → WARNING
func Aggregate(findings []Finding, escalated bool) (Level, risk.Level) {
	highest := risk.Unspecified
	for _, f := range findings {
		highest = risk.Max(highest, f.Risk)
	}

	switch {
	case escalated:
		return LevelUnsafe, risk.Max(highest, risk.High)
	case len(findings) == 0:
		return LevelSafe, risk.Unspecified
	case highest == risk.High:
		return LevelUnsafe, highest
	default:
		return LevelWarning, highest
	}
}
