package safety

import (
	"testing"

	"github.com/triage-ai/palisade/services/orchestrator/internal/risk"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name      string
		findings  []Finding
		escalated bool
		wantLevel Level
		wantRisk  risk.Level
	}{
		{"no findings", nil, false, LevelSafe, risk.Unspecified},
		{"low only", []Finding{{Risk: risk.Low}}, false, LevelWarning, risk.Low},
		{"medium", []Finding{{Risk: risk.Low}, {Risk: risk.Medium}}, false, LevelWarning, risk.Medium},
		{"high", []Finding{{Risk: risk.Medium}, {Risk: risk.High}}, false, LevelUnsafe, risk.High},
		{"escalated clean", nil, true, LevelUnsafe, risk.High},
		{"escalated medium", []Finding{{Risk: risk.Medium}}, true, LevelUnsafe, risk.High},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, highest := Aggregate(tt.findings, tt.escalated)
			if level != tt.wantLevel {
				t.Errorf("level = %v, want %v", level, tt.wantLevel)
			}
			if highest != tt.wantRisk {
				t.Errorf("risk = %v, want %v", highest, tt.wantRisk)
			}
		})
	}
}
