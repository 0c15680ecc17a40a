package tools

import "github.com/triage-ai/palisade/services/orchestrator/internal/risk"

// ClassifyRisk computes a tool's static risk at registration time:
// HIGH for system, data-store or file-write access, MEDIUM for network or
// file read access, LOW otherwise. A higher declared risk wins.
func ClassifyRisk(d Descriptor) risk.Level {
	derived := risk.Low
	for _, a := range d.Access {
		switch a {
		case AccessSystem, AccessDatabase, AccessFileWrite:
			derived = risk.Max(derived, risk.High)
		case AccessNetwork, AccessFile:
			derived = risk.Max(derived, risk.Medium)
		}
	}
	return risk.Max(derived, d.Risk)
}
