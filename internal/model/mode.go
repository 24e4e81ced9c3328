package model

import "fmt"

// IntelligenceMode names a confidence-threshold policy for how eagerly rule
// matches are applied without user involvement.
type IntelligenceMode string

// Intelligence mode constants.
const (
	ModeConservative IntelligenceMode = "conservative"
	ModeSmart        IntelligenceMode = "smart"
	ModeAggressive   IntelligenceMode = "aggressive"
)

// ParseIntelligenceMode converts a configuration string into a mode.
func ParseIntelligenceMode(s string) (IntelligenceMode, error) {
	switch IntelligenceMode(s) {
	case ModeConservative, ModeSmart, ModeAggressive:
		return IntelligenceMode(s), nil
	}
	return "", fmt.Errorf("unknown intelligence mode: %q", s)
}
