// Package engine drives transaction batches through rule evaluation,
// coexistence resolution, and the LLM delegate protocol.
package engine

import (
	"github.com/brackendale/ledgerpilot/internal/model"
)

// Action is the policy decision for one rule match.
type Action int

// Policy actions.
const (
	ActionAutoApply Action = iota
	ActionAskUser
	ActionSkip
)

func (a Action) String() string {
	switch a {
	case ActionAutoApply:
		return "auto-apply"
	case ActionAskUser:
		return "ask-user"
	case ActionSkip:
		return "skip"
	}
	return "unknown"
}

// thresholds holds the inclusive lower bounds of the auto-apply and ask-user
// confidence bands for one intelligence mode.
type thresholds struct {
	autoApplyAt int
	askUserAt   int
}

// modeThresholds maps each mode to its bands. Conservative sets the
// auto-apply bound above any reachable confidence so every match routes to
// ask-user.
func modeThresholds(mode model.IntelligenceMode) thresholds {
	switch mode {
	case model.ModeSmart:
		return thresholds{autoApplyAt: 90, askUserAt: 70}
	case model.ModeAggressive:
		return thresholds{autoApplyAt: 80, askUserAt: 50}
	default: // conservative
		return thresholds{autoApplyAt: 101, askUserAt: 0}
	}
}

// Decide maps a rule confidence to a policy action for the given mode. The
// function is total over [0,100] and pure.
func Decide(mode model.IntelligenceMode, confidence int) Action {
	t := modeThresholds(mode)
	switch {
	case confidence >= t.autoApplyAt:
		return ActionAutoApply
	case confidence >= t.askUserAt:
		return ActionAskUser
	default:
		return ActionSkip
	}
}

// delegateBatchSize returns how many transactions go into one delegate
// sub-batch for the given mode.
func delegateBatchSize(mode model.IntelligenceMode) int {
	switch mode {
	case model.ModeSmart:
		return 50
	case model.ModeAggressive:
		return 100
	default: // conservative
		return 20
	}
}
