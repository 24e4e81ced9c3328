package engine

import (
	"github.com/brackendale/ledgerpilot/internal/model"
)

// coexistenceOutcome classifies how a rule suggestion relates to a
// transaction's pre-existing category.
type coexistenceOutcome int

const (
	// outcomeApplyNew: no existing category, rule suggests one.
	outcomeApplyNew coexistenceOutcome = iota
	// outcomeNoSuggestion: no existing category and no rule suggestion;
	// the transaction is a candidate for delegate categorization.
	outcomeNoSuggestion
	// outcomeLabelsOnly: existing category, no rule suggestion; keep the
	// category, labels may still apply.
	outcomeLabelsOnly
	// outcomeAgree: rule suggestion equals the existing category exactly.
	outcomeAgree
	// outcomeConflict: rule suggestion differs from the existing category.
	// The existing category is always kept and the disagreement surfaced.
	outcomeConflict
)

// resolveCoexistence evaluates the decision table in its fixed order. The
// comparison in the agree case is a case-sensitive exact title match, and it
// must run before the conflict case. The function is pure and idempotent:
// the same inputs always produce the same outcome.
func resolveCoexistence(existing *model.CategoryRef, suggested string) coexistenceOutcome {
	switch {
	case existing == nil && suggested != "":
		return outcomeApplyNew
	case existing == nil:
		return outcomeNoSuggestion
	case suggested == "":
		return outcomeLabelsOnly
	case suggested == existing.Title:
		return outcomeAgree
	default:
		return outcomeConflict
	}
}
