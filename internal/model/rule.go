package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleKind distinguishes rules that assign a category from rules that only
// attach labels.
type RuleKind string

// Rule kind constants.
const (
	RuleKindCategory RuleKind = "category"
	RuleKindLabel    RuleKind = "label"
)

// Rule is a deterministic categorization rule. Rules are authored by hand in
// a rule file (or imported by a migration) and never mutated by the engine;
// usage bookkeeping travels separately as UsageDelta records.
type Rule struct {
	ID           string
	Kind         RuleKind
	Match        []string // payee patterns, any may match
	Exclude      []string // payee patterns, any match rejects
	Accounts     []string // account-id allow-list, empty means all
	Category     string   // target category title (category rules)
	Labels       []string
	WhenCategory []string // label rules: apply only for these resolved categories
	AmountMin    *decimal.Decimal
	AmountMax    *decimal.Decimal
	Confidence   int // author-assigned, 0-100
	Priority     int // higher wins, ties break on rule-file order
}

// Validate checks the structural invariants a rule must satisfy before it may
// enter a rule set.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule has no id")
	}
	switch r.Kind {
	case RuleKindCategory:
		if r.Category == "" {
			return fmt.Errorf("rule %q: category rule has no category", r.ID)
		}
		if len(r.Match) == 0 {
			return fmt.Errorf("rule %q: category rule has no payee pattern", r.ID)
		}
	case RuleKindLabel:
		if r.Category != "" {
			return fmt.Errorf("rule %q: label rule must not set a category", r.ID)
		}
		if len(r.Labels) == 0 {
			return fmt.Errorf("rule %q: label rule has no labels", r.ID)
		}
	default:
		return fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
	}
	if r.Category == "" && len(r.Labels) == 0 {
		return fmt.Errorf("rule %q: rule must set a category, labels, or both", r.ID)
	}
	if r.Confidence < 0 || r.Confidence > 100 {
		return fmt.Errorf("rule %q: confidence %d outside [0,100]", r.ID, r.Confidence)
	}
	if r.AmountMin != nil && r.AmountMax != nil && r.AmountMin.GreaterThan(*r.AmountMax) {
		return fmt.Errorf("rule %q: amount min exceeds max", r.ID)
	}
	return nil
}

// RuleUsage holds the persisted performance counters for one rule.
type RuleUsage struct {
	LastUsed   time.Time
	Matched    int64
	Applied    int64
	Overridden int64
}

// UsageDelta records counter increments accrued for one rule during a batch
// run. Deltas are returned to the caller and merged into persisted usage by
// the rule storage layer, so no shared rule state mutates mid-batch.
type UsageDelta struct {
	LastUsed   time.Time
	RuleID     string
	Matched    int64
	Applied    int64
	Overridden int64
}
