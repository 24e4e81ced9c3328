// Package rules evaluates deterministic categorization and label rules
// against transactions.
package rules

import (
	"regexp"
	"slices"

	"github.com/brackendale/ledgerpilot/internal/model"
)

// compiledRule pairs a rule with its pre-compiled payee patterns.
type compiledRule struct {
	rule    model.Rule
	match   []*regexp.Regexp
	exclude []*regexp.Regexp
	order   int // position in the rule file, breaks priority ties
}

// matches evaluates the rule predicate against a transaction. Checks run in
// a fixed order and short-circuit: payee patterns, exclusions, amount range,
// account allow-list. The predicate is pure.
func (c *compiledRule) matches(txn model.Transaction) bool {
	// An empty pattern list is an always-true payee check; the loader only
	// permits that for label rules.
	if len(c.match) > 0 {
		any := false
		for _, re := range c.match {
			if re.MatchString(txn.Payee) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}

	for _, re := range c.exclude {
		if re.MatchString(txn.Payee) {
			return false
		}
	}

	if c.rule.AmountMin != nil || c.rule.AmountMax != nil {
		amount := txn.AbsAmount()
		if c.rule.AmountMin != nil && amount.LessThan(*c.rule.AmountMin) {
			return false
		}
		if c.rule.AmountMax != nil && amount.GreaterThan(*c.rule.AmountMax) {
			return false
		}
	}

	if len(c.rule.Accounts) > 0 && !slices.Contains(c.rule.Accounts, txn.AccountID) {
		return false
	}

	return true
}

// appliesToCategory checks a label rule's category condition against the
// resolved category title. Rules without a condition apply to any category,
// including none.
func (c *compiledRule) appliesToCategory(category string) bool {
	if len(c.rule.WhenCategory) == 0 {
		return true
	}
	return slices.Contains(c.rule.WhenCategory, category)
}

// compilePatterns compiles payee patterns case-insensitively.
func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
