package rules

import (
	"errors"
	"fmt"
	"sort"

	"github.com/brackendale/ledgerpilot/internal/common"
	"github.com/brackendale/ledgerpilot/internal/model"
)

// Set is an ordered collection of rules with pre-compiled patterns.
// Resolution order is (priority desc, file order asc), which is stable
// across reloads of the same file.
type Set struct {
	compiled []compiledRule
}

// NewSet validates and compiles the given rules, preserving their order.
// Every malformed rule is reported; none are silently dropped.
func NewSet(ruleList []model.Rule) (*Set, error) {
	var errs []error
	compiled := make([]compiledRule, 0, len(ruleList))

	for i, r := range ruleList {
		if err := r.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: %v", common.ErrMalformedRule, err))
			continue
		}

		match, err := compilePatterns(r.Match)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: rule %q: bad payee pattern: %v", common.ErrMalformedRule, r.ID, err))
			continue
		}
		exclude, err := compilePatterns(r.Exclude)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: rule %q: bad exclusion pattern: %v", common.ErrMalformedRule, r.ID, err))
			continue
		}

		compiled = append(compiled, compiledRule{
			rule:    r,
			match:   match,
			exclude: exclude,
			order:   i,
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Set{compiled: compiled}, nil
}

// Len returns the number of rules in the set.
func (s *Set) Len() int {
	return len(s.compiled)
}

// Rules returns the rules in file order.
func (s *Set) Rules() []model.Rule {
	out := make([]model.Rule, len(s.compiled))
	for i, c := range s.compiled {
		out[i] = c.rule
	}
	return out
}

// FindMatching returns all rules whose predicates pass for the transaction,
// sorted by priority descending with file order breaking ties.
func (s *Set) FindMatching(txn model.Transaction) []model.Rule {
	matched := s.findCompiled(txn)
	out := make([]model.Rule, len(matched))
	for i, c := range matched {
		out[i] = c.rule
	}
	return out
}

// FindBestCategory returns the highest-ranked matching category rule, or
// false when no category rule matches.
func (s *Set) FindBestCategory(txn model.Transaction) (model.Rule, bool) {
	for _, c := range s.findCompiled(txn) {
		if c.rule.Kind == model.RuleKindCategory {
			return c.rule, true
		}
	}
	return model.Rule{}, false
}

// LabelsFor collects labels for a transaction given its resolved category
// title (empty for uncategorized). The result is the union of labels from
// every matching label rule whose category condition passes, de-duplicated
// and sorted. It also reports the ids of the label rules that contributed,
// for usage bookkeeping.
func (s *Set) LabelsFor(txn model.Transaction, category string) ([]string, []string) {
	seen := make(map[string]struct{})
	var labels []string
	var ruleIDs []string

	for i := range s.compiled {
		c := &s.compiled[i]
		if c.rule.Kind != model.RuleKindLabel {
			continue
		}
		if !c.matches(txn) || !c.appliesToCategory(category) {
			continue
		}
		ruleIDs = append(ruleIDs, c.rule.ID)
		for _, l := range c.rule.Labels {
			if _, ok := seen[l]; !ok {
				seen[l] = struct{}{}
				labels = append(labels, l)
			}
		}
	}

	sort.Strings(labels)
	return labels, ruleIDs
}

// MergeLabels folds extra labels (typically the winning category rule's own
// label set) into an already collected list, keeping it de-duplicated and
// sorted.
func MergeLabels(labels []string, extra []string) []string {
	seen := make(map[string]struct{}, len(labels)+len(extra))
	merged := make([]string, 0, len(labels)+len(extra))
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			merged = append(merged, l)
		}
	}
	for _, l := range extra {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			merged = append(merged, l)
		}
	}
	sort.Strings(merged)
	return merged
}

// findCompiled returns matching compiled rules in resolution order.
func (s *Set) findCompiled(txn model.Transaction) []*compiledRule {
	var matched []*compiledRule
	for i := range s.compiled {
		if s.compiled[i].matches(txn) {
			matched = append(matched, &s.compiled[i])
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].rule.Priority != matched[j].rule.Priority {
			return matched[i].rule.Priority > matched[j].rule.Priority
		}
		return matched[i].order < matched[j].order
	})

	return matched
}
