package rules

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/brackendale/ledgerpilot/internal/model"
)

// ruleFile is the on-disk rule document. Rule order in the file is
// significant: it breaks priority ties, so round-tripping preserves it.
type ruleFile struct {
	Rules []ruleYAML `yaml:"rules"`
}

type ruleYAML struct {
	ID           string      `yaml:"id"`
	Kind         string      `yaml:"kind"`
	Match        []string    `yaml:"match,omitempty"`
	Exclude      []string    `yaml:"exclude,omitempty"`
	Accounts     []string    `yaml:"accounts,omitempty"`
	Amount       *amountYAML `yaml:"amount,omitempty"`
	Category     string      `yaml:"category,omitempty"`
	Labels       []string    `yaml:"labels,omitempty"`
	WhenCategory []string    `yaml:"when_category,omitempty"`
	Confidence   int         `yaml:"confidence"`
	Priority     int         `yaml:"priority"`
}

type amountYAML struct {
	Min *decimal.Decimal `yaml:"min,omitempty"`
	Max *decimal.Decimal `yaml:"max,omitempty"`
}

// Load reads a rule file, validates every rule, and compiles the set.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}

	ruleList := make([]model.Rule, 0, len(doc.Rules))
	for _, r := range doc.Rules {
		ruleList = append(ruleList, r.toModel())
	}

	set, err := NewSet(ruleList)
	if err != nil {
		return nil, fmt.Errorf("rule file %s: %w", path, err)
	}
	return set, nil
}

// Save writes the set back in file order.
func Save(path string, set *Set) error {
	doc := ruleFile{Rules: make([]ruleYAML, 0, set.Len())}
	for _, r := range set.Rules() {
		doc.Rules = append(doc.Rules, fromModel(r))
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write rule file: %w", err)
	}
	return nil
}

func (r ruleYAML) toModel() model.Rule {
	rule := model.Rule{
		ID:           r.ID,
		Kind:         model.RuleKind(r.Kind),
		Match:        r.Match,
		Exclude:      r.Exclude,
		Accounts:     r.Accounts,
		Category:     r.Category,
		Labels:       r.Labels,
		WhenCategory: r.WhenCategory,
		Confidence:   r.Confidence,
		Priority:     r.Priority,
	}
	if r.Amount != nil {
		rule.AmountMin = r.Amount.Min
		rule.AmountMax = r.Amount.Max
	}
	return rule
}

func fromModel(r model.Rule) ruleYAML {
	y := ruleYAML{
		ID:           r.ID,
		Kind:         string(r.Kind),
		Match:        r.Match,
		Exclude:      r.Exclude,
		Accounts:     r.Accounts,
		Category:     r.Category,
		Labels:       r.Labels,
		WhenCategory: r.WhenCategory,
		Confidence:   r.Confidence,
		Priority:     r.Priority,
	}
	if r.AmountMin != nil || r.AmountMax != nil {
		y.Amount = &amountYAML{Min: r.AmountMin, Max: r.AmountMax}
	}
	return y
}
