package model

// Source tags where a transaction's resolved categorization came from.
type Source string

// Source constants.
const (
	SourceRule     Source = "rule"
	SourceLLM      Source = "llm"
	SourceRuleLLM  Source = "rule+llm"
	SourceConflict Source = "conflict"
	SourceNone     Source = "none"
)

// Result is the per-transaction outcome of a categorization run. The engine
// never writes it back to the platform itself; the caller applies it.
//
// When NeedsReview is set the existing category is preserved in Category and
// the disagreeing rule suggestion is recorded in SuggestedCategory. The
// engine never silently overwrites a user-set category it disagrees with.
type Result struct {
	TransactionID     string
	Category          *string // resolved category title, nil when unresolved
	Labels            []string
	Confidence        *int // nil for label-only and no-match outcomes
	Source            Source
	SuggestedCategory string
	NeedsReview       bool
}

// Pending is a rule suggestion that fell into the ask-user confidence band
// and was not auto-resolved. The caller decides how (and whether) to prompt;
// unanswered suggestions simply reappear on the next run.
type Pending struct {
	TransactionID string
	Payee         string
	RuleID        string
	Category      string
	Confidence    int
}
