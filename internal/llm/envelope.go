package llm

import (
	"fmt"
	"strings"

	"github.com/brackendale/ledgerpilot/internal/model"
)

// Envelope is a categorization request for a batch of transactions. The
// order of TransactionIDs defines the mapping from the delegate's 1-based
// sequential indices back to real identifiers.
type Envelope struct {
	Prompt         string
	TransactionIDs []string
}

// ValidationItem carries one rule suggestion submitted for delegate review.
type ValidationItem struct {
	Transaction model.Transaction
	RuleID      string
	Suggested   string
	Confidence  int
}

// ValidationEnvelope is a validation request. Items keep their submission
// order; the original suggestion and confidence are retained so replies can
// be reinterpreted and omissions defaulted.
type ValidationEnvelope struct {
	Prompt string
	Items  []ValidationItem
}

// NewCategorizationEnvelope builds the prompt for transactions with no rule
// match. Categories render in "Parent > Child" form when a parent exists.
func NewCategorizationEnvelope(txns []model.Transaction, categories []model.Category) Envelope {
	var catList strings.Builder
	for _, cat := range categories {
		fmt.Fprintf(&catList, "- %s\n", cat.Qualified())
	}

	var txnList strings.Builder
	ids := make([]string, len(txns))
	for i, txn := range txns {
		ids[i] = txn.ID
		fmt.Fprintf(&txnList, "%d. Payee: %s | Amount: $%s | Date: %s\n",
			i+1, txn.Payee, txn.Amount.StringFixed(2), txn.Date.Format("2006-01-02"))
	}

	prompt := fmt.Sprintf(`Categorize each numbered financial transaction into the most appropriate category from the list below.

Base the category purely on what each transaction IS, not assumptions about its purpose.

Available Categories:
%s
Transactions:
%s
Respond with one entry per transaction, in order, using either JSON:
{"results":[{"index":1,"category":"<category name>","confidence":<0-100>}, ...]}

or numbered blocks:
1. CATEGORY: <category name>
   CONFIDENCE: <0-100>

Use the exact category names given. If no category fits a transaction, use an empty category with confidence 0.`,
		catList.String(),
		txnList.String())

	return Envelope{
		Prompt:         prompt,
		TransactionIDs: ids,
	}
}

// NewValidationEnvelope builds the prompt asking the delegate to confirm or
// reject pending rule suggestions.
func NewValidationEnvelope(items []ValidationItem) ValidationEnvelope {
	var itemList strings.Builder
	for i, item := range items {
		txn := item.Transaction
		fmt.Fprintf(&itemList, "%d. Payee: %s | Amount: $%s | Date: %s\n   Suggested Category: %s (rule confidence %d)\n",
			i+1, txn.Payee, txn.Amount.StringFixed(2), txn.Date.Format("2006-01-02"),
			item.Suggested, item.Confidence)
	}

	prompt := fmt.Sprintf(`Review each suggested categorization below and decide whether it is correct.

Suggestions:
%s
Respond with one entry per suggestion, in order, using either JSON:
{"results":[{"index":1,"verdict":"CONFIRM","confidence":<0-100>}, {"index":2,"verdict":"REJECT","confidence":<0-100>,"category":"<replacement category>"}, ...]}

or numbered blocks:
1. VERDICT: CONFIRM
   CONFIDENCE: <0-100>
2. VERDICT: REJECT
   CONFIDENCE: <0-100>
   CATEGORY: <replacement category>

CONFIRM keeps the suggested category with your adjusted confidence. REJECT must include a replacement category.`,
		itemList.String())

	return ValidationEnvelope{
		Prompt: prompt,
		Items:  items,
	}
}

// ClampConfidence bounds a delegate-supplied confidence to [0,100].
func ClampConfidence(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
