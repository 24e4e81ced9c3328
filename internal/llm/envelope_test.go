package llm

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brackendale/ledgerpilot/internal/model"
)

func TestNewCategorizationEnvelope(t *testing.T) {
	txns := []model.Transaction{
		{
			ID:     "t1",
			Payee:  "COLES 1234",
			Amount: decimal.RequireFromString("-42.5"),
			Date:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:     "t2",
			Payee:  "QANTAS AIRWAYS",
			Amount: decimal.RequireFromString("-1500"),
			Date:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		},
	}
	categories := []model.Category{
		{ID: "c1", Title: "Groceries", Parent: "Food"},
		{ID: "c2", Title: "Travel"},
	}

	env := NewCategorizationEnvelope(txns, categories)

	// Slot order defines the 1-based index mapping.
	require.Equal(t, []string{"t1", "t2"}, env.TransactionIDs)

	assert.Contains(t, env.Prompt, "- Food > Groceries\n")
	assert.Contains(t, env.Prompt, "- Travel\n")
	assert.Contains(t, env.Prompt, "1. Payee: COLES 1234 | Amount: $-42.50 | Date: 2026-03-14")
	assert.Contains(t, env.Prompt, "2. Payee: QANTAS AIRWAYS | Amount: $-1500.00 | Date: 2026-03-15")
}

func TestNewValidationEnvelope(t *testing.T) {
	items := []ValidationItem{
		{
			Transaction: model.Transaction{
				ID:     "t1",
				Payee:  "CAFE CORNER",
				Amount: decimal.RequireFromString("-8.5"),
				Date:   time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
			},
			RuleID:     "dining",
			Suggested:  "Dining",
			Confidence: 75,
		},
	}

	env := NewValidationEnvelope(items)

	require.Len(t, env.Items, 1)
	assert.Contains(t, env.Prompt, "1. Payee: CAFE CORNER | Amount: $-8.50 | Date: 2026-03-14")
	assert.Contains(t, env.Prompt, "Suggested Category: Dining (rule confidence 75)")
	assert.Contains(t, env.Prompt, "CONFIRM")
	assert.Contains(t, env.Prompt, "REJECT")
}
