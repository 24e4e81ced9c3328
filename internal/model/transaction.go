// Package model defines the core domain types for the categorization engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryRef identifies a category as the ledger platform knows it.
type CategoryRef struct {
	ID    string
	Title string
}

// Transaction represents a single transaction fetched from the ledger
// platform. The engine only reads it; results are applied by the caller.
type Transaction struct {
	Date      time.Time
	ID        string
	Payee     string
	AccountID string
	Category  *CategoryRef
	Labels    []string
	Amount    decimal.Decimal
}

// Categorized reports whether the platform already has a category assigned.
func (t Transaction) Categorized() bool {
	return t.Category != nil
}

// AbsAmount returns the unsigned transaction amount. Rule amount ranges are
// expressed against absolute values so a single rule covers debits and
// credits.
func (t Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}
