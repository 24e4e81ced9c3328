// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
)

// Common application errors.
var (
	// Rule loading errors.
	ErrMalformedRule = errors.New("malformed rule")

	// Ledger platform errors.
	ErrLedgerConnection = errors.New("ledger platform connection failed")
	ErrNotFound         = errors.New("not found")

	// Engine errors.
	ErrInvariant = errors.New("invariant violation")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
)

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrLedgerConnection) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
