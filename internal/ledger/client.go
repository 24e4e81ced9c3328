// Package ledger is the HTTP boundary to the ledger platform. It fetches
// transactions and the category catalog and applies categorization results;
// the engine itself never performs network I/O.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/brackendale/ledgerpilot/internal/common"
	"github.com/brackendale/ledgerpilot/internal/model"
)

// Config configures the platform client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the ledger platform REST API.
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	token      string
	retryOpts  common.RetryOptions
}

// New creates a platform client.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: ledger base URL is required", common.ErrMissingConfig)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("%w: ledger API token is required", common.ErrMissingConfig)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout},
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
		},
	}, nil
}

// TransactionOptions filters a transaction fetch.
type TransactionOptions struct {
	Since         *time.Time
	Uncategorized bool
}

// wire types

type transactionJSON struct {
	ID        string        `json:"id"`
	Date      string        `json:"date"`
	Payee     string        `json:"payee"`
	Amount    string        `json:"amount"`
	AccountID string        `json:"account_id"`
	Labels    []string      `json:"labels"`
	Category  *categoryJSON `json:"category"`
}

type categoryJSON struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Parent string `json:"parent_title"`
}

// Transactions fetches transactions from the platform.
func (c *Client) Transactions(ctx context.Context, opts TransactionOptions) ([]model.Transaction, error) {
	query := url.Values{}
	if opts.Since != nil {
		query.Set("start_date", opts.Since.Format("2006-01-02"))
	}
	if opts.Uncategorized {
		query.Set("uncategorized", "true")
	}

	var payload struct {
		Transactions []transactionJSON `json:"transactions"`
	}
	if err := c.get(ctx, "/v1/transactions", query, &payload); err != nil {
		return nil, err
	}

	txns := make([]model.Transaction, 0, len(payload.Transactions))
	for _, t := range payload.Transactions {
		txn, err := t.toModel()
		if err != nil {
			c.logger.Warn("skipping malformed transaction", "transaction_id", t.ID, "error", err)
			continue
		}
		txns = append(txns, txn)
	}
	return txns, nil
}

// Categories fetches the category catalog.
func (c *Client) Categories(ctx context.Context) ([]model.Category, error) {
	var payload struct {
		Categories []categoryJSON `json:"categories"`
	}
	if err := c.get(ctx, "/v1/categories", nil, &payload); err != nil {
		return nil, err
	}

	cats := make([]model.Category, 0, len(payload.Categories))
	for _, cat := range payload.Categories {
		cats = append(cats, model.Category{ID: cat.ID, Title: cat.Title, Parent: cat.Parent})
	}
	return cats, nil
}

// TransactionUpdate carries the fields to write back. The platform speaks
// category ids; title-to-id resolution happens before this call.
type TransactionUpdate struct {
	CategoryID *string  `json:"category_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// UpdateTransaction applies a categorization outcome to one transaction.
func (c *Client) UpdateTransaction(ctx context.Context, txnID string, upd TransactionUpdate) error {
	body, err := json.Marshal(map[string]any{"transaction": upd})
	if err != nil {
		return fmt.Errorf("failed to marshal update: %w", err)
	}

	return common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut,
			c.baseURL+"/v1/transactions/"+url.PathEscape(txnID), bytes.NewReader(body))
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("%w: %v", common.ErrLedgerConnection, err), Retryable: true}
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusNotFound {
			return &common.RetryableError{Err: fmt.Errorf("%w: transaction %s", common.ErrNotFound, txnID), Retryable: false}
		}
		if resp.StatusCode >= 500 {
			return &common.RetryableError{Err: fmt.Errorf("ledger API error (status %d)", resp.StatusCode), Retryable: true}
		}
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			respBody, _ := io.ReadAll(resp.Body)
			return &common.RetryableError{Err: fmt.Errorf("ledger API error (status %d): %s", resp.StatusCode, string(respBody)), Retryable: false}
		}
		return nil
	}, c.retryOpts)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	return common.WithRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("%w: %v", common.ErrLedgerConnection, err), Retryable: true}
		}
		defer func() { _ = resp.Body.Close() }()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to read response: %w", err), Retryable: true}
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return common.ErrRateLimit
		}
		if resp.StatusCode != http.StatusOK {
			retryable := resp.StatusCode >= 500
			return &common.RetryableError{Err: fmt.Errorf("ledger API error (status %d): %s", resp.StatusCode, string(body)), Retryable: retryable}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return &common.RetryableError{Err: fmt.Errorf("failed to parse response: %w", err), Retryable: false}
		}
		return nil
	}, c.retryOpts)
}

func (t transactionJSON) toModel() (model.Transaction, error) {
	date, err := time.Parse("2006-01-02", t.Date)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("bad date %q: %w", t.Date, err)
	}
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return model.Transaction{}, fmt.Errorf("bad amount %q: %w", t.Amount, err)
	}

	txn := model.Transaction{
		ID:        t.ID,
		Date:      date,
		Payee:     t.Payee,
		Amount:    amount,
		AccountID: t.AccountID,
		Labels:    t.Labels,
	}
	if t.Category != nil {
		txn.Category = &model.CategoryRef{ID: t.Category.ID, Title: t.Category.Title}
	}
	return txn, nil
}
