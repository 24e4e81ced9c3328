package llm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/brackendale/ledgerpilot/internal/common"
)

// Config holds configuration for the LLM delegate.
type Config struct {
	Provider    string
	APIKey      string
	Model       string
	MaxRetries  int
	RetryDelay  time.Duration
	CacheTTL    time.Duration
	RateLimit   int // requests per minute
	Temperature float64
	MaxTokens   int
}

// Delegate wraps a provider client with rate limiting, retries, and a
// prompt-keyed reply cache. It is the single suspension point of a batch
// run; everything on either side of it is pure evaluation.
type Delegate struct {
	client    Client
	limiter   *rate.Limiter
	cache     *gocache.Cache
	logger    *slog.Logger
	retryOpts common.RetryOptions
}

// NewDelegate creates a delegate for the configured provider.
func NewDelegate(cfg Config, logger *slog.Logger) (*Delegate, error) {
	var client Client
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		client, err = newAnthropicClient(cfg)
	case "openai":
		client, err = newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	return newDelegateWith(client, cfg, logger), nil
}

// newDelegateWith wires the wrapper around an existing client. Split out so
// tests can inject a fake transport.
func newDelegateWith(client Client, cfg Config, logger *slog.Logger) *Delegate {
	rpm := cfg.RateLimit
	if rpm <= 0 {
		rpm = 60
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	retryOpts := common.RetryOptions{
		MaxAttempts:  cfg.MaxRetries,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}

	return &Delegate{
		client:    client,
		limiter:   rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		cache:     gocache.New(ttl, 2*ttl),
		logger:    logger,
		retryOpts: retryOpts,
	}
}

// Complete dispatches one prompt, honoring the rate limit and retrying
// transient failures. Identical prompts within the cache TTL are served
// from cache without touching the provider.
func (d *Delegate) Complete(ctx context.Context, prompt string) (string, error) {
	key := promptKey(prompt)
	if cached, found := d.cache.Get(key); found {
		d.logger.Debug("delegate cache hit", "prompt_bytes", len(prompt))
		return cached.(string), nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit error: %w", err)
	}

	var reply string
	err := common.WithRetry(ctx, func() error {
		response, err := d.client.Complete(ctx, prompt)
		if err != nil {
			d.logger.Warn("delegate request attempt failed", "error", err)
			return &common.RetryableError{Err: err, Retryable: true}
		}
		reply = response
		return nil
	}, d.retryOpts)
	if err != nil {
		return "", fmt.Errorf("delegate request failed: %w", err)
	}

	d.cache.Set(key, reply, gocache.DefaultExpiration)
	return reply, nil
}

func promptKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%x", sum)
}
