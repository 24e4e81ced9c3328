package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/brackendale/ledgerpilot/internal/engine"
	"github.com/brackendale/ledgerpilot/internal/ledger"
	"github.com/brackendale/ledgerpilot/internal/llm"
	"github.com/brackendale/ledgerpilot/internal/model"
	"github.com/brackendale/ledgerpilot/internal/rules"
	"github.com/brackendale/ledgerpilot/internal/store"
)

func categorizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "categorize",
		Short: "Categorize transactions with rules and the LLM delegate",
		RunE:  runCategorize,
	}

	cmd.Flags().String("mode", "smart", "intelligence mode (conservative, smart, aggressive)")
	cmd.Flags().String("rules", "", "rule file (default: rules.yaml)")
	cmd.Flags().String("since", "", "only fetch transactions on or after this date (YYYY-MM-DD)")
	cmd.Flags().Bool("uncategorized", false, "only fetch transactions with no category")
	cmd.Flags().Bool("dry-run", false, "evaluate without writing anything back")
	cmd.Flags().Bool("auto-validate", false, "let the delegate confirm ask-user matches instead of listing them")
	cmd.Flags().Int("fan-out", 2, "concurrent delegate sub-batches")

	_ = viper.BindPFlag("engine.mode", cmd.Flags().Lookup("mode"))
	_ = viper.BindPFlag("rules.path", cmd.Flags().Lookup("rules"))

	return cmd
}

func runCategorize(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	mode, err := model.ParseIntelligenceMode(viper.GetString("engine.mode"))
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	autoValidate, _ := cmd.Flags().GetBool("auto-validate")
	fanOut, _ := cmd.Flags().GetInt("fan-out")

	rulePath := viper.GetString("rules.path")
	if rulePath == "" {
		rulePath = "rules.yaml"
	}
	set, err := rules.Load(rulePath)
	if err != nil {
		return err
	}
	slog.Info("loaded rules", "path", rulePath, "count", set.Len())

	client, err := ledger.New(ledger.Config{
		BaseURL: viper.GetString("ledger.base_url"),
		Token:   viper.GetString("ledger.token"),
	}, slog.Default())
	if err != nil {
		return err
	}

	delegate, err := llm.NewDelegate(llm.Config{
		Provider:   viper.GetString("llm.provider"),
		APIKey:     viper.GetString("llm.api_key"),
		Model:      viper.GetString("llm.model"),
		RateLimit:  viper.GetInt("llm.rate_limit"),
		MaxTokens:  viper.GetInt("llm.max_tokens"),
		CacheTTL:   viper.GetDuration("llm.cache_ttl"),
		MaxRetries: viper.GetInt("llm.max_retries"),
	}, slog.Default())
	if err != nil {
		return err
	}

	opts := ledger.TransactionOptions{}
	opts.Uncategorized, _ = cmd.Flags().GetBool("uncategorized")
	if sinceStr, _ := cmd.Flags().GetString("since"); sinceStr != "" {
		since, parseErr := time.Parse("2006-01-02", sinceStr)
		if parseErr != nil {
			return fmt.Errorf("invalid --since date: %w", parseErr)
		}
		opts.Since = &since
	}

	categories, err := client.Categories(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch categories: %w", err)
	}
	txns, err := client.Transactions(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to fetch transactions: %w", err)
	}
	if len(txns) == 0 {
		fmt.Println("No transactions to categorize.")
		return nil
	}
	slog.Info("fetched transactions", "count", len(txns), "mode", mode)

	eng := engine.New(set, categories, delegate, slog.Default())
	out, err := eng.Process(ctx, txns, engine.Options{
		Mode:         mode,
		FanOut:       fanOut,
		AutoValidate: autoValidate,
	})
	if err != nil {
		return err
	}

	if !dryRun {
		if err := applyResults(ctx, client, txns, out.Results, categories); err != nil {
			return err
		}
		if err := persistDeltas(ctx, out.Deltas); err != nil {
			return err
		}
	}

	printSummary(out, dryRun)
	return nil
}

// applyResults writes auto-resolved outcomes back to the platform. Conflict
// results are never applied; they are printed for review.
func applyResults(ctx context.Context, client *ledger.Client, txns []model.Transaction, results []model.Result, categories []model.Category) error {
	idByTitle := make(map[string]string, len(categories)*2)
	for _, cat := range categories {
		idByTitle[cat.Title] = cat.ID
		idByTitle[cat.Qualified()] = cat.ID
	}

	bar := progressbar.Default(int64(len(results)), "applying")
	applied := 0

	for i, res := range results {
		_ = bar.Add(1)
		if res.NeedsReview || res.Source == model.SourceNone {
			continue
		}

		upd := ledger.TransactionUpdate{Labels: res.Labels}
		if res.Category != nil {
			existing := ""
			if txns[i].Category != nil {
				existing = txns[i].Category.Title
			}
			if *res.Category != existing {
				id, ok := idByTitle[*res.Category]
				if !ok {
					slog.Warn("resolved category not in catalog, skipping",
						"transaction_id", res.TransactionID,
						"category", *res.Category)
					continue
				}
				upd.CategoryID = &id
			}
		}
		if upd.CategoryID == nil && len(upd.Labels) == 0 {
			continue
		}

		if err := client.UpdateTransaction(ctx, res.TransactionID, upd); err != nil {
			slog.Error("failed to update transaction",
				"transaction_id", res.TransactionID,
				"error", err)
			continue
		}
		applied++
	}

	slog.Info("applied results", "count", applied)
	return nil
}

func persistDeltas(ctx context.Context, deltas []model.UsageDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	st, err := store.Open(usageDBPath())
	if err != nil {
		return fmt.Errorf("failed to open usage store: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := st.ApplyDeltas(ctx, deltas); err != nil {
		return fmt.Errorf("failed to persist usage deltas: %w", err)
	}
	return nil
}

func usageDBPath() string {
	if path := viper.GetString("storage.path"); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "ledgerpilot.db"
	}
	return filepath.Join(home, ".local", "share", "ledgerpilot", "usage.db")
}

func printSummary(out *engine.Output, dryRun bool) {
	data, err := json.MarshalIndent(out.Stats, "", "  ")
	if err == nil {
		fmt.Println(string(data))
	}

	for _, res := range out.Results {
		if !res.NeedsReview {
			continue
		}
		existing := ""
		if res.Category != nil {
			existing = *res.Category
		}
		fmt.Printf("CONFLICT %s: kept %q, rule suggests %q\n",
			res.TransactionID, existing, res.SuggestedCategory)
	}

	for _, p := range out.Pending {
		fmt.Printf("PENDING %s (%s): rule %s suggests %q at %d%%\n",
			p.TransactionID, p.Payee, p.RuleID, p.Category, p.Confidence)
	}

	if dryRun {
		fmt.Println("Dry run: nothing was written back.")
	}
}
